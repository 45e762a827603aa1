package services

import (
	"context"
	"testing"
	"time"

	"ride-tracker/internal/identity-service/core/domain/model"

	"github.com/stretchr/testify/require"
)

func TestMemoryStatusCacheExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryStatusCache(30 * time.Second)
	c.now = func() time.Time { return now }

	c.Put(ctx, "r-1", model.StatusEntry{Status: "EN_ROUTE", LastChecked: now})

	now = now.Add(29 * time.Second)
	e, ok := c.Get(ctx, "r-1")
	require.True(t, ok)
	require.Equal(t, "EN_ROUTE", e.Status)

	now = now.Add(time.Second)
	_, ok = c.Get(ctx, "r-1")
	require.False(t, ok)

	c.Put(ctx, "r-2", model.StatusEntry{Status: "MATCHED", LastChecked: now})
	require.Len(t, c.entries, 1)
}
