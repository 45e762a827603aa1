package ports

import (
	"context"

	"ride-tracker/internal/identity-service/core/domain/model"
)

type IBookingAPI interface {
	CreateBooking(ctx context.Context, params model.BookingParams) (model.QuickRide, error)
	GetRealtimeStatus(ctx context.Context, rideID model.RideReference) (model.RealtimeStatus, error)
	CancelBooking(ctx context.Context, rideID model.RideReference, reason string) error
}

// IKeyValueStore persists small string values. A missing key is reported as
// ok=false with a nil error.
type IKeyValueStore interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Close() error
}

// IStatusCache holds the last fetched status per ride. Expired entries are
// reported as missing.
type IStatusCache interface {
	Get(ctx context.Context, rideID model.RideReference) (model.StatusEntry, bool)
	Put(ctx context.Context, rideID model.RideReference, entry model.StatusEntry)
}
