package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ride-tracker/internal/identity-service/core/domain/dto"
	"ride-tracker/internal/identity-service/core/domain/model"
	"ride-tracker/internal/identity-service/core/myerrors"
	"ride-tracker/internal/mylogger"

	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL + "/", Token: "tok", Timeout: time.Second}, mylogger.Nop())
}

func writeEnvelope(w http.ResponseWriter, status int, env dto.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func TestCreateBooking(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/rides/quick-book/", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req dto.CreateBookingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, 43.25, req.PickupLocation.Latitude)
		require.Nil(t, req.DestinationLocation)
		require.Equal(t, "standard", req.VehicleType)

		writeEnvelope(w, http.StatusCreated, dto.Envelope{
			Success: true,
			Data:    json.RawMessage(`{"ride_id":"abc","status":"REQUESTED","estimated_fare":1450}`),
		})
	})

	ride, err := c.CreateBooking(context.Background(), model.BookingParams{
		Pickup:      &model.Location{Lat: 43.25, Lng: 76.95},
		VehicleType: "standard",
	})
	require.NoError(t, err)
	require.Equal(t, model.RideReference("abc"), ride.RideID)
	require.Equal(t, "REQUESTED", ride.Status)
	require.NotNil(t, ride.EstimatedFare)
	require.Equal(t, 1450.0, *ride.EstimatedFare)
}

func TestGetRealtimeStatus(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/rides/r-1/realtime-status/", r.URL.Path)
		writeEnvelope(w, http.StatusOK, dto.Envelope{
			Success: true,
			Data: json.RawMessage(`{"status":"EN_ROUTE","is_active":true,"is_completed":false,
				"driver_location":{"latitude":1.5,"longitude":2.5},"last_updated":"2026-01-02T03:04:05Z"}`),
		})
	})

	st, err := c.GetRealtimeStatus(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, model.RideReference("r-1"), st.RideID)
	require.True(t, st.IsActive)
	require.False(t, st.IsCompleted)
	require.Equal(t, &model.Location{Lat: 1.5, Lng: 2.5}, st.DriverLocation)
}

func TestGetRealtimeStatusToleratesOddTimestamps(t *testing.T) {
	tests := []struct {
		name        string
		lastUpdated string
		want        time.Time
	}{
		{"rfc3339", `"2024-05-01T10:00:00Z"`, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)},
		{"naive datetime", `"2024-05-01T10:00:00.123456"`, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)},
		{"empty string", `""`, time.Time{}},
		{"unix seconds", `1714557600`, time.Unix(1714557600, 0).UTC()},
		{"garbage", `"yesterday"`, time.Time{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, http.StatusOK, dto.Envelope{
					Success: true,
					Data: json.RawMessage(`{"ride_id":"r-1","status":"in_progress","is_active":true,` +
						`"is_completed":false,"last_updated":` + tt.lastUpdated + `}`),
				})
			})

			st, err := c.GetRealtimeStatus(context.Background(), "r-1")
			require.NoError(t, err)
			require.True(t, st.IsActive)
			require.Equal(t, "in_progress", st.Status)
			require.True(t, tt.want.Equal(st.LastUpdated), "got %s", st.LastUpdated)
		})
	}
}

func TestNotFoundMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		env      dto.Envelope
		notFound bool
	}{
		{"404 with code", http.StatusNotFound, dto.Envelope{Error: "Ride not found", ErrorCode: "RIDE_NOT_FOUND"}, true},
		{"404 without code", http.StatusNotFound, dto.Envelope{Error: "no route"}, false},
		{"error code", http.StatusOK, dto.Envelope{Error: "Ride not found", ErrorCode: "RIDE_NOT_FOUND"}, true},
		{"other failure", http.StatusBadRequest, dto.Envelope{Error: "bad ride id", ErrorCode: "INVALID"}, false},
		{"server error", http.StatusInternalServerError, dto.Envelope{Error: "oops"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, tt.env)
			})
			_, err := c.GetRealtimeStatus(context.Background(), "r-1")
			require.Error(t, err)
			require.Equal(t, tt.notFound, errors.Is(err, myerrors.ErrRideNotFound))

			var apiErr *myerrors.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.env.Error, apiErr.Message)
		})
	}
}

func TestBare404IsRideNotFound(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, err := c.GetRealtimeStatus(context.Background(), "r-1")
	require.ErrorIs(t, err, myerrors.ErrRideNotFound)

	var apiErr *myerrors.APIError
	require.ErrorAs(t, err, &apiErr)
	require.False(t, apiErr.Enveloped)
}

func TestMalformedResponse(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`<html>proxy error</html>`))
	})
	_, err := c.GetRealtimeStatus(context.Background(), "r-1")
	require.ErrorIs(t, err, myerrors.ErrMalformedResponse)

	c = newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, dto.Envelope{Success: true, Data: json.RawMessage(`{"is_active":"yes"}`)})
	})
	_, err = c.GetRealtimeStatus(context.Background(), "r-1")
	require.ErrorIs(t, err, myerrors.ErrMalformedResponse)
}

func TestCancelBooking(t *testing.T) {
	var got dto.CancelBookingRequest
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/rides/r-1/cancel/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEnvelope(w, http.StatusOK, dto.Envelope{Success: true})
	})

	require.NoError(t, c.CancelBooking(context.Background(), "r-1", "changed plans"))
	require.Equal(t, "changed plans", got.Reason)
}
