package dto

import "encoding/json"

// Envelope wraps every booking API response.
type Envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorCode string          `json:"error_code,omitempty"`
}

type LocationDto struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type CreateBookingRequest struct {
	PickupLocation      LocationDto  `json:"pickup_location"`
	DestinationLocation *LocationDto `json:"destination_location,omitempty"`
	VehicleType         string       `json:"vehicle_type"`
	PassengerCount      int          `json:"passenger_count"`
}

type CreateBookingResponse struct {
	RideID        string   `json:"ride_id"`
	Status        string   `json:"status"`
	EstimatedFare *float64 `json:"estimated_fare,omitempty"`
	ETAMinutes    *float64 `json:"eta,omitempty"`
}

type RealtimeStatusResponse struct {
	RideID         string       `json:"ride_id"`
	Status         string       `json:"status"`
	DriverLocation *LocationDto `json:"driver_location,omitempty"`
	ETAMinutes     *float64     `json:"eta,omitempty"`
	IsActive       bool         `json:"is_active"`
	IsCompleted    bool         `json:"is_completed"`
	LastUpdated    Timestamp    `json:"last_updated"`
}

type CancelBookingRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CancelBookingResponse struct {
	RideID      string    `json:"ride_id"`
	Status      string    `json:"status"`
	CancelledAt Timestamp `json:"cancelled_at"`
}
