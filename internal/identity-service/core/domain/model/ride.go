package model

import (
	"strings"
	"time"
)

// RideReference is an opaque booking id. The empty value means no ride.
type RideReference string

func (r RideReference) String() string { return string(r) }

type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonNoCurrentRide           Reason = "no_current_ride"
	ReasonRideNotFound            Reason = "ride_not_found"
	ReasonRideCompletedOrInactive Reason = "ride_completed_or_inactive"
	ReasonStatusCheckFailed       Reason = "status_check_failed"
	ReasonValidationError         Reason = "validation_error"
)

// StatusReason is the reason reported for a terminal remote status.
func StatusReason(status string) Reason {
	return Reason("ride_status_" + strings.ToLower(status))
}

var terminalStatuses = map[string]struct{}{
	"completed": {},
	"cancelled": {},
	"expired":   {},
	"failed":    {},
}

func IsTerminalStatus(status string) bool {
	_, ok := terminalStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

type ValidationResult struct {
	Valid         bool
	Reason        Reason
	NewRideNeeded bool
}

type Location struct {
	Lat float64
	Lng float64
}

const (
	DefaultVehicleType    = "standard"
	DefaultPassengerCount = 1
)

type BookingParams struct {
	Pickup         *Location
	Destination    *Location
	VehicleType    string
	PassengerCount int
}

// HasPickup reports whether p can be used to book a new ride.
func (p *BookingParams) HasPickup() bool {
	return p != nil && p.Pickup != nil
}

func (p BookingParams) WithDefaults() BookingParams {
	if p.VehicleType == "" {
		p.VehicleType = DefaultVehicleType
	}
	if p.PassengerCount <= 0 {
		p.PassengerCount = DefaultPassengerCount
	}
	return p
}

type QuickRide struct {
	RideID        RideReference
	Status        string
	EstimatedFare *float64
	ETAMinutes    *float64
}

type EnsureResult struct {
	RideID RideReference
	IsNew  bool
}

type RealtimeStatus struct {
	RideID         RideReference
	Status         string
	DriverLocation *Location
	ETAMinutes     *float64
	IsActive       bool
	IsCompleted    bool
	LastUpdated    time.Time
}

// StatusEntry is the cached result of the last successful status fetch.
type StatusEntry struct {
	Status      string
	LastChecked time.Time
}
