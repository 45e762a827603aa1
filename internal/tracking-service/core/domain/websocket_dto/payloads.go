package websocketdto

import "time"

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Vehicle struct {
	Make  string `json:"make"`
	Model string `json:"model"`
	Color string `json:"color"`
	Plate string `json:"plate"`
}

type DriverInfo struct {
	DriverID string  `json:"driver_id"`
	Name     string  `json:"name"`
	Phone    string  `json:"phone,omitempty"`
	Rating   float64 `json:"rating"`
	Vehicle  Vehicle `json:"vehicle"`
}

// taxi_update, ride_status, ride_status_update, ship_update
type RideStatusPayload struct {
	RideID     string   `json:"ride_id"`
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	ETAMinutes *float64 `json:"eta,omitempty"`
}

// driver_location, location_update, vessel_location. Older servers send flat
// latitude/longitude instead of a location object.
type LocationPayload struct {
	RideID         string    `json:"ride_id"`
	Location       *Location `json:"location,omitempty"`
	Latitude       float64   `json:"latitude,omitempty"`
	Longitude      float64   `json:"longitude,omitempty"`
	SpeedKmh       float64   `json:"speed_kmh,omitempty"`
	HeadingDegrees float64   `json:"heading_degrees,omitempty"`
	ETAMinutes     *float64  `json:"eta,omitempty"`
}

func (p *LocationPayload) normalize() {
	if p.Location == nil {
		p.Location = &Location{Lat: p.Latitude, Lng: p.Longitude}
	}
	p.Latitude, p.Longitude = p.Location.Lat, p.Location.Lng
}

type DriverAssignedPayload struct {
	RideID     string     `json:"ride_id"`
	DriverInfo DriverInfo `json:"driver_info"`
	ETAMinutes *float64   `json:"eta,omitempty"`
}

type FarePayload struct {
	RideID   string  `json:"ride_id"`
	Fare     float64 `json:"fare"`
	Currency string  `json:"currency,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Level string `json:"level,omitempty"`
}

// Outgoing is the frame shape every client-originated message uses.
type Outgoing struct {
	Type          string `json:"type"`
	RideID        string `json:"ride_id,omitempty"`
	Data          any    `json:"data,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// AuthMessage is sent first on every freshly opened socket.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type EmergencyAlert struct {
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Location *Location `json:"location,omitempty"`
	RaisedAt time.Time `json:"raised_at"`
}
