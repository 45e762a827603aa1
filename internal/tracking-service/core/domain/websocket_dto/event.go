package websocketdto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Inbound message types
const (
	MessageTypeTaxiUpdate           = "taxi_update"
	MessageTypeRideStatusUpdate     = "ride_status_update"
	MessageTypeRideStatus           = "ride_status"
	MessageTypeDriverLocation       = "driver_location"
	MessageTypeDriverLocationUpdate = "driver_location_update"
	MessageTypeLocationUpdate       = "location_update"
	MessageTypeDriverAssigned       = "driver_assigned"
	MessageTypeFareUpdate           = "fare_update"
	MessageTypeShipUpdate           = "ship_update"
	MessageTypeVesselLocation       = "vessel_location"
	MessageTypeNotification         = "notification"
	MessageTypeEmergencyAlert       = "emergency_alert"
	MessageTypeSystemMessage        = "system_message"
	MessageTypePong                 = "pong"
)

// Outbound message types
const (
	MessageTypeAuth                  = "authenticate"
	MessageTypePing                  = "ping"
	MessageTypeRequestLocationUpdate = "request_location_update"
	MessageTypeRequestStatusUpdate   = "request_status_update"
)

var ErrMissingType = errors.New("message has no type")

// envelope is the wire shape of every inbound frame. Payload lives in data,
// older servers put it in message.
type envelope struct {
	Type    string          `json:"type"`
	RideID  string          `json:"ride_id,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
}

// Event is a normalized inbound message.
type Event struct {
	Type       string
	RideID     string
	Data       json.RawMessage
	Raw        json.RawMessage
	ReceivedAt time.Time
}

func ParseEvent(raw []byte, receivedAt time.Time) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Event{}, ErrMissingType
	}

	ev := Event{
		Type:       strings.ToLower(env.Type),
		RideID:     env.RideID,
		Raw:        append(json.RawMessage(nil), raw...),
		ReceivedAt: receivedAt,
	}

	switch {
	case present(env.Data):
		ev.Data = env.Data
	case present(env.Message):
		ev.Data = env.Message
	default:
		ev.Data = ev.Raw
	}

	if ev.RideID == "" {
		var ref struct {
			RideID string `json:"ride_id"`
		}
		if json.Unmarshal(ev.Data, &ref) == nil {
			ev.RideID = ref.RideID
		}
	}
	return ev, nil
}

func present(r json.RawMessage) bool {
	return len(r) > 0 && !bytes.Equal(bytes.TrimSpace(r), []byte("null"))
}

// Decode unmarshals the normalized payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// RideStatus extracts a ride status from status-carrying kinds.
func (e Event) RideStatus() (RideStatusPayload, bool) {
	switch e.Type {
	case MessageTypeTaxiUpdate, MessageTypeRideStatusUpdate, MessageTypeRideStatus, MessageTypeShipUpdate:
	default:
		return RideStatusPayload{}, false
	}

	var p RideStatusPayload
	if err := e.Decode(&p); err != nil || p.Status == "" {
		return RideStatusPayload{}, false
	}
	if p.RideID == "" {
		p.RideID = e.RideID
	}
	return p, true
}

func (e Event) Location() (LocationPayload, bool) {
	switch e.Type {
	case MessageTypeDriverLocation, MessageTypeDriverLocationUpdate, MessageTypeLocationUpdate, MessageTypeVesselLocation:
	default:
		return LocationPayload{}, false
	}

	var p LocationPayload
	if err := e.Decode(&p); err != nil {
		return LocationPayload{}, false
	}
	p.normalize()
	if p.RideID == "" {
		p.RideID = e.RideID
	}
	return p, true
}
