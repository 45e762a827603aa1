package model

import (
	"time"

	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
)

type EventHandler func(websocketdto.Event)

// Handlers is the optional callback set a subscriber registers.
// Merge keeps existing callbacks for every field the update leaves nil.
type Handlers struct {
	OnConnect      func()
	OnDisconnect   func(code int, reason string)
	OnReconnecting func(attempt int, delay time.Duration)
	OnError        func(err error)
	OnMessage      EventHandler

	OnTaxiUpdate       EventHandler
	OnShipUpdate       EventHandler
	OnNotification     EventHandler
	OnRideStatusUpdate EventHandler
	OnDriverAssigned   EventHandler
	OnLocationUpdate   EventHandler
	OnFareUpdate       EventHandler
	OnEmergencyAlert   EventHandler
	OnSystemMessage    EventHandler
}

func (h Handlers) Merge(update Handlers) Handlers {
	if update.OnConnect != nil {
		h.OnConnect = update.OnConnect
	}
	if update.OnDisconnect != nil {
		h.OnDisconnect = update.OnDisconnect
	}
	if update.OnReconnecting != nil {
		h.OnReconnecting = update.OnReconnecting
	}
	if update.OnError != nil {
		h.OnError = update.OnError
	}
	if update.OnMessage != nil {
		h.OnMessage = update.OnMessage
	}
	if update.OnTaxiUpdate != nil {
		h.OnTaxiUpdate = update.OnTaxiUpdate
	}
	if update.OnShipUpdate != nil {
		h.OnShipUpdate = update.OnShipUpdate
	}
	if update.OnNotification != nil {
		h.OnNotification = update.OnNotification
	}
	if update.OnRideStatusUpdate != nil {
		h.OnRideStatusUpdate = update.OnRideStatusUpdate
	}
	if update.OnDriverAssigned != nil {
		h.OnDriverAssigned = update.OnDriverAssigned
	}
	if update.OnLocationUpdate != nil {
		h.OnLocationUpdate = update.OnLocationUpdate
	}
	if update.OnFareUpdate != nil {
		h.OnFareUpdate = update.OnFareUpdate
	}
	if update.OnEmergencyAlert != nil {
		h.OnEmergencyAlert = update.OnEmergencyAlert
	}
	if update.OnSystemMessage != nil {
		h.OnSystemMessage = update.OnSystemMessage
	}
	return h
}

// ForType returns the typed callback for a message kind. known is false for
// kinds this client does not understand.
func (h Handlers) ForType(t string) (handler EventHandler, known bool) {
	switch t {
	case websocketdto.MessageTypeTaxiUpdate:
		return h.OnTaxiUpdate, true
	case websocketdto.MessageTypeRideStatusUpdate, websocketdto.MessageTypeRideStatus:
		return h.OnRideStatusUpdate, true
	case websocketdto.MessageTypeDriverLocation, websocketdto.MessageTypeLocationUpdate,
		websocketdto.MessageTypeDriverLocationUpdate, websocketdto.MessageTypeVesselLocation:
		return h.OnLocationUpdate, true
	case websocketdto.MessageTypeDriverAssigned:
		return h.OnDriverAssigned, true
	case websocketdto.MessageTypeFareUpdate:
		return h.OnFareUpdate, true
	case websocketdto.MessageTypeShipUpdate:
		return h.OnShipUpdate, true
	case websocketdto.MessageTypeNotification:
		return h.OnNotification, true
	case websocketdto.MessageTypeEmergencyAlert:
		return h.OnEmergencyAlert, true
	case websocketdto.MessageTypeSystemMessage:
		return h.OnSystemMessage, true
	case websocketdto.MessageTypePong:
		return nil, true
	default:
		return nil, false
	}
}
