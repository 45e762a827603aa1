package model

import (
	"net/url"
	"strings"
	"time"
)

type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

type TargetKind string

const (
	TargetRide          TargetKind = "ride"
	TargetShip          TargetKind = "ship"
	TargetNotifications TargetKind = "notifications"
)

// shipPrefix keeps ship schedule ids apart from taxi ride ids on the shared ride channel.
const shipPrefix = "ship_"

// Target is the entity a tracking session is bound to.
type Target struct {
	Kind TargetKind
	ID   string
}

func RideTarget(rideID string) Target {
	return Target{Kind: TargetRide, ID: rideID}
}

func ShipTarget(scheduleID string) Target {
	return Target{Kind: TargetShip, ID: scheduleID}
}

func NotificationsTarget() Target {
	return Target{Kind: TargetNotifications}
}

// RideID is the id the server knows the tracked entity by. Empty for the notification channel.
func (t Target) RideID() string {
	switch t.Kind {
	case TargetRide:
		return t.ID
	case TargetShip:
		return shipPrefix + t.ID
	default:
		return ""
	}
}

func (t Target) Path() string {
	if t.Kind == TargetNotifications || t.ID == "" {
		return "/ws/notifications/"
	}
	return "/ws/ride/" + url.PathEscape(t.RideID()) + "/"
}

func (t Target) URL(base string) string {
	return strings.TrimRight(base, "/") + t.Path()
}

func (t Target) String() string {
	if rid := t.RideID(); rid != "" {
		return string(t.Kind) + ":" + rid
	}
	return string(t.Kind)
}

// QueuedMessage is an outbound frame held while the socket is unavailable.
type QueuedMessage struct {
	Payload  []byte
	QueuedAt time.Time
}
