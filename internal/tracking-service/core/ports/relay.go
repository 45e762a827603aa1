package ports

import (
	"context"

	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
)

// IEventRelay forwards received tracking events to other backends.
type IEventRelay interface {
	PublishEvent(ctx context.Context, ev websocketdto.Event) error
	IsAlive() bool
	Close() error
}
