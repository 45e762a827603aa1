package services

import (
	"ride-tracker/internal/tracking-service/core/domain/model"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
)

// handleMessage parses one inbound frame and fans it out: OnMessage and every
// subscriber always see it, then the single typed handler for its kind.
// Malformed frames are logged and dropped without touching connection state.
func (m *ConnectionManager) handleMessage(data []byte) {
	log := m.log.Action("handle_message")

	ev, err := websocketdto.ParseEvent(data, m.now())
	if err != nil {
		log.Warn("dropping malformed message", "error", err, "size", len(data))
		return
	}

	m.mu.Lock()
	h := m.handlers
	subs := make([]model.EventHandler, 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	if h.OnMessage != nil {
		m.invoke("onMessage", func() { h.OnMessage(ev) })
	}
	for _, fn := range subs {
		m.invoke("subscriber", func() { fn(ev) })
	}

	handler, known := h.ForType(ev.Type)
	switch {
	case !known:
		log.Info("ignoring unrecognized message type", "type", ev.Type)
	case ev.Type == websocketdto.MessageTypePong:
		log.Debug("heartbeat acknowledged")
	case handler != nil:
		m.invoke(ev.Type, func() { handler(ev) })
	}
}
