package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ride-tracker/internal/mylogger"
	"ride-tracker/internal/tracking-service/core/domain/model"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
	"ride-tracker/internal/tracking-service/core/myerrors"
	"ride-tracker/internal/tracking-service/core/ports"

	"github.com/google/uuid"
)

type ManagerConfig struct {
	BaseURL              string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	LocationInterval     time.Duration
	StatusSyncInterval   time.Duration
	QueueCapacity        int
	HandshakeTimeout     time.Duration
}

func DefaultManagerConfig(baseURL string) ManagerConfig {
	return ManagerConfig{
		BaseURL:              baseURL,
		MaxReconnectAttempts: 10,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		LocationInterval:     5 * time.Second,
		StatusSyncInterval:   10 * time.Second,
		QueueCapacity:        100,
		HandshakeTimeout:     10 * time.Second,
	}
}

// ConnectionManager owns at most one live socket for one tracking target.
// Every field below mu is private state; callers only see it through methods.
type ConnectionManager struct {
	cfg    ManagerConfig
	dialer ports.IDialer
	log    mylogger.Logger
	now    func() time.Time

	mu        sync.Mutex
	state     model.ConnectionState
	target    model.Target
	hasTarget bool
	socket    ports.ISocket
	// gen changes whenever the current socket stops being current, so events
	// from a replaced socket can be recognised and ignored.
	gen      uint64
	attempts int
	token    string
	closed   bool

	handlers    model.Handlers
	subscribers map[int]model.EventHandler
	nextSub     int

	queue          *MessageQueue
	reconnectTimer *time.Timer
	heartbeat      *intervalLoop
	locationLoop   *intervalLoop
	statusLoop     *intervalLoop
	// requested sync intervals, kept across reconnects so the loops re-arm
	locationEvery time.Duration
	statusEvery   time.Duration
}

func NewConnectionManager(cfg ManagerConfig, dialer ports.IDialer, log mylogger.Logger) *ConnectionManager {
	def := DefaultManagerConfig(cfg.BaseURL)
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if cfg.LocationInterval <= 0 {
		cfg.LocationInterval = def.LocationInterval
	}
	if cfg.StatusSyncInterval <= 0 {
		cfg.StatusSyncInterval = def.StatusSyncInterval
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = def.QueueCapacity
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if log == nil {
		log = mylogger.Nop()
	}

	return &ConnectionManager{
		cfg:         cfg,
		dialer:      dialer,
		log:         log,
		now:         time.Now,
		state:       model.StateDisconnected,
		subscribers: make(map[int]model.EventHandler),
		queue:       NewMessageQueue(cfg.QueueCapacity),
	}
}

func (m *ConnectionManager) State() model.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *ConnectionManager) Target() (model.Target, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target, m.hasTarget
}

func (m *ConnectionManager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Len()
}

// QueuedMessages returns the offline queue oldest first.
func (m *ConnectionManager) QueuedMessages() []model.QueuedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.Snapshot()
}

func (m *ConnectionManager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// SetHandlers merges h into the registered callbacks.
func (m *ConnectionManager) SetHandlers(h model.Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = m.handlers.Merge(h)
}

// Subscribe registers fn for every inbound event and returns its cancel func.
func (m *ConnectionManager) Subscribe(fn model.EventHandler) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subscribers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// SetAuthToken stores the token sent as the first frame of every connection.
// An empty token disables in-band auth.
func (m *ConnectionManager) SetAuthToken(token string) error {
	if token != "" {
		if err := checkAuthToken(token, m.now()); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

// Connect opens a socket for target and blocks until it is open or failed.
// A manual Connect is also the only way out of the error state.
func (m *ConnectionManager) Connect(ctx context.Context, target model.Target) error {
	log := m.log.Action("connect").With("target", target.String())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return myerrors.ErrManagerClosed
	}
	if m.hasTarget && m.target != target && m.state != model.StateDisconnected && m.state != model.StateError {
		m.mu.Unlock()
		return myerrors.ErrTargetActive
	}
	switch m.state {
	case model.StateConnected:
		m.mu.Unlock()
		return nil
	case model.StateConnecting:
		m.mu.Unlock()
		return myerrors.ErrConnectInProgress
	}

	m.stopReconnectTimerLocked()
	m.target = target
	m.hasTarget = true
	m.attempts = 0
	gen := m.beginDialLocked()
	url := target.URL(m.cfg.BaseURL)
	m.mu.Unlock()

	log.Info("dialing", "url", url)
	sock, err := m.dialer.Dial(ctx, url)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", url, err)
	}
	return m.finishDial(gen, sock, err, true)
}

// Disconnect is the cancellation primitive: it stops every timer, forgets the
// target and closes the socket with a normal-closure code.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	prev := m.state
	sock := m.teardownLocked()
	m.gen++
	m.state = model.StateDisconnected
	m.hasTarget = false
	m.attempts = 0
	m.locationEvery = 0
	m.statusEvery = 0
	onDisconnect := m.handlers.OnDisconnect
	m.mu.Unlock()

	if sock != nil {
		if err := sock.Close(myerrors.CloseNormalClosure, "manual"); err != nil {
			m.log.Action("disconnect").Debug("close after disconnect", "error", err)
		}
	}
	if prev != model.StateDisconnected {
		m.log.Action("disconnect").Info("disconnected", "previous_state", prev)
		if onDisconnect != nil {
			m.invoke("onDisconnect", func() { onDisconnect(myerrors.CloseNormalClosure, "manual") })
		}
	}
}

// Close disconnects and refuses further Connect calls.
func (m *ConnectionManager) Close() error {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Send writes msg if connected. Otherwise, or if the write fails, msg is
// queued for the next successful connection and Send reports false.
func (m *ConnectionManager) Send(msg any) bool {
	log := m.log.Action("send")
	data, err := encode(msg)
	if err != nil {
		log.Error("cannot encode message", err)
		return false
	}

	m.mu.Lock()
	if m.state != model.StateConnected || m.socket == nil {
		m.enqueueLocked(data)
		m.mu.Unlock()
		return false
	}
	sock := m.socket
	m.mu.Unlock()

	if err := sock.Write(data); err != nil {
		log.Warn("write failed, queueing", "error", err)
		m.enqueue(data)
		return false
	}
	return true
}

// SendEmergencyAlert writes to whatever socket exists, even mid-reconnect,
// and only queues when there is no socket or the write fails.
func (m *ConnectionManager) SendEmergencyAlert(alert websocketdto.EmergencyAlert) bool {
	log := m.log.Action("send_emergency")
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = m.now()
	}

	m.mu.Lock()
	msg := websocketdto.Outgoing{
		Type:          websocketdto.MessageTypeEmergencyAlert,
		RideID:        m.target.RideID(),
		Data:          alert,
		Timestamp:     m.now().UnixMilli(),
		CorrelationID: uuid.NewString(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.mu.Unlock()
		log.Error("cannot encode emergency alert", err)
		return false
	}
	sock := m.socket
	if sock == nil {
		m.enqueueLocked(data)
		m.mu.Unlock()
		log.Warn("no socket, emergency alert queued")
		return false
	}
	m.mu.Unlock()

	if err := sock.Write(data); err != nil {
		log.Error("emergency write failed, queueing", err)
		m.enqueue(data)
		return false
	}
	log.Info("emergency alert sent", "correlation_id", msg.CorrelationID)
	return true
}

func (m *ConnectionManager) StartLocationUpdates(interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.LocationInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locationEvery = interval
	m.locationLoop.Stop()
	m.locationLoop = startLoop(interval, m.requestLocation)
}

func (m *ConnectionManager) StopLocationUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locationEvery = 0
	m.locationLoop.Stop()
	m.locationLoop = nil
}

func (m *ConnectionManager) StartStatusSync(interval time.Duration) {
	if interval <= 0 {
		interval = m.cfg.StatusSyncInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusEvery = interval
	m.statusLoop.Stop()
	m.statusLoop = startLoop(interval, m.requestStatus)
}

func (m *ConnectionManager) StopStatusSync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusEvery = 0
	m.statusLoop.Stop()
	m.statusLoop = nil
}

func (m *ConnectionManager) requestLocation() {
	m.sendIfConnected(websocketdto.MessageTypeRequestLocationUpdate)
}

func (m *ConnectionManager) requestStatus() {
	m.sendIfConnected(websocketdto.MessageTypeRequestStatusUpdate)
}

func (m *ConnectionManager) sendHeartbeat() {
	m.sendIfConnected(websocketdto.MessageTypePing)
}

// sendIfConnected is used by the periodic loops; while not connected the tick
// is skipped rather than queued.
func (m *ConnectionManager) sendIfConnected(msgType string) {
	m.mu.Lock()
	if m.state != model.StateConnected || m.socket == nil {
		m.mu.Unlock()
		return
	}
	sock := m.socket
	data, err := json.Marshal(websocketdto.Outgoing{
		Type:      msgType,
		RideID:    m.target.RideID(),
		Timestamp: m.now().UnixMilli(),
	})
	m.mu.Unlock()
	if err != nil {
		return
	}

	if err := sock.Write(data); err != nil {
		m.log.Action("periodic_send").Warn("write failed", "type", msgType, "error", err)
	}
}

func (m *ConnectionManager) beginDialLocked() uint64 {
	m.gen++
	m.state = model.StateConnecting
	return m.gen
}

// finishDial completes a dial started under generation gen.
func (m *ConnectionManager) finishDial(gen uint64, sock ports.ISocket, dialErr error, manual bool) error {
	log := m.log.Action("connect")

	if dialErr == nil {
		// Authenticate before the socket becomes visible to Send, so the auth
		// frame is always first on the wire.
		m.mu.Lock()
		token := m.token
		m.mu.Unlock()
		if token != "" {
			auth, _ := json.Marshal(websocketdto.AuthMessage{Type: websocketdto.MessageTypeAuth, Token: token})
			if err := sock.Write(auth); err != nil {
				_ = sock.Close(myerrors.CloseAbnormalClosure, "auth write failed")
				dialErr = fmt.Errorf("send auth: %w", err)
			}
		}
	}

	m.mu.Lock()
	if gen != m.gen || m.state != model.StateConnecting {
		m.mu.Unlock()
		if sock != nil && dialErr == nil {
			_ = sock.Close(myerrors.CloseNormalClosure, "superseded")
		}
		return myerrors.ErrConnectAborted
	}

	if dialErr != nil {
		if manual {
			m.state = model.StateError
			onError := m.handlers.OnError
			m.mu.Unlock()
			log.Error("connect failed", dialErr)
			if onError != nil {
				m.invoke("onError", func() { onError(dialErr) })
			}
			return dialErr
		}

		log.Warn("reconnect attempt failed", "attempt", m.attempts, "error", dialErr)
		notify := m.scheduleReconnectLocked()
		m.mu.Unlock()
		notify()
		return dialErr
	}

	old := m.socket
	m.socket = sock
	m.state = model.StateConnected
	m.attempts = 0
	m.heartbeat.Stop()
	m.heartbeat = startLoop(m.cfg.HeartbeatInterval, m.sendHeartbeat)
	if m.locationEvery > 0 && m.locationLoop == nil {
		m.locationLoop = startLoop(m.locationEvery, m.requestLocation)
	}
	if m.statusEvery > 0 && m.statusLoop == nil {
		m.statusLoop = startLoop(m.statusEvery, m.requestStatus)
	}
	pending := m.queue.Drain()
	onConnect := m.handlers.OnConnect
	target := m.target
	m.mu.Unlock()

	if old != nil && old != sock {
		_ = old.Close(myerrors.CloseNormalClosure, "replaced")
	}

	go m.readLoop(gen, sock)

	log.Info("connected", "target", target.String(), "flushing", len(pending))
	m.flush(sock, pending)

	if onConnect != nil {
		m.invoke("onConnect", onConnect)
	}
	return nil
}

// flush drains queued frames in order. A failed frame goes back on the queue
// and the drain continues.
func (m *ConnectionManager) flush(sock ports.ISocket, pending []model.QueuedMessage) {
	for _, msg := range pending {
		if err := sock.Write(msg.Payload); err != nil {
			m.log.Action("flush").Warn("re-queueing message", "error", err)
			m.mu.Lock()
			m.queue.push(msg)
			m.mu.Unlock()
		}
	}
}

func (m *ConnectionManager) readLoop(gen uint64, sock ports.ISocket) {
	for {
		data, err := sock.Read()
		if err != nil {
			m.handleClose(gen, err)
			return
		}

		m.mu.Lock()
		current := gen == m.gen
		m.mu.Unlock()
		if !current {
			return
		}
		m.handleMessage(data)
	}
}

func (m *ConnectionManager) handleClose(gen uint64, err error) {
	code, reason := myerrors.CloseDetails(err)
	log := m.log.Action("socket_closed").With("code", code, "reason", reason)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.heartbeat.Stop()
	m.heartbeat = nil
	m.locationLoop.Stop()
	m.locationLoop = nil
	m.statusLoop.Stop()
	m.statusLoop = nil
	onDisconnect := m.handlers.OnDisconnect

	if code == myerrors.CloseNormalClosure {
		m.state = model.StateDisconnected
		sock := m.socket
		m.socket = nil
		m.mu.Unlock()
		if sock != nil {
			_ = sock.Close(myerrors.CloseNormalClosure, "closed by server")
		}
		log.Info("closed normally")
		if onDisconnect != nil {
			m.invoke("onDisconnect", func() { onDisconnect(code, reason) })
		}
		return
	}

	notify := m.scheduleReconnectLocked()
	m.mu.Unlock()

	log.Warn("connection lost")
	if onDisconnect != nil {
		m.invoke("onDisconnect", func() { onDisconnect(code, reason) })
	}
	notify()
}

// scheduleReconnectLocked arms the next retry, or moves to the error state
// once the attempt budget is spent. The returned func fires the callbacks and
// must be called after mu is released.
func (m *ConnectionManager) scheduleReconnectLocked() func() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.state = model.StateError
		onError := m.handlers.OnError
		attempts := m.attempts
		// the last socket is only kept for emergency sends while retrying
		stale := m.socket
		m.socket = nil
		return func() {
			if stale != nil {
				_ = stale.Close(myerrors.CloseNormalClosure, "reconnect exhausted")
			}
			m.log.Action("reconnect").Error("giving up", myerrors.ErrReconnectExhausted, "attempts", attempts)
			if onError != nil {
				m.invoke("onError", func() { onError(myerrors.ErrReconnectExhausted) })
			}
		}
	}

	m.attempts++
	attempt := m.attempts
	delay := ReconnectDelay(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay, attempt)
	m.state = model.StateReconnecting
	gen := m.gen
	m.stopReconnectTimerLocked()
	m.reconnectTimer = time.AfterFunc(delay, func() { m.reconnect(gen) })
	onReconnecting := m.handlers.OnReconnecting

	return func() {
		m.log.Action("reconnect").Info("scheduled", "attempt", attempt, "delay", delay.String())
		if onReconnecting != nil {
			m.invoke("onReconnecting", func() { onReconnecting(attempt, delay) })
		}
	}
}

func (m *ConnectionManager) reconnect(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != model.StateReconnecting || m.closed {
		m.mu.Unlock()
		return
	}
	m.reconnectTimer = nil
	next := m.beginDialLocked()
	url := m.target.URL(m.cfg.BaseURL)
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.HandshakeTimeout)
	defer cancel()

	sock, err := m.dialer.Dial(ctx, url)
	if err != nil {
		err = fmt.Errorf("dial %s: %w", url, err)
	}
	_ = m.finishDial(next, sock, err, false)
}

// teardownLocked stops all timers and detaches the socket.
func (m *ConnectionManager) teardownLocked() ports.ISocket {
	m.stopReconnectTimerLocked()
	m.heartbeat.Stop()
	m.heartbeat = nil
	m.locationLoop.Stop()
	m.locationLoop = nil
	m.statusLoop.Stop()
	m.statusLoop = nil
	sock := m.socket
	m.socket = nil
	return sock
}

func (m *ConnectionManager) stopReconnectTimerLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
}

func (m *ConnectionManager) enqueue(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enqueueLocked(data)
}

func (m *ConnectionManager) enqueueLocked(data []byte) {
	if m.queue.Push(data) {
		m.log.Action("enqueue").Warn("offline queue full, dropped oldest message", "capacity", m.queue.Cap())
	}
}

// invoke runs a subscriber callback. A panicking callback is logged and does
// not take the read loop down with it.
func (m *ConnectionManager) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Action("callback").Error("handler panicked", fmt.Errorf("%v", r), "handler", name)
		}
	}()
	fn()
}

func encode(msg any) ([]byte, error) {
	switch v := msg.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
