package sandbox

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"ride-tracker/internal/mylogger"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 5 * time.Second
	maxMessageSize = 4096
	egressSize     = 64
)

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// frame is every server-originated message.
type frame struct {
	Type      string    `json:"type"`
	RideID    string    `json:"ride_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// inbound is every client-originated message. Only the fields the sandbox
// acts on are decoded.
type inbound struct {
	Type   string          `json:"type"`
	Token  string          `json:"token"`
	RideID string          `json:"ride_id"`
	Data   json.RawMessage `json:"data"`
}

// Client is one authenticated socket. An empty rideID marks a notification
// channel subscriber.
type Client struct {
	conn   *websocket.Conn
	egress chan []byte
	rideID string
	userID string
	once   sync.Once
	done   chan struct{}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.done) })
}

// ClientList is a set of live clients.
type ClientList map[*Client]bool

type Dispatcher struct {
	sync.RWMutex
	clients     ClientList
	reg         *Registry
	auth        *Authenticator
	authTimeout time.Duration
	mylog       mylogger.Logger
	now         func() time.Time
}

func NewDispatcher(reg *Registry, auth *Authenticator, authTimeout time.Duration, log mylogger.Logger) *Dispatcher {
	return &Dispatcher{
		clients:     make(ClientList),
		reg:         reg,
		auth:        auth,
		authTimeout: authTimeout,
		mylog:       log,
		now:         time.Now,
	}
}

func (d *Dispatcher) RideSocket(w http.ResponseWriter, r *http.Request) {
	rideID := chi.URLParam(r, "rideID")
	if _, ok := d.reg.Get(rideID); !ok {
		writeError(w, http.StatusNotFound, "RIDE_NOT_FOUND", "ride not found")
		return
	}
	d.serve(w, r, rideID)
}

func (d *Dispatcher) NotificationSocket(w http.ResponseWriter, r *http.Request) {
	d.serve(w, r, "")
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request, rideID string) {
	log := d.mylog.Action("ws_connect").With("ride_id", rideID)

	conn, err := websocketUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("cannot upgrade", err)
		return
	}
	conn.SetReadLimit(maxMessageSize)

	userID, err := d.authenticate(conn)
	if err != nil {
		log.Warn("authentication failed", "error", err)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := &Client{
		conn:   conn,
		egress: make(chan []byte, egressSize),
		rideID: rideID,
		userID: userID,
		done:   make(chan struct{}),
	}
	d.AddClient(client)
	defer d.RemoveClient(client)
	log.Info("client connected", "user_id", userID)

	go d.writeMessages(client)
	d.readMessages(client)
}

// authenticate waits for the first frame, which must be a valid
// authenticate message.
func (d *Dispatcher) authenticate(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(d.authTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, payload, err := conn.ReadMessage()
	if err != nil {
		return "", err
	}
	var msg inbound
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", err
	}
	if msg.Type != websocketdto.MessageTypeAuth {
		return "", errors.New("first message must be authenticate")
	}
	return d.auth.Verify(msg.Token)
}

func (d *Dispatcher) readMessages(c *Client) {
	log := d.mylog.Action("ws_read").With("ride_id", c.rideID, "user_id", c.userID)
	defer c.close()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("unexpected close", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Warn("dropping malformed message", "error", err)
			continue
		}

		switch strings.ToLower(msg.Type) {
		case websocketdto.MessageTypePing:
			d.sendTo(c, frame{Type: websocketdto.MessageTypePong, Timestamp: d.now()})
		case websocketdto.MessageTypeRequestLocationUpdate:
			if ride, ok := d.reg.Get(c.rideID); ok && ride.DriverLocation != nil {
				d.sendTo(c, frame{
					Type:      websocketdto.MessageTypeDriverLocation,
					RideID:    ride.ID,
					Data:      locationPayload(ride.ID, *ride.DriverLocation),
					Timestamp: d.now(),
				})
			}
		case websocketdto.MessageTypeRequestStatusUpdate:
			if ride, ok := d.reg.Get(c.rideID); ok {
				d.sendTo(c, frame{
					Type:      websocketdto.MessageTypeRideStatus,
					RideID:    ride.ID,
					Data:      websocketdto.RideStatusPayload{RideID: ride.ID, Status: ride.Status},
					Timestamp: d.now(),
				})
			}
		case websocketdto.MessageTypeEmergencyAlert:
			log.Warn("emergency alert received", "payload", string(payload))
			d.sendTo(c, frame{
				Type:      websocketdto.MessageTypeSystemMessage,
				RideID:    c.rideID,
				Data:      map[string]string{"text": "emergency alert received, support has been notified"},
				Timestamp: d.now(),
			})
		default:
			log.Debug("ignoring message", "type", msg.Type)
		}
	}
}

func (d *Dispatcher) writeMessages(c *Client) {
	defer c.conn.Close()
	for {
		select {
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		case data := <-c.egress:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				d.mylog.Action("ws_write").Warn("write failed", "error", err, "ride_id", c.rideID)
				c.close()
				return
			}
		}
	}
}

// Publish sends a ride event to every socket tracking rideID.
func (d *Dispatcher) Publish(rideID, msgType string, data any) {
	d.broadcast(rideID, frame{Type: msgType, RideID: rideID, Data: data, Timestamp: d.now()})
}

// Notify sends a notification to every notification channel subscriber.
func (d *Dispatcher) Notify(n websocketdto.NotificationPayload) {
	d.broadcast("", frame{Type: websocketdto.MessageTypeNotification, Data: n, Timestamp: d.now()})
}

func (d *Dispatcher) broadcast(rideID string, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		d.mylog.Action("ws_broadcast").Error("cannot marshal frame", err)
		return
	}
	d.RLock()
	defer d.RUnlock()
	for c := range d.clients {
		if c.rideID == rideID {
			d.enqueue(c, data)
		}
	}
}

func (d *Dispatcher) sendTo(c *Client, f frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	d.enqueue(c, data)
}

func (d *Dispatcher) enqueue(c *Client, data []byte) {
	select {
	case c.egress <- data:
	default:
		d.mylog.Action("ws_enqueue").Warn("client too slow, dropping frame", "ride_id", c.rideID)
	}
}

// CloseRide disconnects every socket tracking rideID.
func (d *Dispatcher) CloseRide(rideID string) {
	d.RLock()
	defer d.RUnlock()
	for c := range d.clients {
		if c.rideID == rideID {
			c.close()
		}
	}
}

func (d *Dispatcher) CloseAll() {
	d.RLock()
	defer d.RUnlock()
	for c := range d.clients {
		c.close()
	}
}

func (d *Dispatcher) AddClient(client *Client) {
	d.Lock()
	defer d.Unlock()
	d.clients[client] = true
}

func (d *Dispatcher) RemoveClient(client *Client) {
	d.Lock()
	defer d.Unlock()
	if _, ok := d.clients[client]; ok {
		client.close()
		delete(d.clients, client)
	}
}

func (d *Dispatcher) ClientCount() int {
	d.RLock()
	defer d.RUnlock()
	return len(d.clients)
}
