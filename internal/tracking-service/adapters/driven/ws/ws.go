package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ride-tracker/internal/mylogger"
	"ride-tracker/internal/tracking-service/core/myerrors"
	"ride-tracker/internal/tracking-service/core/ports"

	"github.com/gorilla/websocket"
)

const maxMessageSize = 64 * 1024

type DialerConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	InsecureTLS      bool
	Header           http.Header
}

type Dialer struct {
	cfg    DialerConfig
	dialer *websocket.Dialer
	log    mylogger.Logger
}

var _ ports.IDialer = (*Dialer)(nil)

func NewDialer(cfg DialerConfig, log mylogger.Logger) *Dialer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	if cfg.InsecureTLS {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Dialer{cfg: cfg, dialer: d, log: log}
}

func (d *Dialer) Dial(ctx context.Context, url string) (ports.ISocket, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connecting to websocket: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connecting to websocket: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	d.log.Action("ws_dial").Debug("websocket connected", "url", url)
	return &Socket{conn: conn, writeTimeout: d.cfg.WriteTimeout}, nil
}

// Socket adapts a gorilla connection. gorilla allows one concurrent writer,
// so writes are serialized here.
type Socket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

var _ ports.ISocket = (*Socket)(nil)

func (s *Socket) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("writing message: socket closed")
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

func (s *Socket) Read() ([]byte, error) {
	for {
		msgType, payload, err := s.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				return nil, &myerrors.CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, &myerrors.CloseError{Code: myerrors.CloseAbnormalClosure, Reason: err.Error()}
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return payload, nil
		}
	}
}

// Close sends a close frame with code and reason, then drops the connection.
func (s *Socket) Close(code int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	msg := websocket.FormatCloseMessage(code, reason)
	werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.writeTimeout))
	cerr := s.conn.Close()
	if werr != nil && !errors.Is(werr, websocket.ErrCloseSent) {
		return fmt.Errorf("close handshake: %w", werr)
	}
	return cerr
}
