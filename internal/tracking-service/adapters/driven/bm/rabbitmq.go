package bm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"ride-tracker/internal/config"
	"ride-tracker/internal/mylogger"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
	"ride-tracker/internal/tracking-service/core/ports"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	exchange       = "ride_topic"
	reconnInterval = 10 // seconds
)

// RabbitMQ republishes tracking events on the ride_topic exchange with
// routing key ride.event.<type>.
type RabbitMQ struct {
	ctx          context.Context
	cfg          config.RabbitMqconfig
	mylog        mylogger.Logger
	conn         *amqp.Connection
	ch           *amqp.Channel
	reconnecting bool
	mu           *sync.Mutex
}

var _ ports.IEventRelay = (*RabbitMQ)(nil)

// relayMessage is the body published for every event.
type relayMessage struct {
	Type       string          `json:"type"`
	RideID     string          `json:"ride_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	ReceivedAt time.Time       `json:"received_at"`
}

func New(ctx context.Context, rabbitmqCfg config.RabbitMqconfig, mylog mylogger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		ctx:   ctx,
		cfg:   rabbitmqCfg,
		mylog: mylog,
		mu:    &sync.Mutex{},
	}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return r, nil
}

func RoutingKey(eventType string) string {
	return "ride.event." + eventType
}

func (r *RabbitMQ) PublishEvent(ctx context.Context, ev websocketdto.Event) error {
	mylog := r.mylog.Action("publish_event")

	if !r.IsAlive() {
		mylog.Error("connection between rabbitmq is closed", errors.New("closed conn"))
		go r.reconnect(r.ctx)
		return errors.New("connection is closed")
	}

	body, err := json.Marshal(relayMessage{
		Type:       ev.Type,
		RideID:     ev.RideID,
		Data:       ev.Data,
		ReceivedAt: ev.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	pubctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r.mu.Lock()
	ch := r.ch
	r.mu.Unlock()

	return ch.PublishWithContext(pubctx, exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.ReceivedAt,
		Body:         body,
	})
}

func (r *RabbitMQ) IsAlive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn.IsClosed() {
		return false
	}
	if r.ch == nil || r.ch.IsClosed() {
		return false
	}
	return true
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(fmt.Sprintf("amqp://%v:%v@%v:%v/%v",
		r.cfg.User,
		r.cfg.Password,
		r.cfg.Host,
		r.cfg.Port,
		r.cfg.VHost,
	))
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) reconnect(ctx context.Context) {
	r.mu.Lock()
	if r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	t := time.NewTicker(time.Second * reconnInterval)
	mylog := r.mylog.Action("mb_reconnecting")
	defer func() {
		t.Stop()
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()

	for {
		select {
		case <-t.C:
			if err := r.connect(); err == nil {
				mylog.Action("mb_reconnection_completed").Info("Successfully reconnected!")
				return
			}
			mylog.Info("rabbitmq failed to reconnect")
		case <-ctx.Done():
			return
		}
	}
}
