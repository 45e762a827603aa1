package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ride-tracker/internal/config"
	"ride-tracker/internal/identity-service/adapters/driven/api"
	"ride-tracker/internal/identity-service/adapters/driven/cache"
	"ride-tracker/internal/identity-service/adapters/driven/store"
	idmodel "ride-tracker/internal/identity-service/core/domain/model"
	idports "ride-tracker/internal/identity-service/core/ports"
	idservices "ride-tracker/internal/identity-service/core/services"
	"ride-tracker/internal/mylogger"
	"ride-tracker/internal/tracking-service/adapters/driven/bm"
	"ride-tracker/internal/tracking-service/adapters/driven/ws"
	"ride-tracker/internal/tracking-service/core/domain/model"
	websocketdto "ride-tracker/internal/tracking-service/core/domain/websocket_dto"
	trports "ride-tracker/internal/tracking-service/core/ports"
	trservices "ride-tracker/internal/tracking-service/core/services"

	"github.com/redis/go-redis/v9"
)

const relayBuffer = 256

// App owns one identity manager and one connection manager and the adapters
// behind them. Nothing here is global; Close releases everything New built.
type App struct {
	cfg   *config.Config
	mylog mylogger.Logger

	Identity *idservices.IdentityManager
	Tracking *trservices.ConnectionManager

	store idports.IKeyValueStore
	redis *redis.Client
	relay trports.IEventRelay

	relayCh     chan websocketdto.Event
	relayWG     sync.WaitGroup
	unsubscribe []func()
	closeOnce   sync.Once
}

func New(ctx context.Context, cfg *config.Config, log mylogger.Logger) (*App, error) {
	a := &App{cfg: cfg, mylog: log}

	if err := a.initIdentity(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initTracking(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initIdentity(ctx context.Context) error {
	cfg := a.cfg

	kv, err := a.newStore(ctx)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	a.store = kv

	var statusCache idports.IStatusCache
	switch cfg.Identity.StatusCache {
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return fmt.Errorf("init status cache: %w", err)
		}
		statusCache = cache.NewRedisStatusCache(client, cfg.Identity.StatusTTL, a.mylog)
	default:
		statusCache = idservices.NewMemoryStatusCache(cfg.Identity.StatusTTL)
	}

	client := api.NewClient(api.Config{
		BaseURL:     cfg.Identity.APIBaseURL,
		Token:       cfg.Identity.APIToken,
		Timeout:     cfg.Identity.HTTPTimeout,
		InsecureTLS: cfg.Identity.InsecureTLS,
	}, a.mylog)

	a.Identity = idservices.NewIdentityManager(a.mylog, client, kv, statusCache, cfg.Identity.CurrentKey)
	return nil
}

func (a *App) newStore(ctx context.Context) (idports.IKeyValueStore, error) {
	sc := a.cfg.Store
	switch sc.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.OpenSQLite(sc.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, sc.DB, a.mylog)
	case "redis":
		client, err := a.redisClient(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewRedis(client), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", sc.Backend)
	}
}

// redisClient is shared by the redis store and the redis status cache.
func (a *App) redisClient(ctx context.Context) (*redis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := store.ConnectRedis(ctx, a.cfg.Store.Redis)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return client, nil
}

func (a *App) initTracking(ctx context.Context) error {
	tc := a.cfg.Tracking

	dialer := ws.NewDialer(ws.DialerConfig{
		HandshakeTimeout: tc.HandshakeTimeout,
		WriteTimeout:     tc.WriteTimeout,
		InsecureTLS:      a.cfg.Identity.InsecureTLS,
	}, a.mylog)

	a.Tracking = trservices.NewConnectionManager(trservices.ManagerConfig{
		BaseURL:              tc.BaseURL,
		MaxReconnectAttempts: tc.MaxReconnectAttempts,
		ReconnectBaseDelay:   tc.ReconnectBaseDelay,
		ReconnectMaxDelay:    tc.ReconnectMaxDelay,
		HeartbeatInterval:    tc.HeartbeatInterval,
		LocationInterval:     tc.LocationInterval,
		StatusSyncInterval:   tc.StatusSyncInterval,
		QueueCapacity:        tc.QueueCapacity,
		HandshakeTimeout:     tc.HandshakeTimeout,
	}, dialer, a.mylog)

	if tc.AuthToken != "" {
		if err := a.Tracking.SetAuthToken(tc.AuthToken); err != nil {
			return fmt.Errorf("tracking auth token: %w", err)
		}
	}

	a.unsubscribe = append(a.unsubscribe, a.Tracking.Subscribe(a.statusPushes(ctx)))

	if a.cfg.RabbitMq != nil && a.cfg.RabbitMq.Enabled {
		relay, err := bm.New(ctx, *a.cfg.RabbitMq, a.mylog)
		if err != nil {
			return fmt.Errorf("init event relay: %w", err)
		}
		a.relay = relay
		a.startRelay(ctx)
	}
	return nil
}

// statusPushes feeds ride status events into the identity manager so a ride
// finished on the server is forgotten without waiting for the next resume.
func (a *App) statusPushes(ctx context.Context) model.EventHandler {
	return func(ev websocketdto.Event) {
		st, ok := ev.RideStatus()
		if !ok {
			return
		}
		a.Identity.HandleRideStatusPush(ctx, idmodel.RideReference(st.RideID), st.Status)
	}
}

// startRelay forwards every tracking event to the broker from one goroutine,
// so a slow broker never stalls the socket read loop. Events are dropped when
// the buffer is full.
func (a *App) startRelay(ctx context.Context) {
	a.relayCh = make(chan websocketdto.Event, relayBuffer)
	log := a.mylog.Action("event_relay")

	a.relayWG.Add(1)
	go func() {
		defer a.relayWG.Done()
		for ev := range a.relayCh {
			if err := a.relay.PublishEvent(ctx, ev); err != nil {
				log.Warn("cannot relay event", "type", ev.Type, "error", err)
			}
		}
	}()

	a.unsubscribe = append(a.unsubscribe, a.Tracking.Subscribe(func(ev websocketdto.Event) {
		select {
		case a.relayCh <- ev:
		default:
			log.Warn("relay buffer full, dropping event", "type", ev.Type)
		}
	}))
}

// StartTracking makes sure there is a usable ride, opens its socket and arms
// the location and status sync loops.
func (a *App) StartTracking(ctx context.Context, params *idmodel.BookingParams) (idmodel.EnsureResult, error) {
	res, err := a.Identity.EnsureValidRideID(ctx, params)
	if err != nil {
		return idmodel.EnsureResult{}, err
	}

	if err := a.Tracking.Connect(ctx, model.RideTarget(res.RideID.String())); err != nil {
		return res, fmt.Errorf("connect tracking: %w", err)
	}
	a.Tracking.StartLocationUpdates(a.cfg.Tracking.LocationInterval)
	a.Tracking.StartStatusSync(a.cfg.Tracking.StatusSyncInterval)
	return res, nil
}

func (a *App) StopTracking() {
	a.Tracking.StopLocationUpdates()
	a.Tracking.StopStatusSync()
	a.Tracking.Disconnect()
}

// Resume runs the identity resume hook when enabled.
func (a *App) Resume(ctx context.Context) idmodel.ValidationResult {
	if !a.cfg.Identity.ValidateOnResume {
		return idmodel.ValidationResult{}
	}
	return a.Identity.OnAppResume(ctx)
}

func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for _, unsub := range a.unsubscribe {
			unsub()
		}
		if a.Tracking != nil {
			_ = a.Tracking.Close()
		}
		if a.relayCh != nil {
			close(a.relayCh)
			a.relayWG.Wait()
		}
		if a.relay != nil {
			if err := a.relay.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if a.Identity != nil {
			a.Identity.OnAppTerminate(context.Background())
		}
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		// the redis store closes the shared client itself
		if a.redis != nil && a.cfg.Store.Backend != "redis" {
			if err := a.redis.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}
