package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ride-tracker/internal/config"
	"ride-tracker/internal/identity-service/core/ports"
	"ride-tracker/internal/mylogger"

	"github.com/jackc/pgx/v5"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres keeps the store on a single pgx connection and reconnects when
// a ping fails.
type Postgres struct {
	ctx   context.Context
	cfg   *config.DBconfig
	mylog mylogger.Logger
	conn  *pgx.Conn
	mu    *sync.Mutex
}

var _ ports.IKeyValueStore = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dbCfg *config.DBconfig, mylog mylogger.Logger) (*Postgres, error) {
	p := &Postgres{
		ctx:   ctx,
		cfg:   dbCfg,
		mylog: mylog,
		mu:    &sync.Mutex{},
	}
	if err := p.connect(); err != nil {
		return nil, err
	}
	if _, err := p.conn.Exec(ctx, postgresSchema); err != nil {
		p.conn.Close(ctx)
		return nil, fmt.Errorf("migrate kv_store: %w", err)
	}
	return p, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := p.alive(ctx)
	if err != nil {
		return "", false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var v string
	err = conn.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return v, true, nil
}

func (p *Postgres) Set(ctx context.Context, key, value string) error {
	conn, err := p.alive(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err = conn.Exec(ctx, `
		INSERT INTO kv_store (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`, key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	conn, err := p.alive(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := conn.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.Close(p.ctx); err != nil {
		return fmt.Errorf("close database connection: %v", err)
	}
	return nil
}

// alive pings the connection and dials a fresh one if the ping fails.
func (p *Postgres) alive(ctx context.Context) (*pgx.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil, fmt.Errorf("DB is not initialized")
	}
	if err := p.conn.Ping(ctx); err != nil {
		p.mylog.Action("postgres_ping").Warn("ping failed, reconnecting", "error", err)
		if connErr := p.connectLocked(); connErr != nil {
			return nil, fmt.Errorf("ping failed: %w", err)
		}
	}
	return p.conn, nil
}

func (p *Postgres) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectLocked()
}

func (p *Postgres) connectLocked() error {
	conn, err := pgx.Connect(p.ctx, fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.cfg.User,
		p.cfg.Password,
		p.cfg.Host,
		p.cfg.Port,
		p.cfg.Database,
	))
	if err != nil {
		return fmt.Errorf("failed to connect to database: %v", err)
	}
	p.conn = conn
	return nil
}
