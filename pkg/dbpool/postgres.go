// Package dbpool wraps the relational connection pool (§5: "the
// connection pool is the central shared resource").
package dbpool

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/redbco/ddfserver/internal/ddferrors"
	"github.com/redbco/ddfserver/pkg/config"
)

// Pool wraps a pgxpool.Pool with the acquisition-timeout semantics of §5.
type Pool struct {
	pool           *pgxpool.Pool
	acquireTimeout time.Duration
	queueThreshold int32
	waiting        int32
}

// Config carries the connection parameters read from the DB_* environment
// variables (spec §6).
type Config struct {
	Host              string
	Port              int
	Database          string
	User              string
	Password          string
	SocketPath        string
	MaxConnections    int32
	ConnectionTimeout time.Duration
	AcquireTimeout    time.Duration
	QueueThreshold    int32
}

// FromConfig builds a Config from the process-wide configuration.
func FromConfig(cfg *config.Config) Config {
	port := cfg.Int("DB_PORT")
	if port == 0 {
		port = 5432
	}
	maxConns := int32(cfg.Int("DB_MAX_CONNECTIONS"))
	if maxConns == 0 {
		maxConns = 20
	}
	connTimeout := cfg.Duration("DB_CONNECTION_TIMEOUT")
	if connTimeout == 0 {
		connTimeout = 5 * time.Second
	}
	acquireTimeout := cfg.Duration("POOL_ACQUIRE_TIMEOUT")
	if acquireTimeout == 0 {
		acquireTimeout = 5 * time.Second
	}
	return Config{
		Host:              cfg.Get("DB_HOST"),
		Port:              port,
		Database:          cfg.Get("DB_NAME"),
		User:              cfg.Get("DB_USER"),
		Password:          cfg.Get("DB_PWD"),
		SocketPath:        cfg.Get("DB_SOCKET_PATH"),
		MaxConnections:    maxConns,
		ConnectionTimeout: connTimeout,
		AcquireTimeout:    acquireTimeout,
		QueueThreshold:    int32(cfg.Int("DB_THROTTLE")),
	}
}

// New creates a connection pool and verifies connectivity.
func New(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.Database == "" {
		return nil, fmt.Errorf("DB_NAME is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("DB_USER is required")
	}

	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, fmt.Errorf("failed to create connection config: %w", err)
	}

	host := cfg.Host
	if cfg.SocketPath != "" {
		host = cfg.SocketPath
	}
	poolConfig.ConnConfig.Host = host
	poolConfig.ConnConfig.Port = uint16(cfg.Port)
	poolConfig.ConnConfig.Database = cfg.Database
	poolConfig.ConnConfig.User = cfg.User
	poolConfig.ConnConfig.Password = cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout

	poolConfig.MaxConns = cfg.MaxConnections
	poolConfig.MaxConnIdleTime = cfg.ConnectionTimeout

	pgxPool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pgxPool.Ping(ctx); err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{
		pool:           pgxPool,
		acquireTimeout: cfg.AcquireTimeout,
		queueThreshold: cfg.QueueThreshold,
	}, nil
}

// Raw returns the underlying pgxpool.Pool for callers that need direct
// query/Exec access (catalog, table layer).
func (p *Pool) Raw() *pgxpool.Pool { return p.pool }

// Close releases the pool.
func (p *Pool) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// QueuedAcquires reports how many callers are currently blocked waiting
// for a connection, the "queued query depth" admission signal of §4.7.
func (p *Pool) QueuedAcquires() int32 {
	return atomic.LoadInt32(&p.waiting)
}

// QueueThreshold reports the DB_THROTTLE admission cap (0 disables it).
func (p *Pool) QueueThreshold() int32 { return p.queueThreshold }

// AcquireTimeout returns the configured acquisition timeout.
func (p *Pool) AcquireTimeout() time.Duration { return p.acquireTimeout }

// Acquire acquires a connection, translating a timeout into a Busy error
// per §5 ("If the pool acquisition times out (default 5 s), the handler
// responds 503"). While the caller waits it is counted toward
// QueuedAcquires so the admission layer can reject new work ahead of it.
func (p *Pool) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	actx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	atomic.AddInt32(&p.waiting, 1)
	defer atomic.AddInt32(&p.waiting, -1)

	conn, err := p.pool.Acquire(actx)
	if err != nil {
		return nil, ddferrors.Wrap(ddferrors.Busy, err, "connection pool acquisition timed out")
	}
	return conn, nil
}
