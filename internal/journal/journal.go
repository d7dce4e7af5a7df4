// Package journal stores annotation markers in PostgreSQL so sessions can be
// correlated with other recordings after the fact.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sweeney/blink-sensor/internal/annotate"
)

const schema = `CREATE TABLE IF NOT EXISTS blink_annotations (
	id          BIGSERIAL PRIMARY KEY,
	session     TIMESTAMPTZ NOT NULL,
	marker      INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	channel     TEXT NOT NULL DEFAULT '',
	marked_at   TIMESTAMPTZ NOT NULL
)`

const insertMarker = `INSERT INTO blink_annotations (session, marker, kind, channel, marked_at)
VALUES ($1, $2, $3, $4, $5)`

// writeTimeout bounds each insert so a slow database cannot stall the
// acquisition loop for longer than a polling interval.
const writeTimeout = 500 * time.Millisecond

// Store writes markers to the blink_annotations table.
type Store struct {
	pool      *pgxpool.Pool
	session   time.Time
	closeOnce sync.Once
}

// ParseDSN validates a connection string and returns the pool configuration.
func ParseDSN(dsn string) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: invalid dsn: %w", err)
	}
	return cfg, nil
}

// Open connects to the database and checks it is reachable.
// session identifies the recording the markers belong to.
func Open(ctx context.Context, dsn string, session time.Time) (*Store, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 2
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("journal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("journal: ping: %w", err)
	}

	slog.Info("journal: connected",
		"host", cfg.ConnConfig.Host,
		"port", cfg.ConnConfig.Port,
		"db", cfg.ConnConfig.Database)
	return &Store{pool: pool, session: session}, nil
}

// EnsureSchema creates the annotations table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("journal: create schema: %w", err)
	}
	return nil
}

// Annotate inserts one marker.
func (s *Store) Annotate(m annotate.Marker) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := s.pool.Exec(ctx, insertMarker, s.session, m.Index, string(m.Kind), m.Channel, m.At)
	if err != nil {
		return fmt.Errorf("journal: insert marker %d: %w", m.Index, err)
	}
	return nil
}

// Close releases the pool. Safe to call more than once.
func (s *Store) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		if s.pool != nil {
			s.pool.Close()
		}
	})
}

var _ annotate.Sink = (*Store)(nil)
