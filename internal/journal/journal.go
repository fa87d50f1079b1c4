// Package journal persists decisions, trades and engine events to
// PostgreSQL. It hangs off the event bus and is fully optional: a nil
// journal is safe to call, so the engine runs without a database.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/engine"
	"trade-lifecycle-engine/internal/events"
)

// Journal wraps the PostgreSQL connection pool
type Journal struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// New connects to PostgreSQL and verifies connectivity
func New(ctx context.Context, cfg config.DatabaseConfig, log zerolog.Logger) (*Journal, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.HealthCheckPeriod = time.Minute

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Journal{
		pool: pool,
		log:  log.With().Str("component", "journal").Logger(),
	}, nil
}

// Migrate creates the journal tables if they do not exist
func (j *Journal) Migrate(ctx context.Context) error {
	if j == nil || j.pool == nil {
		return nil
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			kind TEXT NOT NULL,
			symbol TEXT NOT NULL,
			mode TEXT NOT NULL,
			approved BOOLEAN NOT NULL,
			reason TEXT,
			detail JSONB,
			evaluated_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol, evaluated_at)`,
		`CREATE TABLE IF NOT EXISTS engine_events (
			id BIGSERIAL PRIMARY KEY,
			type TEXT NOT NULL,
			data JSONB,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_engine_events_type ON engine_events(type, occurred_at)`,
	}
	for _, m := range migrations {
		if _, err := j.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	j.log.Info().Msg("journal schema ready")
	return nil
}

// RecordDecision writes one evaluated decision. Failures are logged,
// never propagated into the decision path.
func (j *Journal) RecordDecision(ctx context.Context, d *engine.Decision) {
	if j == nil || j.pool == nil || d == nil {
		return
	}

	detail, err := json.Marshal(d)
	if err != nil {
		j.log.Error().Err(err).Msg("marshal decision")
		return
	}
	_, err = j.pool.Exec(ctx,
		`INSERT INTO decisions (id, kind, symbol, mode, approved, reason, detail, evaluated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		d.ID, string(d.Kind), d.Symbol, string(d.Mode), d.Approved, d.Reason, detail, d.EvaluatedAt,
	)
	if err != nil {
		j.log.Error().Err(err).Str("decision_id", d.ID).Msg("record decision")
	}
}

// Attach subscribes the journal to the event bus so trade and lifecycle
// events are written behind the decision path.
func (j *Journal) Attach(bus *events.EventBus) {
	if j == nil || j.pool == nil || bus == nil {
		return
	}
	bus.SubscribeAll(func(ev events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		data, err := json.Marshal(ev.Data)
		if err != nil {
			j.log.Error().Err(err).Msg("marshal event")
			return
		}
		if _, err := j.pool.Exec(ctx,
			`INSERT INTO engine_events (type, data, occurred_at) VALUES ($1, $2, $3)`,
			string(ev.Type), data, ev.Timestamp,
		); err != nil {
			j.log.Error().Err(err).Str("type", string(ev.Type)).Msg("record event")
		}
	})
}

// Close releases the connection pool
func (j *Journal) Close() {
	if j != nil && j.pool != nil {
		j.pool.Close()
	}
}
