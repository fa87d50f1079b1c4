// Package store snapshots guard and risk daily state to Redis so
// cooldowns and daily counters survive restarts. It degrades
// gracefully: a sick or absent Redis never blocks a decision, the
// state just starts fresh.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/guard"
	"trade-lifecycle-engine/internal/risk"
)

// Snapshot keys and retention
const (
	keyGuardState = "engine:guard:scalp"
	keyRiskState  = "engine:risk:daily"
	snapshotTTL   = 48 * time.Hour

	maxFailures     = 3
	recoveryBackoff = 30 * time.Second
)

// Store persists daily engine state in Redis with a small health-based
// circuit breaker around the client.
type Store struct {
	client *redis.Client
	log    zerolog.Logger

	mu           sync.Mutex
	healthy      bool
	failureCount int
	lastAttempt  time.Time
}

// New connects to Redis and verifies connectivity
func New(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Store{
		client:  client,
		healthy: true,
		log:     log.With().Str("component", "store").Logger(),
	}, nil
}

// available reports whether the breaker allows an attempt right now
func (s *Store) available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.healthy {
		return true
	}
	// probe again after the backoff
	if time.Since(s.lastAttempt) > recoveryBackoff {
		s.lastAttempt = time.Now()
		return true
	}
	return false
}

func (s *Store) markResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		if !s.healthy {
			s.log.Info().Msg("redis recovered")
		}
		s.healthy = true
		s.failureCount = 0
		return
	}
	s.failureCount++
	s.lastAttempt = time.Now()
	if s.failureCount >= maxFailures && s.healthy {
		s.healthy = false
		s.log.Warn().Int("failures", s.failureCount).Msg("redis circuit opened")
	}
}

func (s *Store) set(ctx context.Context, key string, v interface{}) error {
	if s == nil || s.client == nil {
		return nil
	}
	if !s.available() {
		return fmt.Errorf("redis unavailable")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	err = s.client.Set(ctx, key, data, snapshotTTL).Err()
	s.markResult(err)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string, v interface{}) (bool, error) {
	if s == nil || s.client == nil {
		return false, nil
	}
	if !s.available() {
		return false, fmt.Errorf("redis unavailable")
	}

	data, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		s.markResult(nil)
		return false, nil
	}
	s.markResult(err)
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return true, nil
}

// SaveGuardState snapshots the scalp guard's daily state
func (s *Store) SaveGuardState(ctx context.Context, st guard.ScalpState) error {
	return s.set(ctx, keyGuardState, st)
}

// LoadGuardState restores the scalp guard's daily state. The second
// return is false when no snapshot exists.
func (s *Store) LoadGuardState(ctx context.Context) (guard.ScalpState, bool, error) {
	var st guard.ScalpState
	found, err := s.get(ctx, keyGuardState, &st)
	return st, found, err
}

// SaveRiskState snapshots the governor's daily state
func (s *Store) SaveRiskState(ctx context.Context, st risk.State) error {
	return s.set(ctx, keyRiskState, st)
}

// LoadRiskState restores the governor's daily state
func (s *Store) LoadRiskState(ctx context.Context) (risk.State, bool, error) {
	var st risk.State
	found, err := s.get(ctx, keyRiskState, &st)
	return st, found, err
}

// Healthy reports the circuit breaker state
func (s *Store) Healthy() bool {
	if s == nil || s.client == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Close releases the Redis client
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
