// Command engine runs the trade lifecycle engine behind its HTTP API.
// All market data, intents and execution results arrive over HTTP; the
// binary wires config, logging, optional persistence and the engine
// together.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"trade-lifecycle-engine/config"
	"trade-lifecycle-engine/internal/api"
	"trade-lifecycle-engine/internal/engine"
	"trade-lifecycle-engine/internal/events"
	"trade-lifecycle-engine/internal/journal"
	"trade-lifecycle-engine/internal/ledger"
	"trade-lifecycle-engine/internal/store"
)

// paperExecutor acknowledges every advisory action without touching an
// exchange. Order routing lives outside this binary; callers that
// execute for real confirm results through the API instead.
type paperExecutor struct {
	log zerolog.Logger
}

func (p *paperExecutor) ApplyAction(_ context.Context, a ledger.Action) error {
	p.log.Info().Str("action", a.String()).Str("reason", a.Reason).Msg("action acknowledged")
	return nil
}

func (p *paperExecutor) ClosePosition(_ context.Context, symbol string, price float64) error {
	p.log.Info().Str("symbol", symbol).Float64("price", price).Msg("close acknowledged")
	return nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Console {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func main() {
	configPath := flag.String("config", "", "path to config file (JSON)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Logging)
	log.Info().Str("mode", string(cfg.Mode)).Msg("starting trade lifecycle engine")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewEventBus()

	var jnl *journal.Journal
	if cfg.Database.Enabled {
		jnl, err = journal.New(ctx, cfg.Database, log)
		if err != nil {
			log.Error().Err(err).Msg("journal unavailable, running without persistence")
		} else {
			if err := jnl.Migrate(ctx); err != nil {
				log.Error().Err(err).Msg("journal migration failed")
			}
			jnl.Attach(bus)
			defer jnl.Close()
		}
	}

	var st *store.Store
	if cfg.Redis.Enabled {
		st, err = store.New(ctx, cfg.Redis, log)
		if err != nil {
			log.Error().Err(err).Msg("redis unavailable, daily state will not survive restarts")
			st = nil
		} else {
			defer st.Close()
		}
	}

	eng := engine.New(cfg, &paperExecutor{log: log.With().Str("component", "executor").Logger()}, bus, log)

	// restore daily state from the last snapshot
	if guardState, found, err := st.LoadGuardState(ctx); err == nil && found {
		eng.ScalpGuard().Restore(guardState)
		log.Info().Msg("guard state restored")
	}

	snapshot := func() {
		snapCtx, snapCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer snapCancel()
		if err := st.SaveGuardState(snapCtx, eng.ScalpGuard().State()); err != nil {
			log.Debug().Err(err).Msg("guard snapshot failed")
		}
		if err := st.SaveRiskState(snapCtx, eng.Governor().Snapshot()); err != nil {
			log.Debug().Err(err).Msg("risk snapshot failed")
		}
	}

	if st != nil {
		go func() {
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					snapshot()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	if cfg.Server.Enabled {
		server := api.NewServer(cfg.Server, eng, jnl, st, bus, log)
		go func() {
			if err := server.Run(); err != nil {
				log.Fatal().Err(err).Msg("http server failed")
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	if st != nil {
		snapshot()
	}
	cancel()
}
