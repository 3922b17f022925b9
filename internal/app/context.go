package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"transcriptdesk/internal/config"
	"transcriptdesk/internal/db"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/migrate"
	"transcriptdesk/internal/sequence"
)

// Options select the workspace and optional overrides for a process.
type Options struct {
	Workspace     string
	ConfigPath    string
	BusyTimeoutMS int
	Log           *logrus.Logger
}

// Runtime holds the open store, loaded config and engine for one process.
type Runtime struct {
	DB      *sql.DB
	Config  *config.Config
	Engine  engine.Engine
	Counter *sequence.Guarded
	closers []func() error
}

// Open prepares the workspace database, applies migrations, loads config
// and builds the engine on the configured counter backend.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	log := opts.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, BusyTimeoutMS: opts.BusyTimeoutMS})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{DB: conn, Config: cfg, closers: []func() error{conn.Close}}
	if err := migrate.Migrate(ctx, conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	inner, err := rt.counterBackend(ctx, cfg.Counter)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Counter = sequence.NewGuarded(inner, sequence.GuardOptions{
		Name:        "sequence-" + cfg.Counter.Backend,
		MaxFailures: uint32(cfg.Counter.Breaker.MaxFailures),
		OpenTimeout: cfg.Counter.Breaker.OpenTimeout,
		Log:         log,
	})
	rt.Engine = engine.New(conn, cfg, rt.Counter)
	rt.Engine.Log = log
	log.WithFields(logrus.Fields{"workspace": opts.Workspace, "counter": cfg.Counter.Backend}).Debug("runtime ready")
	return rt, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

func (rt *Runtime) counterBackend(ctx context.Context, cc config.CounterConfig) (sequence.Counter, error) {
	switch cc.Backend {
	case "redis":
		c, client, err := sequence.NewRedisCounter(ctx, cc.Redis.Addr, cc.Redis.Password, cc.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis counter: %w", err)
		}
		rt.closers = append(rt.closers, client.Close)
		return c, nil
	case "mongo":
		c, client, err := sequence.NewMongoCounter(ctx, cc.Mongo.URI, cc.Mongo.Database, cc.Mongo.Collection)
		if err != nil {
			return nil, fmt.Errorf("mongo counter: %w", err)
		}
		rt.closers = append(rt.closers, func() error { return client.Disconnect(context.Background()) })
		return c, nil
	}
	return sequence.SQLCounter{DB: rt.DB}, nil
}

// Close releases backends in reverse order of opening.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
