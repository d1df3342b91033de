// Package bootstrap wires the infrastructure shared by both transports:
// logger, levels, the Redis session store and the optional failure ledger.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/goodcleanfun/plqbot/core/config"
	"github.com/goodcleanfun/plqbot/core/database"
	"github.com/goodcleanfun/plqbot/core/dispatch"
	"github.com/goodcleanfun/plqbot/core/game"
	"github.com/goodcleanfun/plqbot/core/levels"
	"github.com/goodcleanfun/plqbot/core/logger"
	"github.com/goodcleanfun/plqbot/core/sender"
	"github.com/goodcleanfun/plqbot/core/state"
)

// Options control the bootstrap pipeline. Nil hooks use the real implementations.
type Options struct {
	Config  *config.Config
	Modules Modules

	LoggerInit   func(*config.Config) error
	ConnectRedis func(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error)
	ConnectDB    func(ctx context.Context, cfg database.Config) (*sqlx.DB, error)
	Migrate      func(ctx context.Context, cfg database.Config) error
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	Config   *config.Config
	Redis    *redis.Client
	DB       *sqlx.DB
	Levels   *levels.Repository
	Engine   *game.Engine
	Store    state.Store
	Deduper  state.Deduper
	Recorder sender.FailureRecorder

	// Deliverer is set by Dispatcher.
	Deliverer *sender.Deliverer
}

// Run initializes the logger, loads levels, connects to Redis and, when
// configured, to Postgres with migrations applied.
func Run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(cfg); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	repo, err := seedLevels(ctx, cfg, opts.Modules)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: levels: %w", err)
	}

	connectRedis := opts.ConnectRedis
	if connectRedis == nil {
		connectRedis = ConnectRedis
	}
	rdb, err := connectRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: redis initialization failed: %w", err)
	}

	res := &Result{
		Config: cfg,
		Redis:  rdb,
		Levels: repo,
		Engine: game.New(repo, game.Options{
			ImageBaseURL: cfg.Game.ImageBaseURL,
			DefaultLevel: cfg.Game.DefaultLevel,
			LivesPolicy:  game.LivesPolicy(cfg.Game.LivesPolicy),
		}),
		Store:    state.NewRedisStore(rdb, cfg.Redis.KeyPrefix),
		Recorder: sender.LogRecorder{},
	}
	if ttl := cfg.Dedupe.TTL(); ttl > 0 {
		res.Deduper = state.NewRedisDeduper(rdb, "", ttl)
	}

	if cfg.Database.Enabled() {
		connect := opts.ConnectDB
		if connect == nil {
			connect = database.Connect
		}
		db, err := connect(ctx, cfg.Database)
		if err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
		}
		res.DB = db

		migrate := opts.Migrate
		if migrate == nil {
			migrate = database.RunMigrations
		}
		if err := migrate(ctx, cfg.Database); err != nil {
			_ = res.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		res.Recorder = database.NewFailureLedger(db)
	}
	return res, nil
}

// Dispatcher builds the turn dispatcher around a platform client.
func (r *Result) Dispatcher(client sender.Client) *dispatch.Dispatcher {
	cfg := r.Config
	out := sender.NewDeliverer(client, r.Recorder, sender.Options{
		MaxRetries:     cfg.Sender.MaxRetries,
		RetryBackoff:   time.Duration(cfg.Sender.RetryBackoffMS) * time.Millisecond,
		MaxDuration:    time.Duration(cfg.Sender.MaxDurationMS) * time.Millisecond,
		AttemptTimeout: cfg.Timeouts.Send(),
	})
	r.Deliverer = out
	return dispatch.New(r.Engine, r.Store, r.Deduper, out, dispatch.Options{
		StoreTimeout:     cfg.Timeouts.Store(),
		MaxParallelUsers: cfg.Dispatch.MaxParallelUsers,
	})
}

// Close releases connections opened by Run.
func (r *Result) Close() error {
	var errs []error
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	return errors.Join(errs...)
}

// ConnectRedis opens a client and pings it. The store is required, so a
// failed ping is fatal for startup.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	start := time.Now()
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		logger.Store.Error("redis connect failed",
			slog.String("event", "redis.connect"),
			slog.String("addr", cfg.Addr()),
			slog.Duration("duration", logger.Took(start)),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr(), err)
	}
	logger.Store.Info("redis connected",
		slog.String("event", "redis.connect"),
		slog.String("addr", cfg.Addr()),
		slog.Int("db", cfg.DB),
		slog.Duration("duration", logger.Took(start)),
	)
	return rdb, nil
}

func seedLevels(ctx context.Context, cfg *config.Config, mods Modules) (*levels.Repository, error) {
	seeders := mods.Seeders
	if seeders == nil {
		seeders = []Seeder{DirSeeder(cfg.Game.LevelsDir)}
	}
	repo, err := levels.NewRepository()
	if err != nil {
		return nil, err
	}
	for _, s := range seeders {
		if err := s.Seed(ctx, repo); err != nil {
			return nil, err
		}
	}
	if repo.Len() == 0 {
		return nil, fmt.Errorf("no levels loaded")
	}

	ids := make([]string, 0, repo.Len())
	for _, lvl := range repo.All() {
		ids = append(ids, lvl.ID())
	}
	summary, _ := logger.SummarizeStrings(ids, 10)
	logger.Game.Info("levels loaded",
		slog.String("event", "levels.load"),
		slog.Int("count", repo.Len()),
		slog.String("levels", summary),
	)
	if _, err := repo.Get(cfg.Game.DefaultLevel); err != nil {
		logger.Game.Warn("default level not loaded",
			slog.String("event", "levels.default"),
			slog.String("level_id", cfg.Game.DefaultLevel),
		)
	}
	return repo, nil
}
