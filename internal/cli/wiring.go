package cli

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"time"

	"classroom-quiz-service/internal/app"
	"classroom-quiz-service/internal/checkpoint"
	"classroom-quiz-service/internal/config"
	"classroom-quiz-service/internal/infra/memory"
	"classroom-quiz-service/internal/infra/postgres"
	infraredis "classroom-quiz-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type runtime struct {
	service   *app.RuntimeService
	lifecycle *app.LifecycleService
	closers   []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

// buildRuntime wires storage and services from cfg. Without a Postgres URL the
// in-memory demo backend is used; Redis is optional in both modes.
func buildRuntime(ctx context.Context, cfg config.Config, log *slog.Logger) (*runtime, error) {
	rt := &runtime{}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rt.closers = append(rt.closers, func() { _ = redisClient.Close() })
	}

	var (
		store  app.Store
		bank   app.QuestionBank
		loader memory.QuizLoader
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.closers = append(rt.closers, pool.Close)

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		rt.closers = append(rt.closers, func() { _ = db.Close() })

		store = postgres.NewStore(db)
		bank = postgres.NewQuestionBank(pool)
		loader = postgres.NewQuizLoader(pool)
	} else {
		log.Warn("postgres url not configured, serving the in-memory demo classroom")
		demo := memory.NewDemo(time.Now().UTC())
		store, bank, loader = demo.Store, demo.Bank, demo.Quizzes
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var (
		quizzes app.QuizRepository
		markers app.SnapshotMarkers
	)
	if redisClient != nil {
		redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
		quizzes = infraredis.NewQuizRepository(redisClient, loader, quizTTL, log)
		markers = infraredis.NewSnapshotMarkers(redisClient, redisTTL, log)
	} else {
		quizzes = memory.NewQuizRepository(loader, quizTTL)
		markers = memory.NewSnapshotMarkers()
	}

	buildCfg := app.DefaultBuildConfig()
	if cfg.Snapshot.DefaultExtraPercent > 0 {
		buildCfg.DefaultExtraPercent = cfg.Snapshot.DefaultExtraPercent
	}
	buildCfg.MaxCandidates = config.IntOr(cfg.Snapshot.MaxCandidates, buildCfg.MaxCandidates)
	buildCfg.OversampleFactor = config.IntOr(cfg.Snapshot.OversampleFactor, buildCfg.OversampleFactor)
	builder := app.NewSnapshotBuilder(store, quizzes, bank, store, markers, buildCfg, log)

	machine := checkpoint.New(checkpointPolicy(cfg))
	rt.service = app.NewRuntimeService(store, quizzes, builder, machine, app.RuntimeOptions{
		TokenDigits: config.IntOr(cfg.Checkpoint.Digits, 6),
		Log:         log,
	})
	rt.lifecycle = app.NewLifecycleService(store, builder, log, nil)
	return rt, nil
}

func checkpointPolicy(cfg config.Config) checkpoint.Policy {
	p := checkpoint.DefaultPolicy()
	c := cfg.Checkpoint
	p.IntervalMin = config.TTLDuration(c.IntervalMin, p.IntervalMin)
	p.IntervalMax = config.TTLDuration(c.IntervalMax, p.IntervalMax)
	p.CooldownAfter = config.IntOr(c.CooldownAfter, p.CooldownAfter)
	p.Cooldown = config.TTLDuration(c.Cooldown, p.Cooldown)
	p.LockAfter = config.IntOr(c.LockAfter, p.LockAfter)
	p.Lockout = config.TTLDuration(c.Lockout, p.Lockout)
	p.WarningWindow = config.TTLDuration(c.WarningWindow, p.WarningWindow)
	return p
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}
