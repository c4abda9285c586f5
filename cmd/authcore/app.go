package main

import (
	"github.com/ofn-labs/authcore"
	"github.com/ofn-labs/authcore/accountstore"
	"github.com/ofn-labs/authcore/dispatch"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the connections shared by every subcommand.
type app struct {
	cfg    *appConfig
	logger *zap.Logger
	redis  *redis.Client
	store  *accountstore.Store
	queue  *dispatch.Queue
	engine *authcore.Engine
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.redis = redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := a.redis.Ping(cmd.Context()).Err(); err != nil {
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", cfg.Redis.Addr).Wrap(err)
	}

	a.store, err = accountstore.Open(cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	engineCfg, err := cfg.engineConfig()
	if err != nil {
		return nil, err
	}
	a.queue = dispatch.NewQueue(a.redis, dispatch.Config{
		Prefix: engineCfg.Dispatch.RedisPrefix,
		Shards: engineCfg.Dispatch.Shards,
	})

	a.engine, err = authcore.New().
		WithConfig(engineCfg).
		WithRedis(a.redis).
		WithAccountProvider(a.store).
		WithQueue(a.queue).
		WithAuditSink(authcore.NewZapSink(logger.Named("audit"))).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, oops.Code("ENGINE_BUILD_FAILED").Wrap(err)
	}

	ok = true
	return a, nil
}

func (a *app) Close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing account store", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.logger.Sync()
}

// report prints the caller-facing message for err and returns it so cobra
// exits non-zero.
func report(cmd *cobra.Command, err error) error {
	cmd.PrintErrln(authcore.UserMessage(err))
	return err
}
