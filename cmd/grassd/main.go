// Command grassd runs one shard of the game server.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/codegrass/server/internal/config"
	"github.com/codegrass/server/internal/directory"
	"github.com/codegrass/server/internal/logging"
	"github.com/codegrass/server/internal/sandbox"
	"github.com/codegrass/server/internal/shard"
	"github.com/codegrass/server/internal/task"
)

func main() {
	var (
		debug = flag.Bool("debug", false, "enable debug logging (overrides LOG_LEVEL)")
	)
	flag.Parse()

	bootLogger := logging.New(logging.Options{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	// automaxprocs sets GOMAXPROCS from the container CPU limit.
	logger.Info().Int("gomaxprocs", runtime.GOMAXPROCS(0)).Msg("Runtime configured")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dir, err := directory.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("redis_addr", cfg.RedisAddr).Msg("Failed to connect to Redis")
	}
	defer dir.Close()

	if cfg.ShouldResetRedis {
		if err := dir.DebugReset(ctx); err != nil {
			logger.Warn().Err(err).Msg("Debug reset failed")
		} else {
			logger.Info().Msg("Debug reset applied")
		}
	}

	catalogue, err := task.Load(cfg.TasksPath)
	if err != nil {
		logger.Fatal().Err(err).Str("tasks_path", cfg.TasksPath).Msg("Failed to load task catalogue")
	}
	logger.Info().Int("tasks", catalogue.Len()).Msg("Task catalogue loaded")

	runner, err := sandbox.Dial(cfg.SandboxAddr)
	if err != nil {
		logger.Fatal().Err(err).Str("sandbox_addr", cfg.SandboxAddr).Msg("Failed to dial sandbox")
	}
	defer runner.Close()

	sh := shard.New(cfg, logger, dir, catalogue, runner)
	if err := sh.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("Shard terminated with error")
		var cerr *shard.CriticalError
		if errors.As(err, &cerr) {
			os.Exit(cerr.Code)
		}
		os.Exit(1)
	}
	logger.Info().Msg("Shard stopped")
}
