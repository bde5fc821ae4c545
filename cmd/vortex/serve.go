package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/divitsinghall/Vortex/internal/api"
	"github.com/divitsinghall/Vortex/internal/bus"
	"github.com/divitsinghall/Vortex/internal/config"
	"github.com/divitsinghall/Vortex/internal/executor"
	"github.com/divitsinghall/Vortex/internal/gateway"
	"github.com/divitsinghall/Vortex/internal/logging"
	"github.com/divitsinghall/Vortex/internal/metrics"
	"github.com/divitsinghall/Vortex/internal/pool"
	"github.com/divitsinghall/Vortex/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var (
		addr        string
		capacity    int
		timeout     time.Duration
		runtimeMode string
		runtimeBin  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Vortex execution plane daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configFile != "" {
				if err := config.LoadFromFile(configFile, cfg); err != nil {
					return err
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("capacity") {
				cfg.Executor.MaxConcurrentExecutions = capacity
			}
			if cmd.Flags().Changed("timeout") {
				cfg.Executor.DefaultExecutionTimeout = config.Duration(timeout)
			}
			if cmd.Flags().Changed("runtime-mode") {
				cfg.Executor.RuntimeMode = runtimeMode
			}
			if cmd.Flags().Changed("runtime-binary") {
				cfg.Executor.RuntimeBinaryPath = runtimeBin
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logging.InitStructured(cfg.Logging.Format, cfg.Logging.Level)
			if cfg.Logging.RequestLogFile != "" {
				if err := logging.Default().SetOutput(cfg.Logging.RequestLogFile); err != nil {
					logging.Op().Warn("request log file unavailable", "error", err)
				}
			}

			return runDaemon(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().IntVar(&capacity, "capacity", 10, "max concurrent executions")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "default per-execution timeout")
	cmd.Flags().StringVar(&runtimeMode, "runtime-mode", "inprocess", "sandbox realization: inprocess or process")
	cmd.Flags().StringVar(&runtimeBin, "runtime-binary", "", "path to vortex-runtime (process mode)")
	return cmd
}

func runDaemon(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Shared Redis client, used by both the source cache and the bus
	// broker when enabled.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	st, err := buildStore(ctx, cfg, redisClient)
	if err != nil {
		return err
	}

	var eventBus bus.Bus
	var redisBus *bus.Redis
	if cfg.Redis.BusBroker {
		redisBus = bus.NewRedisFromClient(redisClient, "", 0)
		eventBus = redisBus
	} else {
		eventBus = bus.NewMemory(0)
	}
	defer eventBus.Close()

	// Probe all remote collaborators concurrently before serving; after
	// startup, request-path failures fail fast instead of retrying.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := store.Probe(gctx, st, 5); err != nil {
			return fmt.Errorf("store unreachable: %w", err)
		}
		return nil
	})
	if redisBus != nil {
		g.Go(func() error {
			if err := redisBus.Ping(gctx); err != nil {
				return fmt.Errorf("bus broker unreachable: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var invoker executor.Invoker
	switch cfg.Executor.RuntimeMode {
	case "process":
		invoker = executor.NewProcessInvoker(cfg.Executor.RuntimeBinaryPath)
	default:
		invoker = executor.NewLocalInvoker()
	}

	p := pool.New(cfg.Executor.MaxConcurrentExecutions)
	exec := executor.New(p, eventBus, invoker,
		executor.WithDefaultTimeout(cfg.Executor.DefaultExecutionTimeout.Std()),
		executor.WithSubscribeGrace(cfg.Executor.SubscribeGracePeriod.Std()),
	)

	h := &api.Handler{
		Store:   st,
		Exec:    exec,
		Gateway: gateway.New(eventBus, exec.Topics()),
		Pool:    p,
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("GET /metrics", metrics.Handler())

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: mux,
		// Subscriptions are long-lived; only bound the handshake read.
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Op().Info("vortex daemon listening",
			"addr", cfg.Server.Addr,
			"capacity", cfg.Executor.MaxConcurrentExecutions,
			"timeout", cfg.Executor.DefaultExecutionTimeout.Std(),
			"runtime_mode", cfg.Executor.RuntimeMode,
			"storage", cfg.Storage.Backend,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Op().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := exec.Shutdown(shutdownCtx); err != nil {
		logging.Op().Warn("in-flight executions did not drain", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func buildStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (store.Store, error) {
	var backing store.Store
	switch cfg.Storage.Backend {
	case "s3":
		s3Store, err := store.NewS3Store(ctx, store.S3Config{
			Bucket:       cfg.Storage.S3Bucket,
			Prefix:       cfg.Storage.S3Prefix,
			Region:       cfg.Storage.S3Region,
			Endpoint:     cfg.Storage.S3Endpoint,
			UsePathStyle: cfg.Storage.S3UsePathStyle,
			AccessKey:    cfg.Storage.S3AccessKey,
			SecretKey:    cfg.Storage.S3SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 store: %w", err)
		}
		backing = s3Store
	default:
		fsStore, err := store.NewFSStore(cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("fs store: %w", err)
		}
		backing = fsStore
	}

	if cfg.Redis.CacheSource && redisClient != nil {
		return store.NewCachedStoreFromClient(backing, redisClient, "", 0), nil
	}
	return backing, nil
}
