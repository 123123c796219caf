package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"gpurelay/app/router"
	"gpurelay/internal/agent"
	"gpurelay/pkg/capability"
	"gpurelay/pkg/client"
	"gpurelay/pkg/config"
	"gpurelay/pkg/executor"
	"gpurelay/pkg/logger"
	redisstore "gpurelay/pkg/store/redis"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		logger.FatalCtx(context.Background(), "Worker exited with error: %v", err)
	}
}

func run() error {
	if err := config.Init(); err != nil {
		return err
	}
	cfg := config.GlobalConfig

	if err := logger.Init(cfg.Logger); err != nil {
		return err
	}
	defer logger.Sync()

	redisClient, err := redisstore.NewRedisClient(cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	exec, err := executor.New(cfg.Executor)
	if err != nil {
		return err
	}
	discoverer, err := capability.New(cfg.Capability)
	if err != nil {
		return err
	}

	registrar, err := newRegistrar(cfg, redisClient)
	if err != nil {
		return err
	}

	a := agent.New(agent.Options{
		WorkerID:      cfg.Agent.WorkerID,
		RenewInterval: cfg.Agent.RenewInterval,
		PollTimeout:   cfg.Agent.PollTimeout,
		ResultTTL:     cfg.Result.TTL,
	}, registrar, discoverer, exec,
		redisstore.NewQueueRepository(redisClient),
		redisstore.NewResultRepository(redisClient),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.InfoCtx(ctx, "Starting worker %s (executor: %s, registration: %s)",
		a.WorkerID(), cfg.Executor.Type, cfg.Agent.Registration)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Run(gctx)
	})

	if cfg.Agent.HealthPort > 0 {
		srv := newHealthServer(cfg)
		g.Go(func() error {
			logger.InfoCtx(gctx, "Health server listening on: %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.InfoCtx(context.Background(), "Worker %s safely exited", a.WorkerID())
	return nil
}

// newRegistrar picks the registration transport
func newRegistrar(cfg *config.Config, redisClient *redisstore.RedisClient) (agent.Registrar, error) {
	switch cfg.Agent.Registration {
	case "http":
		c := client.New(cfg.Agent.CoordinatorURL)
		return agent.NewHTTPRegistrar(c), nil
	case "redis":
		return agent.NewStoreRegistrar(redisstore.NewWorkerRepository(redisClient), cfg.Registry.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported registration transport: %s", cfg.Agent.Registration)
	}
}

func newHealthServer(cfg *config.Config) *http.Server {
	gin.SetMode(cfg.Server.Mode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	router.SetupOps(engine)
	return &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Agent.HealthPort),
		Handler: engine,
	}
}
