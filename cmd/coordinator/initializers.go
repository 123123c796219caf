package main

import (
	"fmt"
	"net/http"

	"gpurelay/app/handler"
	"gpurelay/app/router"
	"gpurelay/internal/service"
	"gpurelay/pkg/config"
	"gpurelay/pkg/interfaces"
	"gpurelay/pkg/logger"
	redisstore "gpurelay/pkg/store/redis"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(app.config.Logger); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		_ = logger.Sync()
	})
	return nil
}

// initRedis initializes the queue backend connection and repositories
func (app *Application) initRedis() error {
	client, err := redisstore.NewRedisClient(app.config.Redis)
	if err != nil {
		return err
	}
	app.redisClient = client
	app.registerCleanup(func() {
		if err := client.Close(); err != nil {
			logger.ErrorCtx(app.ctx, "Failed to close Redis connection: %v", err)
			return
		}
		logger.InfoCtx(app.ctx, "Redis connection has been closed")
	})

	app.workerRepo = redisstore.NewWorkerRepository(client)
	app.queueRepo = redisstore.NewQueueRepository(client)
	app.resultRepo = redisstore.NewResultRepository(client)

	logger.InfoCtx(app.ctx, "Redis connected: %s", app.config.Redis.Addr)
	return nil
}

// initServices initializes the registry cache, dispatcher and result lookup
func (app *Application) initServices() error {
	app.registryCache = service.NewRegistryCache(app.workerRepo, app.config.Cache.RefreshInterval)
	app.workerService = service.NewWorkerService(app.workerRepo, app.registryCache, app.config.Registry.TTL)

	var counter interfaces.Counter
	switch app.config.Dispatcher.Counter {
	case "local":
		logger.WarnCtx(app.ctx, "Using in-process dispatch counter, rotation is not shared between coordinator replicas")
		counter = &service.LocalCounter{}
	case "redis":
		counter = redisstore.NewDispatchCounter(app.redisClient)
	default:
		return fmt.Errorf("unsupported dispatch counter: %s", app.config.Dispatcher.Counter)
	}

	app.dispatcher = service.NewDispatcher(app.registryCache, app.queueRepo, counter)
	app.resultService = service.NewResultService(app.resultRepo)
	return nil
}

// initHandlers initializes handlers
func (app *Application) initHandlers() error {
	app.workerHandler = handler.NewWorkerHandler(app.workerService)
	app.inferenceHandler = handler.NewInferenceHandler(app.dispatcher, app.resultService, app.config.Result.WatchInterval)
	return nil
}

// initHTTPServer initializes the gin engine and HTTP server
func (app *Application) initHTTPServer() error {
	gin.SetMode(app.config.Server.Mode)
	app.ginEngine = gin.New()

	router.NewRouter(app.workerHandler, app.inferenceHandler).Setup(app.ginEngine)

	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}
	return nil
}
