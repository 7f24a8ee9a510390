package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/damage-detector/internal/config"
	"github.com/Brownie44l1/damage-detector/internal/detect"
	"github.com/Brownie44l1/damage-detector/internal/handlers"
	"github.com/Brownie44l1/damage-detector/internal/logging"
	"github.com/Brownie44l1/damage-detector/internal/model"
	"github.com/Brownie44l1/damage-detector/internal/worker"
)

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(slog.Default(), "failed to load config", err)
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(logger)

	logger.Info("loading model", "name", cfg.Model.Name, "dir", cfg.Model.Dir)

	provider, err := model.LoadProvider(cfg.Model.Dir, cfg.Model.File, cfg.Model.Name)
	if err != nil {
		fatal(logger, "failed to load model artifacts", err)
	}

	modelServer, err := model.NewServer(provider, model.ServerOptions{
		LibraryPath: cfg.Model.ORTLibrary,
		InputName:   cfg.Model.InputName,
		OutputName:  cfg.Model.OutputName,
		Sessions:    cfg.Inference.Workers,
	})
	if err != nil {
		fatal(logger, "failed to initialize model server", err)
	}

	pool := worker.NewPool(cfg.Inference.Workers)

	detector, err := detect.NewService(detect.Options{
		Provider:  provider,
		Engine:    modelServer,
		Pool:      pool,
		Logger:    logger,
		MaxPixels: cfg.Server.MaxImagePixels,
	})
	if err != nil {
		modelServer.Close()
		fatal(logger, "failed to build detector", err)
	}
	// Deferred in reverse: the pool drains before the sessions are destroyed.
	defer detector.Close()
	defer pool.Close()

	if strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := handlers.NewRouter(handlers.NewHandler(detector, cfg.Server.MaxUploadBytes, logger), logger)

	srv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	logger.Info("model loaded",
		"path", provider.ModelPath(),
		"labels", provider.Labels(),
		"input_shape", provider.InputShape(),
		"workers", pool.Size(),
	)

	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("server stopped")
}
