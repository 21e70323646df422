package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"pomodoro/timerd/internal/config"
	"pomodoro/timerd/internal/db"
	"pomodoro/timerd/internal/handler"
	"pomodoro/timerd/internal/logging"
	"pomodoro/timerd/internal/notify"
	"pomodoro/timerd/internal/repository"
	"pomodoro/timerd/internal/router"
	"pomodoro/timerd/internal/service"
	"pomodoro/timerd/internal/timer"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "json").Error("load config", "err", err)
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	gin.SetMode(gin.ReleaseMode)

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "err", err)
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	applied, err := db.ApplyMigrations(ctx, database, cfg.MigrationsDir)
	if err != nil {
		logger.Error("run migrations", "dir", cfg.MigrationsDir, "err", err)
		return err
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "names", applied)
	}

	presets, err := timer.LoadPresets(cfg.PresetsFile)
	if err != nil {
		logger.Error("load presets", "path", cfg.PresetsFile, "err", err)
		return err
	}

	userRepo := repository.NewUserRepository(database)
	kvRepo := repository.NewKVRepository(database)
	sessionRepo := repository.NewSessionLogRepository(database)

	scheduler := notify.NewScheduler(logger.With("component", "notify"))
	defer scheduler.Close()

	authService := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.TokenTTL, logger)
	timerService := service.NewTimerService(userRepo, kvRepo, sessionRepo, scheduler, presets, logger.With("component", "timer"))
	scheduler.OnDeliver(timerService.HandleNotification)

	restored, err := timerService.RestoreAll(ctx)
	if err != nil {
		logger.Error("restore timers", "err", err)
		return err
	}
	logger.Info("timers restored", "count", restored)

	engine := router.New(
		authService,
		handler.NewAuthHandler(authService),
		handler.NewTimerHandler(timerService),
		cfg.CORSOrigins,
		logger.With("component", "http"),
	)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("timer server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "err", err)
		return err
	}
	return nil
}
