package main

import (
	"context"
	"os"

	"pomodoro/timerd/internal/config"
	"pomodoro/timerd/internal/db"
	"pomodoro/timerd/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "json").Error("load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	database, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		logger.Error("open database", "path", cfg.DBPath, "err", err)
		os.Exit(1)
	}
	defer database.Close()

	applied, err := db.ApplyMigrations(context.Background(), database, cfg.MigrationsDir)
	if err != nil {
		logger.Error("run migrations", "dir", cfg.MigrationsDir, "err", err)
		os.Exit(1)
	}

	if len(applied) == 0 {
		logger.Info("schema is up to date")
		return
	}
	for _, name := range applied {
		logger.Info("migration applied", "name", name)
	}
}
