package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fekuna/omnipos-loyalty-service/config"
	"github.com/fekuna/omnipos-loyalty-service/pkg/database/postgres"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

func main() {
	cfg := config.LoadEnv()
	log := logger.NewZapLogger(&logger.ZapLoggerConfig{
		IsDevelopment:     cfg.Server.AppEnv == "dev",
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
		Level:             cfg.Logger.Level,
		Encoding:          cfg.Logger.Encoding,
	})
	defer log.Sync()

	db, err := postgres.NewPostgres(&postgres.Config{
		Host:           cfg.Postgres.Host,
		Port:           cfg.Postgres.Port,
		User:           cfg.Postgres.User,
		Password:       cfg.Postgres.Password,
		DBName:         cfg.Postgres.DBName,
		SSLMode:        cfg.Postgres.SSLMode,
		MaxOpenConns:   1,
		MaxIdleConns:   1,
		ConnectTimeout: cfg.Postgres.ConnectTimeout,
	})
	if err != nil {
		log.Fatal("Could not connect to database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	applied, err := postgres.Migrate(ctx, db)
	if err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}
	if len(applied) == 0 {
		log.Info("Schema up to date")
		return
	}
	log.Info("Applied migrations", zap.Strings("files", applied))
}
