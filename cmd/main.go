package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/fekuna/omnipos-loyalty-service/config"
	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	"github.com/fekuna/omnipos-loyalty-service/internal/customer/handler"
	"github.com/fekuna/omnipos-loyalty-service/internal/customer/listener"
	customerrepo "github.com/fekuna/omnipos-loyalty-service/internal/customer/repository"
	customer "github.com/fekuna/omnipos-loyalty-service/internal/customer/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/ledger/publisher"
	ledgerrepo "github.com/fekuna/omnipos-loyalty-service/internal/ledger/repository"
	ledger "github.com/fekuna/omnipos-loyalty-service/internal/ledger/usecase"
	"github.com/fekuna/omnipos-loyalty-service/internal/middleware"
	"github.com/fekuna/omnipos-loyalty-service/internal/tenant"
	"github.com/fekuna/omnipos-loyalty-service/internal/web"
	"github.com/fekuna/omnipos-loyalty-service/internal/worker"
	loyaltyv1 "github.com/fekuna/omnipos-loyalty-service/pkg/api/loyalty/v1"
	"github.com/fekuna/omnipos-loyalty-service/pkg/broker"
	"github.com/fekuna/omnipos-loyalty-service/pkg/database/postgres"
	"github.com/fekuna/omnipos-loyalty-service/pkg/logger"
)

func main() {
	// 1. Load Configuration
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	logConfig := &logger.ZapLoggerConfig{
		IsDevelopment:     cfg.Server.AppEnv == "dev" || cfg.Server.AppEnv == "development",
		Encoding:          cfg.Logger.Encoding,
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	}
	log := logger.NewZapLogger(logConfig)
	defer log.Sync()

	log.Info("Starting OmniPOS Loyalty Service", zap.String("env", cfg.Server.AppEnv))

	// 3. Connect to Database
	db, err := postgres.NewPostgres(&postgres.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		DBName:          cfg.Postgres.DBName,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		ConnectTimeout:  cfg.Postgres.ConnectTimeout,
	})
	if err != nil {
		log.Fatal("Could not connect to database", zap.Error(err))
	}
	closers := []io.Closer{db}
	log.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

	// 4. Initialize Components
	restaurants := tenant.NewPGRepository(db)
	tenants := tenant.NewService(tenant.Rules{
		DevSlug:   cfg.Tenant.DevSlug,
		MinLabels: cfg.Tenant.MinLabels,
		Reserved:  cfg.Tenant.ReservedPrefixes,
	}, restaurants, log)

	var events ledger.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(&broker.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.LedgerTopic})
		closers = append(closers, producer)
		events = publisher.NewKafkaPublisher(producer, cfg.Ledger.PersistenceTimeout)
		log.Info("Publishing ledger events", zap.String("topic", cfg.Kafka.LedgerTopic))
	}

	ledgerUC := ledger.NewLedgerUseCase(ledgerrepo.NewPGRepository(db), events, log, ledger.Options{
		Timeout:  cfg.Ledger.PersistenceTimeout,
		PageSize: cfg.Ledger.HistoryPageSize,
	})
	customerUC := customer.NewCustomerUseCase(customerrepo.NewPGRepository(db), restaurants, ledgerUC, log, customer.Options{
		WelcomeBonus:     cfg.Ledger.WelcomeBonus,
		FinalizeAttempts: cfg.Ledger.QRFinalizeAttempts,
		Timeout:          cfg.Ledger.PersistenceTimeout,
	})
	provider := auth.NewProvider(auth.NewPGRepository(db), auth.Config{
		SecretKey: cfg.JWT.SecretKey,
		Issuer:    cfg.JWT.Issuer,
		TTL:       cfg.JWT.TTL,
	}, log)

	// 5. gRPC server for staff tools
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.UnaryLogger(log),
			middleware.NewAuthContextInterceptor(provider, log).Unary(),
		),
	)
	loyaltyv1.RegisterLoyaltyServiceServer(grpcServer, handler.NewLoyaltyHandler(customerUC, ledgerUC, log))

	lis, err := net.Listen("tcp", cfg.Server.GRPCPort)
	if err != nil {
		log.Fatal("Failed to listen", zap.String("port", cfg.Server.GRPCPort), zap.Error(err))
	}

	// 6. HTTP server for customers
	webHandler := web.NewHandler(tenants, provider, customerUC, ledgerUC, db, log, web.Options{
		AuthRatePerMinute: cfg.Server.AuthRatePerMinute,
		QRSize:            cfg.Server.QRSize,
		SecureCookies:     cfg.Server.AppEnv == "production",
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPPort,
		Handler:           webHandler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("gRPC server listening", zap.String("port", cfg.Server.GRPCPort))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	// 7. Background workers
	g.Go(func() error {
		return worker.NewSweeper(customerUC, cfg.Sweeper.Interval, cfg.Sweeper.Grace, log).Run(gctx)
	})
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(&broker.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
		closers = append(closers, consumer)
		log.Info("Connected to Kafka Consumer", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
		g.Go(func() error {
			listener.NewOrderListener(consumer, ledgerUC, log).Start(gctx)
			return nil
		})
	}

	// Graceful Shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down servers...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}

	var closeErr error
	for i := len(closers) - 1; i >= 0; i-- {
		closeErr = multierr.Append(closeErr, closers[i].Close())
	}
	if closeErr != nil {
		log.Error("Failed to release resources", zap.Error(closeErr))
	}
	log.Info("Server exited")
}
