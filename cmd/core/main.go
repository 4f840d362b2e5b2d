package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	grpc_adapter "github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/breaker"
	memory_adapter "github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/memory"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/metrics"
	mysql_adapter "github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/mysql"
	rabbitmq_adapter "github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/rabbitmq"
	redis_adapter "github.com/JoeShih716/go-outbox-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/outbox"
	"github.com/JoeShih716/go-outbox-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-outbox-ledger/internal/config"
	"github.com/JoeShih716/go-outbox-ledger/pkg/logging"
	"github.com/JoeShih716/go-outbox-ledger/pkg/mysql"
	"github.com/JoeShih716/go-outbox-ledger/pkg/wal"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

// closer 關機時依反向順序釋放的資源
type closer func() error

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn("close resource", zap.Error(err))
			}
		}
	}()

	collector, err := metrics.NewCollector("ledger")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// 2. 寫入端儲存
	health := make(map[string]pinger)
	var (
		accountStore usecase.AccountStore
		ledgerStore  usecase.LedgerStore
		outboxStore  usecase.OutboxStore
	)
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		client, err := mysql.NewClient(cfg.MySQL, logger.Named("mysql"))
		if err != nil {
			return err
		}
		closers = append(closers, client.Close)
		health["mysql"] = client
		if err := mysql_adapter.AutoMigrate(client.DB()); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		accountStore = mysql_adapter.NewAccountStore(client)
		ledger := mysql_adapter.NewLedgerStore(client)
		ledgerStore, outboxStore = ledger, ledger
	default:
		var w *wal.WAL
		if cfg.Store.WALPath != "" {
			w, err = wal.NewWAL(cfg.Store.WALPath)
			if err != nil {
				return fmt.Errorf("init wal: %w", err)
			}
			closers = append(closers, w.Close)
		}
		ledger, err := memory_adapter.NewLedgerStore(w)
		if err != nil {
			return fmt.Errorf("init ledger store: %w", err)
		}
		accountStore = memory_adapter.NewAccountStore()
		ledgerStore, outboxStore = ledger, ledger
	}
	logger.Info("store ready", zap.String("driver", cfg.Store.Driver))

	// 3. 讀模型
	var balances usecase.BalanceReadModel
	switch cfg.ReadModel.Driver {
	case config.DriverRedis:
		rm, err := redis_adapter.NewBalanceReadModel(cfg.Redis)
		if err != nil {
			return err
		}
		closers = append(closers, func() error { rm.Close(); return nil })
		health["redis"] = rm
		balances = rm
	default:
		balances = memory_adapter.NewBalanceReadModel()
	}

	// 4. 事件匯流排
	var (
		publisher  usecase.EventPublisher
		subscriber usecase.EventSubscriber
	)
	switch cfg.Bus.Driver {
	case config.DriverRabbitMQ:
		pub, err := rabbitmq_adapter.NewPublisher(cfg.RabbitMQ, logger)
		if err != nil {
			return err
		}
		closers = append(closers, pub.Close)
		sub, err := rabbitmq_adapter.NewSubscriber(cfg.RabbitMQ, logger)
		if err != nil {
			return err
		}
		closers = append(closers, sub.Close)
		publisher, subscriber = pub, sub
	default:
		bus := memory_adapter.NewEventBus(cfg.Bus.Buffer, logger)
		bus.Start(ctx)
		publisher, subscriber = bus, bus
	}
	publisher = breaker.NewPublisher(cfg.Bus.Driver, publisher, cfg.Breaker, logger, collector)

	// 5. UseCase
	accountSvc := usecase.NewAccountService(accountStore, balances, logger)
	ledgerSvc := usecase.NewLedgerService(ledgerStore, outboxStore, accountSvc, cfg.Ledger.UseCase(), logger)
	core := usecase.NewCoreUseCase(accountSvc, ledgerSvc)

	if n, err := core.RebuildReadModel(ctx); err != nil {
		logger.Warn("initial read model rebuild failed", zap.Error(err))
	} else {
		logger.Info("read model warmed", zap.Int("accounts", n))
	}

	consumer := usecase.NewLedgerEventConsumer(accountStore, balances,
		usecase.ConsumerConfig{Dedupe: cfg.Consumer.Dedupe}, logger,
		usecase.WithConsumerMetrics(collector))
	dispatcher := outbox.NewDispatcher(outboxStore, publisher, cfg.Outbox, logger, outbox.WithMetrics(collector))

	// 6. 對外介面
	grpcServer, healthServer := grpc_adapter.NewServer(core, logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	mux.Handle("/healthz", healthHandler(health, logger))
	httpServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, subscriber)
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("grpc server listening", zap.String("addr", cfg.Server.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("metrics server listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// Graceful Shutdown
		<-gctx.Done()
		logger.Info("shutting down")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
