package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/orderflow/pkg/clients"
	"github.com/example/orderflow/pkg/config"
	"github.com/example/orderflow/pkg/discovery"
	"github.com/example/orderflow/pkg/events"
	"github.com/example/orderflow/pkg/grpc"
	"github.com/example/orderflow/pkg/httpapi"
	"github.com/example/orderflow/pkg/logger"
	"github.com/example/orderflow/pkg/metrics"
	"github.com/example/orderflow/pkg/orders"
	"github.com/example/orderflow/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func main() {
	configPath := "config/order-config.yaml"
	if p := os.Getenv("ORDERFLOW_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	// amounts go over the wire as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	log.Info("Starting order service",
		zap.String("name", cfg.Server.Name),
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Storage
	db, err := repository.OpenDB(&cfg.Database, &cfg.MySQL)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	baseStore := repository.NewOrderStore(db, log.Named("store"))
	if err := baseStore.Migrate(); err != nil {
		log.Fatal("Failed to migrate database", zap.Error(err))
	}

	var store orders.Store = baseStore
	if cfg.Redis.Enabled() {
		cache := repository.NewRedisOrderCache(&cfg.Redis)
		defer cache.Close()
		if err := cache.Ping(ctx); err != nil {
			log.Warn("Redis connection failed, order cache degraded", zap.Error(err))
		} else {
			log.Info("Redis connected successfully")
		}
		store = repository.NewCachedOrderStore(baseStore, cache, log.Named("cache"))
	}

	var auditor events.Auditor
	if cfg.MongoDB.Enabled() {
		audit, err := repository.NewAuditRepository(&cfg.MongoDB, cfg.Server.Name)
		if err != nil {
			log.Warn("MongoDB unavailable, continuing without audit trail", zap.Error(err))
		} else {
			defer audit.Close(context.Background())
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := audit.Ping(pingCtx); err != nil {
				log.Warn("MongoDB ping failed, audit entries may be lost", zap.Error(err))
			}
			cancel()
			auditor = audit
		}
	}

	// Metrics and events
	m := metrics.New()
	if err := m.Register(metrics.NewOrderGauges(baseStore, log)); err != nil {
		log.Fatal("Failed to register order gauges", zap.Error(err))
	}

	sinks := events.Sinks{Counters: m, Audit: auditor}
	if cfg.Kafka.Enabled() {
		publisher := events.NewKafkaPublisher(&cfg.Kafka, log)
		defer publisher.Close()
		sinks.Publisher = publisher
		log.Info("Publishing order events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	dispatcher, err := events.NewDispatcher(sinks, log)
	if err != nil {
		log.Fatal("Failed to start event dispatcher", zap.Error(err))
	}

	// Discovery and remote services
	var (
		sd       *discovery.ServiceDiscovery
		resolver clients.Resolver
	)
	if cfg.Etcd.Enabled() {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd, log)
		if err != nil {
			log.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
		} else {
			defer sd.Close()
			resolver = sd
		}
	}

	manager := clients.NewManager(&cfg.Services, resolver, log)
	manager.Connect(ctx)

	svc := orders.NewService(store, manager.UserClient(), manager.ProductClient(), dispatcher, cfg.Orders, log)

	// Servers
	health := grpc.NewHealthServer(map[string]grpc.Check{
		grpc.UserServiceName:    manager.PingUser,
		grpc.ProductServiceName: manager.PingProduct,
	}, cfg.GRPC.HealthInterval, log)
	api := httpapi.NewServer(svc, m, log.Named("http"))

	serverErr := make(chan error, 2)
	go func() {
		if err := health.Start(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port)); err != nil {
			serverErr <- fmt.Errorf("grpc: %w", err)
		}
	}()
	go health.Poll(ctx)
	go func() {
		if err := api.Start(cfg.Server.Addr()); err != nil {
			serverErr <- fmt.Errorf("http: %w", err)
		}
	}()

	var instance *discovery.ServiceInstance
	if sd != nil {
		host, err := cfg.Server.Advertised()
		if err != nil {
			log.Error("Failed to register service", zap.Error(err))
		} else {
			instance = &discovery.ServiceInstance{
				Name: cfg.Server.Name,
				Host: host,
				Port: cfg.Server.Port,
			}
			if err := sd.Register(ctx, instance); err != nil {
				log.Error("Failed to register service", zap.Error(err))
				instance = nil
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-serverErr:
		log.Error("Server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if instance != nil {
		if err := sd.Deregister(shutdownCtx, instance); err != nil {
			log.Error("Failed to deregister service", zap.Error(err))
		}
	}
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	stop()
	health.Stop()
	if err := dispatcher.Close(); err != nil {
		log.Error("Event dispatcher shutdown failed", zap.Error(err))
	}

	log.Info("Service stopped")
}
