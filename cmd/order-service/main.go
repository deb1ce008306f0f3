package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront-orders/docs"
	"github.com/MikeMC777/storefront-orders/internal/cache"
	"github.com/MikeMC777/storefront-orders/internal/config"
	"github.com/MikeMC777/storefront-orders/internal/grpcx"
	"github.com/MikeMC777/storefront-orders/internal/httpx"
	"github.com/MikeMC777/storefront-orders/internal/kafka"
	"github.com/MikeMC777/storefront-orders/internal/metrics"
	"github.com/MikeMC777/storefront-orders/internal/observability"
	ord "github.com/MikeMC777/storefront-orders/internal/order"
	"github.com/MikeMC777/storefront-orders/internal/outbox"
	"github.com/MikeMC777/storefront-orders/internal/postgres"
	prod "github.com/MikeMC777/storefront-orders/internal/product"
	"github.com/MikeMC777/storefront-orders/migrations"
)

// @title Order Service API
// @version 1.0
// @BasePath /
func main() {
	cfg := config.Load("order-service")

	logger, err := observability.NewLogger(cfg.ServiceName, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal("tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer pool.Close()
	if err := migrations.Apply(ctx, pool); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "order_service")

	events := outbox.NewStore(pool)
	opts := []ord.Option{
		ord.WithEvents(events),
		ord.WithLogger(logger),
		ord.WithMetrics(m),
		ord.WithProducer(cfg.ServiceName),
		ord.WithStrictTransitions(cfg.StrictTransitions),
		ord.WithTotalCheck(cfg.VerifyTotal),
	}
	if cfg.RedisAddr != "" {
		rdb := cache.New(cfg.RedisAddr)
		defer func() { _ = rdb.Close() }()
		opts = append(opts, ord.WithCache(cache.NewRedis(rdb, logger)))
		logger.Info("redis cache enabled", zap.String("addr", cfg.RedisAddr))
	}
	svc := ord.NewService(ord.NewPGRepo(pool), prod.NewPGRepo(pool), opts...)

	kc := kafka.NewClient(cfg.KafkaBrokers)
	if kc.Enabled() {
		pub := kafka.NewPublisher(kc)
		defer func() { _ = pub.Close() }()
		relay := outbox.NewRelay(events, pub, cfg.OutboxPollInterval, cfg.OutboxBatchSize, logger, m)
		go relay.Run(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS empty; outbox events stay pending")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), httpx.RequestID(), httpx.Trace(cfg.ServiceName), httpx.Logger(logger),
		httpx.Metrics(m), httpx.Timeout(cfg.RequestTimeout))

	r.GET("/healthz", func(c *gin.Context) {
		pctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pctx); err != nil {
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler,
		ginSwagger.InstanceName(docs.OrdersInfo.InstanceName())))
	registerRoutes(r, svc)

	health := grpcx.NewHealthServer(cfg.ServiceName, logger)
	lis, err := net.Listen("tcp", cfg.OrderGRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.Error(err))
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()
	go health.Watch(ctx, pool, 5*time.Second)

	srv := &http.Server{Addr: cfg.OrderSvcAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("order-service listening", zap.String("addr", cfg.OrderSvcAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	health.Stop()
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
}
