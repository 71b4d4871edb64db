package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/distribution"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	chatgrpc "github.com/weiawesome/wes-io-live/chat-relay/internal/grpc"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/handler"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/hub"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/kafka"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/service"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/jwt"
	pkglog "github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/middleware"
	"golang.org/x/sync/errgroup"
)

const serviceName = "chat-relay"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize structured logger
	if cfg.Log.ServiceName == "" {
		cfg.Log.ServiceName = serviceName
	}
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("message_store", cfg.Store.Messages).
		Str("presence_store", cfg.Store.Presence).
		Str("fanout", cfg.Fanout.Driver).
		Msg("starting chat-relay")

	// Stores, caches and their connections
	be, err := openBackends(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open backends")
	}

	// Local fan-out
	broker, err := fanout.NewBroker(cfg.Fanout, be.redis)
	if err != nil {
		be.close()
		logger.Fatal().Err(err).Msg("failed to create fanout broker")
	}

	// Kafka producer and consumer
	producer, err := kafka.NewConfluentProducer(cfg.Kafka)
	if err != nil {
		be.close()
		logger.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	consumerClient, err := kafka.NewConfluentConsumer(cfg.Kafka, cfg.GroupID())
	if err != nil {
		producer.Close()
		be.close()
		logger.Fatal().Err(err).Msg("failed to create kafka consumer")
	}
	logger.Info().Str("brokers", cfg.Kafka.Brokers).Str(pkglog.FieldTopic, cfg.Kafka.Topic).Str("group_id", cfg.GroupID()).Msg("connected to kafka")

	publisher := distribution.NewPublisher(producer, cfg.Distribution, func(msg *domain.Message, err error) {
		if err == nil {
			return
		}
		l := pkglog.L()
		l.Error().Err(err).
			Str(pkglog.FieldRoomID, msg.RoomID).
			Str(pkglog.FieldMessageID, msg.ID).
			Msg("message not distributed to other instances")
	})
	consumer := distribution.NewConsumer(consumerClient, be.messages, broker, distribution.ConsumerConfig{
		InstanceID:       cfg.Instance.ID,
		SuppressSelfEcho: cfg.Distribution.SuppressSelfEcho,
		Workers:          cfg.Distribution.ConsumerWorkers,
		StoreTimeout:     cfg.Store.Timeout,
	})

	// Services
	chatSvc := service.NewChatService(be.messages, broker, publisher, be.history, cfg.Instance.ID, cfg.Store.Timeout)
	tracker := service.NewPresenceTracker(be.presence, broker, cfg.Instance.ID, cfg.Store.Timeout)
	historySvc := service.NewHistoryService(be.messages, be.history, cfg.Cache.TTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Bindings do not survive a restart
	if err := tracker.Reconcile(ctx); err != nil {
		logger.Warn().Err(err).Msg("presence reconciliation failed")
	}

	// WebSocket hub
	wsHub := hub.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		wsHub.Run(hubCtx)
	}()

	var verifier *jwt.Verifier
	if cfg.Auth.JWTSecret != "" {
		verifier = jwt.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Leeway)
	}

	// History REST API (gin, own request logging)
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), pkglog.GinMiddleware(logger))
	if verifier != nil {
		engine.Use(middleware.NewAuthMiddleware(verifier).RequireAuth())
	}
	handler.NewHistoryHandler(historySvc).RegisterRoutes(engine)

	// Routes
	router := mux.NewRouter()
	router.PathPrefix("/api/v1/rooms/").Handler(engine)

	routes := router.NewRoute().Subrouter()
	routes.Use(pkglog.HTTPMiddleware(logger), metrics.Middleware)
	handler.NewWSHandler(wsHub, chatSvc, tracker, broker, verifier, cfg.WebSocket).RegisterRoutes(routes)
	handler.NewPresenceHandler(tracker).RegisterRoutes(routes)
	routes.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	routes.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","connections":%d}`, tracker.Connections())
	}).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Username", "X-Request-ID"},
		MaxAge:           300,
		AllowCredentials: true,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     c.Handler(router),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// gRPC health
	var healthSrv *chatgrpc.HealthServer
	if cfg.GRPC.Enabled {
		healthSrv = chatgrpc.NewHealthServer(logger)
		grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		if err := healthSrv.Start(grpcAddr); err != nil {
			logger.Fatal().Err(err).Msg("failed to start grpc server")
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	g.Go(func() error {
		if err := consumer.Run(consumerCtx); err != nil {
			return fmt.Errorf("distribution consumer: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("chat-relay listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if healthSrv != nil {
		healthSrv.SetServing(true)
	}

	// Wait for a signal or a component failure
	<-gctx.Done()
	logger.Info().Msg("shutting down chat-relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 1. stop advertising, stop accepting connections
	if healthSrv != nil {
		healthSrv.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}

	// 2. close websocket clients; their disconnects still reach the presence store
	stopHub()
	<-hubDone
	waitForDisconnects(shutdownCtx, tracker)

	// 3. drain outstanding distribution work
	if err := publisher.Close(shutdownCtx); err != nil {
		logger.Warn().Err(err).Int("pending", publisher.Pending()).Msg("publisher did not drain")
	}
	producer.Close()

	// 4. stop consuming, then release the transport
	stopConsumer()
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("component stopped with error")
	}
	consumerClient.Close()

	// 5. fan-out and stores
	broker.Close()
	be.close()

	logger.Info().Msg("chat-relay stopped")
}

func waitForDisconnects(ctx context.Context, tracker service.PresenceTracker) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for tracker.Connections() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
