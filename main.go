// main.go - Entry point
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"queue-visitor/internal/config"
	"queue-visitor/internal/queueapi"
	"queue-visitor/internal/session"
	"queue-visitor/internal/telemetry"
)

func main() {
	cfg := config.Load()

	shutdownTracing := telemetry.Setup(cfg.ServiceName)
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Error("shutdownTracing()", "error", err)
		}
	}()

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL:", err)
	}
	redisClientOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal("Invalid REDIS_URL:", err)
	}
	redisClient := redis.NewClient(redisClientOpt)
	defer redisClient.Close()

	publisher := Publisher(logPublisher{})
	if cfg.RealtimeEnabled() {
		publisher, err = NewPubnub(&PubNubConfig{
			PublishKey:   cfg.PubNubPublishKey,
			SubscribeKey: cfg.PubNubSubscribeKey,
			SecretKey:    cfg.PubNubSecretKey,
			UUIDKey:      cfg.PubNubUUID,
		})
		if err != nil {
			log.Fatal("PubNub setup failed:", err)
		}
	} else {
		slog.Warn("PN_PUBLISH_KEY/PN_SUBSCRIBE_KEY not set, realtime updates disabled")
	}

	queueClient := queueapi.NewClient(cfg.QueueAPIURL, cfg.QueueAPITimeout)
	visitors := NewVisitors(queueClient, VisitorsConfig{
		NewStore: func(profileID string) session.Store {
			return session.NewRedisStore(redisClient, profileID)
		},
		AverageService: cfg.AverageService,
		DisplayTick:    cfg.DisplayTick,
	})
	notificationService := NewNotificationService(queueClient, redisClient)

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	handlers := NewHandlers(cfg, visitors, notificationService, publisher, asynqClient)

	go startAsynqServer(redisOpt, handlers)

	e := echo.New()
	e.HideBanner = true
	e.Validator = newRequestValidator()
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware(cfg.ServiceName)))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	setupRoutes(e, handlers)

	go func() {
		slog.Info("Starting queue-visitor", "port", cfg.Port, "queueAPI", cfg.QueueAPIURL)
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start:", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
}
