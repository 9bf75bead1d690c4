package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
)

func startAsynqServer(redisOpt asynq.RedisConnOpt, handlers *Handlers) {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeRefreshVisitor, handlers.HandleRefreshVisitor)
	mux.HandleFunc(TypeNotifyVisitor, handlers.HandleNotifyVisitor)
	mux.HandleFunc(TypeSweepViews, handlers.HandleSweepViews)

	// Schedule periodic cleanup
	scheduler := asynq.NewScheduler(redisOpt, nil)

	sweepByte, _ := json.Marshal(SweepViewsPayload{IdleSeconds: int(handlers.cfg.ViewIdleTimeout.Seconds())})

	if _, err := scheduler.Register("@every 1m", asynq.NewTask(TypeSweepViews, sweepByte), asynq.Queue("low")); err != nil {
		log.Fatal("Scheduler failed to register sweep:", err)
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			log.Fatal("Scheduler failed to start:", err)
		}
	}()

	if err := srv.Run(mux); err != nil {
		log.Fatal("Asynq server failed to start:", err)
	}
}

func setupRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/healthz", handlers.Healthz)

	api := e.Group("/api/v1/visitor")

	// Ticket lifecycle
	api.POST("/join", handlers.Join)
	api.GET("", handlers.Get)
	api.GET("/", handlers.Get)
	api.PUT("/notes", handlers.UpdateNotes)
	api.POST("/cancel", handlers.Cancel)
	api.POST("/logout", handlers.Logout)

	// Live view
	api.GET("/view", handlers.View)
	api.POST("/refresh", handlers.Refresh)
	api.DELETE("/view", handlers.DetachView)
	api.GET("/realtime-token", handlers.RealtimeToken)
}

type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &requestValidator{validate: validate}
}

func (rv *requestValidator) Validate(i any) error {
	err := rv.validate.Struct(i)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", fe.Field()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
