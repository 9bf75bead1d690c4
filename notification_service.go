package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"queue-visitor/internal/queueapi"
)

const notifiedTTL = 24 * time.Hour

type notificationLister interface {
	ListNotifications(ctx context.Context, sessionID string) ([]queueapi.Notification, error)
}

// NotificationService forwards queue-service notifications to a visitor once each.
type NotificationService struct {
	api   notificationLister
	redis *redis.Client
}

func NewNotificationService(api notificationLister, redis *redis.Client) *NotificationService {
	return &NotificationService{api: api, redis: redis}
}

// Pending returns the session's notifications not relayed before, marking them relayed.
func (ns *NotificationService) Pending(ctx context.Context, profileID, sessionID string) ([]queueapi.Notification, error) {
	notifications, err := ns.api.ListNotifications(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("ns.api.ListNotifications(%v): %w", sessionID, err)
	}
	if len(notifications) == 0 {
		return nil, nil
	}

	seenKey := fmt.Sprintf("visitor:%s:notified", profileID)
	var fresh []queueapi.Notification
	for _, n := range notifications {
		added, err := ns.redis.SAdd(ctx, seenKey, strconv.FormatInt(n.ID, 10)).Result()
		if err != nil {
			return fresh, fmt.Errorf("ns.redis.SAdd(%v): %w", seenKey, err)
		}
		if added == 0 {
			continue // already relayed
		}
		fresh = append(fresh, n)
	}
	if err := ns.redis.Expire(ctx, seenKey, notifiedTTL).Err(); err != nil {
		slog.Warn(fmt.Sprintf("ns.redis.Expire(%v)", seenKey), "error", err)
	}

	if len(fresh) > 0 {
		slog.Info("Relaying notifications", "profileID", profileID, "count", len(fresh))
	}
	return fresh, nil
}
