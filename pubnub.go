package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	pubnubgo "github.com/pubnub/go/v7"
)

var _ Publisher = (*pubnub)(nil)

type PubNubConfig struct {
	PublishKey, SubscribeKey, SecretKey, UUIDKey string
}

// Publisher pushes messages to a visitor's realtime channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, messagePayload any) (string, error)
	GenGrantToken(ctx context.Context, channel string) (string, error)
}

// ChannelFor names the realtime channel of a session identity.
func ChannelFor(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		if r == '_' || r < 128 && (r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return fmt.Sprintf("channel-%s", b.String())
}

func NewPubnub(pnCfg *PubNubConfig) (Publisher, error) {
	if pnCfg == nil {
		return nil, fmt.Errorf("[NewPubnub] pnCfg: must not be nil")
	}

	cfg := pubnubgo.NewConfigWithUserId(pubnubgo.UserId(pnCfg.UUIDKey))
	cfg.PublishKey = pnCfg.PublishKey
	cfg.SubscribeKey = pnCfg.SubscribeKey
	cfg.SecretKey = pnCfg.SecretKey

	return &pubnub{
		pn: pubnubgo.NewPubNub(cfg),
	}, nil
}

type pubnub struct {
	pn *pubnubgo.PubNub
}

func (p *pubnub) Publish(ctx context.Context, channel string, messagePayload any) (string, error) {
	messageJSON, err := setPrepareMessage(messagePayload)
	if err != nil {
		return "", err
	}

	resp, _, err := p.pn.PublishWithContext(ctx).Channel(channel).Message(messageJSON).Execute()
	if err != nil {
		return "", err
	}

	return strconv.FormatInt(resp.Timestamp, 10), nil
}

// GenGrantToken issues a short-lived read token for one visitor channel.
func (p *pubnub) GenGrantToken(ctx context.Context, channel string) (string, error) {
	permissions := map[string]pubnubgo.ChannelPermissions{
		channel: {
			Read: true,
		},
	}

	token, _, err := p.pn.GrantTokenWithContext(ctx).TTL(60).Channels(permissions).Execute()
	if err != nil {
		return "", err
	}

	return token.Data.Token, nil
}

// logPublisher stands in when no PubNub keys are configured.
type logPublisher struct{}

func (logPublisher) Publish(_ context.Context, channel string, messagePayload any) (string, error) {
	messageJSON, err := setPrepareMessage(messagePayload)
	if err != nil {
		return "", err
	}
	slog.Info("realtime disabled, dropping message", "channel", channel, "message", messageJSON)
	return "", nil
}

func (logPublisher) GenGrantToken(context.Context, string) (string, error) {
	return "", nil
}

// setPrepareMessage is a function to format message to JSON
func setPrepareMessage(messagePayload any) (string, error) {
	messageJSON, err := json.Marshal(messagePayload)
	if err != nil {
		return "", err
	}

	return string(messageJSON), nil
}
