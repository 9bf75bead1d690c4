// Package identity derives the stable pseudo-random token a browser profile
// uses as its session identity with the queue service.
package identity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/google/uuid"

	"queue-visitor/internal/session"
)

const DefaultTag = "dev_"

// Hash folds s through a 32-bit rolling hash (h = h*31 + unit) over its UTF-16
// code units, wrapping on overflow.
func Hash(s string) int32 {
	var h int32
	for _, unit := range utf16.Encode([]rune(s)) {
		h = (h << 5) - h + int32(unit)
	}
	return h
}

// Derive computes the identity for a complete signal set: tag followed by the
// base-36 absolute value of the hash.
func Derive(tag string, s Signals) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	h := int64(Hash(s.String()))
	if h < 0 {
		h = -h
	}
	return tag + strconv.FormatInt(h, 36), nil
}

// Provider hands out a profile's identity. A persisted fallback token, once
// written, wins over live derivation on every later call.
type Provider struct {
	store    session.Store
	source   Source
	tag      string
	newToken func() string
	logger   *slog.Logger
}

func NewProvider(store session.Store, source Source, tag string) *Provider {
	if tag == "" {
		tag = DefaultTag
	}
	return &Provider{
		store:  store,
		source: source,
		tag:    tag,
		newToken: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
		logger: slog.Default(),
	}
}

// GetOrCreate returns the profile's identity. Missing signals never fail the
// call; only the store failing does.
func (p *Provider) GetOrCreate(ctx context.Context) (string, error) {
	token, ok, err := p.store.Get(ctx, session.KeyDeviceToken)
	if err != nil {
		return "", fmt.Errorf("p.store.Get(%s): %w", session.KeyDeviceToken, err)
	}
	if ok && token != "" {
		return token, nil
	}

	signals, err := p.readSignals()
	if err == nil {
		var id string
		if id, err = Derive(p.tag, signals); err == nil {
			return id, nil
		}
	}

	p.logger.Warn("identity derivation failed, using persisted fallback", "error", err)
	token = p.tag + p.newToken()
	if err := p.store.Set(ctx, session.KeyDeviceToken, token); err != nil {
		return "", fmt.Errorf("p.store.Set(%s): %w", session.KeyDeviceToken, err)
	}
	return token, nil
}

func (p *Provider) readSignals() (s Signals, err error) {
	if p.source == nil {
		return Signals{}, ErrSignalUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrSignalUnavailable, r)
		}
	}()
	return p.source.Signals()
}
