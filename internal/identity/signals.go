package identity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSignalUnavailable is returned when the environment could not supply a signal.
var ErrSignalUnavailable = errors.New("environment signal unavailable")

// Signals are the environment facts a visitor's browser reports about itself.
type Signals struct {
	Platform            string `json:"platform"`
	Language            string `json:"language"`
	Timezone            string `json:"timezone"`
	ScreenWidth         int    `json:"screen_width"`
	ScreenHeight        int    `json:"screen_height"`
	ColorDepth          int    `json:"color_depth"`
	HardwareConcurrency int    `json:"hardware_concurrency"`
	RenderFingerprint   string `json:"render_fingerprint"`
}

// Validate reports the first missing signal.
func (s Signals) Validate() error {
	switch {
	case s.Platform == "":
		return fmt.Errorf("platform: %w", ErrSignalUnavailable)
	case s.Language == "":
		return fmt.Errorf("language: %w", ErrSignalUnavailable)
	case s.Timezone == "":
		return fmt.Errorf("timezone: %w", ErrSignalUnavailable)
	case s.ScreenWidth <= 0 || s.ScreenHeight <= 0:
		return fmt.Errorf("screen geometry: %w", ErrSignalUnavailable)
	case s.ColorDepth <= 0:
		return fmt.Errorf("color depth: %w", ErrSignalUnavailable)
	case s.HardwareConcurrency <= 0:
		return fmt.Errorf("hardware concurrency: %w", ErrSignalUnavailable)
	case s.RenderFingerprint == "":
		return fmt.Errorf("render fingerprint: %w", ErrSignalUnavailable)
	}
	return nil
}

// String joins the signals in a fixed order.
func (s Signals) String() string {
	return strings.Join([]string{
		s.Platform,
		s.Language,
		s.Timezone,
		strconv.Itoa(s.ScreenWidth) + "x" + strconv.Itoa(s.ScreenHeight),
		strconv.Itoa(s.ColorDepth),
		strconv.Itoa(s.HardwareConcurrency),
		s.RenderFingerprint,
	}, "|")
}

// Source supplies the current environment's signals.
type Source interface {
	Signals() (Signals, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() (Signals, error)

func (f SourceFunc) Signals() (Signals, error) { return f() }

// Posted is a Source over signals reported by the page. Incomplete reports fail.
func Posted(s Signals) Source {
	return SourceFunc(func() (Signals, error) {
		if err := s.Validate(); err != nil {
			return Signals{}, err
		}
		return s, nil
	})
}
