package identity

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"queue-visitor/internal/session"
)

var desktop = Signals{
	Platform:            "Linux x86_64",
	Language:            "ru-RU",
	Timezone:            "Europe/Moscow",
	ScreenWidth:         1920,
	ScreenHeight:        1080,
	ColorDepth:          24,
	HardwareConcurrency: 8,
	RenderFingerprint:   "c2f1a9",
}

func TestHash(t *testing.T) {
	cases := []struct {
		in   string
		want int32
	}{
		{"", 0},
		{"a", 97},
		{"ab", 97*31 + 98},
		{"hello", 99162322},
	}
	for _, tt := range cases {
		if got := Hash(tt.in); got != tt.want {
			t.Fatalf("Hash(%q)=%d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestHashWrapsTo32Bits(t *testing.T) {
	// "polygenelubricants".hashCode() overflows to math.MinInt32.
	if got := Hash("polygenelubricants"); got != -2147483648 {
		t.Fatalf("Hash=%d, want MinInt32", got)
	}
	id, err := Derive("dev_", Signals{
		Platform: "p", Language: "l", Timezone: "t", ScreenWidth: 1, ScreenHeight: 1,
		ColorDepth: 1, HardwareConcurrency: 1, RenderFingerprint: "f",
	})
	if err != nil || strings.HasPrefix(id, "dev_-") {
		t.Fatalf("Derive=%q, %v", id, err)
	}
}

func TestDerive(t *testing.T) {
	id, err := Derive("dev_", desktop)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if !strings.HasPrefix(id, "dev_") {
		t.Fatalf("Derive=%q, want dev_ prefix", id)
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "dev_"), 36, 64)
	if err != nil || n < 0 {
		t.Fatalf("Derive=%q is not a non-negative base-36 number", id)
	}

	other := desktop
	other.Timezone = "Asia/Almaty"
	otherID, _ := Derive("dev_", other)
	if otherID == id {
		t.Fatalf("different signals produced the same identity %q", id)
	}

	incomplete := desktop
	incomplete.ColorDepth = 0
	if _, err := Derive("dev_", incomplete); !errors.Is(err, ErrSignalUnavailable) {
		t.Fatalf("Derive(incomplete) err=%v, want ErrSignalUnavailable", err)
	}
}

func TestProviderIsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	p := NewProvider(store, Posted(desktop), "")

	first, err := p.GetOrCreate(ctx)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	for i := 0; i < 5; i++ {
		got, err := p.GetOrCreate(ctx)
		if err != nil || got != first {
			t.Fatalf("call %d = %q, %v; want %q", i, got, err, first)
		}
	}

	fresh := NewProvider(session.NewMemoryStore(), Posted(desktop), "")
	if got, _ := fresh.GetOrCreate(ctx); got != first {
		t.Fatalf("same signals in a fresh profile = %q, want %q", got, first)
	}
	if store.Len() != 0 {
		t.Fatal("successful derivation must not persist a fallback token")
	}
}

func TestProviderFallbackTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()

	failing := true
	source := SourceFunc(func() (Signals, error) {
		if failing {
			return Signals{}, ErrSignalUnavailable
		}
		return desktop, nil
	})
	p := NewProvider(store, source, "dev_")
	p.newToken = func() string { return "fixedtoken" }

	first, err := p.GetOrCreate(ctx)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if first != "dev_fixedtoken" {
		t.Fatalf("fallback = %q", first)
	}
	if v, ok, _ := store.Get(ctx, session.KeyDeviceToken); !ok || v != first {
		t.Fatalf("fallback not persisted: %q %v", v, ok)
	}

	failing = false
	p.newToken = func() string { t.Fatal("token regenerated"); return "" }
	for i := 0; i < 3; i++ {
		if got, _ := p.GetOrCreate(ctx); got != first {
			t.Fatalf("call %d = %q, want persisted %q", i, got, first)
		}
	}
}

func TestProviderSurvivesPanickingSource(t *testing.T) {
	p := NewProvider(session.NewMemoryStore(), SourceFunc(func() (Signals, error) {
		panic("screen is undefined")
	}), "")

	id, err := p.GetOrCreate(context.Background())
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !strings.HasPrefix(id, DefaultTag) || len(id) <= len(DefaultTag) {
		t.Fatalf("fallback = %q", id)
	}
}
