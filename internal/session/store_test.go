package session

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T, profileID string) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb, profileID), mr
}

func TestStores(t *testing.T) {
	redisStore, _ := newRedisStore(t, "p1")
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, ok, err := s.Get(ctx, KeyTicketID); err != nil || ok {
				t.Fatalf("Get on empty store = ok %v err %v, want absent", ok, err)
			}
			if err := Bind(ctx, s, 42, "dev_abc", "EVT1"); err != nil {
				t.Fatalf("Bind: %v", err)
			}
			if err := s.Set(ctx, KeyDeviceToken, "dev_fallback"); err != nil {
				t.Fatalf("Set: %v", err)
			}

			rec, err := Load(ctx, s)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if rec.TicketID != 42 || rec.SessionID != "dev_abc" || rec.EventCode != "EVT1" {
				t.Fatalf("Load = %+v", rec)
			}

			if err := Clear(ctx, s); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			for _, key := range Keys {
				if _, ok, _ := s.Get(ctx, key); ok {
					t.Fatalf("key %s survived Clear", key)
				}
			}
			rec, err = Load(ctx, s)
			if err != nil {
				t.Fatalf("Load after Clear: %v", err)
			}
			if rec.HasTicket() || rec.SessionID != "" || rec.EventCode != "" {
				t.Fatalf("Load after Clear = %+v, want empty", rec)
			}
		})
	}
}

func TestLoadIgnoresMalformedTicketID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, raw := range []string{"abc", "-3", "0", ""} {
		if err := s.Set(ctx, KeyTicketID, raw); err != nil {
			t.Fatal(err)
		}
		rec, err := Load(ctx, s)
		if err != nil {
			t.Fatalf("Load(%q): %v", raw, err)
		}
		if rec.HasTicket() {
			t.Fatalf("Load(%q) reported ticket %d", raw, rec.TicketID)
		}
	}
}

func TestRedisStoreScopesByProfile(t *testing.T) {
	ctx := context.Background()
	a, mr := newRedisStore(t, "alpha")
	b := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "beta")

	if err := a.Set(ctx, KeyEventCode, "EVT1"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("visitor:alpha:event_code") {
		t.Fatal("expected profile-scoped redis key")
	}
	if _, ok, _ := b.Get(ctx, KeyEventCode); ok {
		t.Fatal("profile beta sees alpha's value")
	}

	if err := b.Set(ctx, KeyEventCode, "EVT2"); err != nil {
		t.Fatal(err)
	}
	if err := Clear(ctx, a); err != nil {
		t.Fatal(err)
	}
	if got, ok, _ := b.Get(ctx, KeyEventCode); !ok || got != "EVT2" {
		t.Fatalf("clearing alpha touched beta: %q %v", got, ok)
	}
}
