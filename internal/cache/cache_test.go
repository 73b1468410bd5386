package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"marketplace/internal/config"
)

func TestDirStoreRoundTrip(t *testing.T) {
	store, err := NewDir(filepath.Join(t.TempDir(), "pages"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()

	if _, err := store.Get(ctx, "36342854"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}

	page := []byte("<content><title>MEISE</title></content>")
	if err := store.Set(ctx, "36342854", page); err != nil {
		t.Fatalf("failed to set page: %v", err)
	}

	got, err := store.Get(ctx, "36342854")
	if err != nil {
		t.Fatalf("failed to get page: %v", err)
	}
	if string(got) != string(page) {
		t.Errorf("expected %s, got %s", page, got)
	}

	if _, err := os.Stat(filepath.Join(store.dir, "36342854.xml")); err != nil {
		t.Errorf("expected page file on disk: %v", err)
	}
}

func TestDirStoreOverwrite(t *testing.T) {
	store, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Set(ctx, "1", []byte("old")); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "1", []byte("new")); err != nil {
		t.Fatal(err)
	}
	got, err := store.Get(ctx, "1")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "new" {
		t.Errorf("expected 'new', got '%s'", got)
	}

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected one file after overwrite, got %d", len(entries))
	}
}

func TestDirStoreRejectsBadKeys(t *testing.T) {
	store, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	for _, key := range []string{"", ".", "..", "../etc/passwd", `a\b`} {
		t.Run(key, func(t *testing.T) {
			if err := store.Set(context.Background(), key, []byte("x")); err == nil {
				t.Errorf("expected error for key %q", key)
			}
			if _, err := store.Get(context.Background(), key); err == nil || errors.Is(err, ErrMiss) {
				t.Errorf("expected key error for %q, got %v", key, err)
			}
		})
	}
}

func TestDirStoreCancelledContext(t *testing.T) {
	store, err := NewDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "1", []byte("x")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := &config.Config{Cache: config.CacheConfig{Dir: filepath.Join(t.TempDir(), "c")}}

	store, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*DirStore); !ok {
		t.Errorf("expected *DirStore, got %T", store)
	}
}

// Integration test with Redis (requires Redis to be running)
func TestRedisStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	store, err := NewRedis(config.RedisConfig{
		Addr:      "localhost:6379",
		DB:        1, // Use a different DB for testing
		KeyPrefix: "marketplace-test:",
		TTL:       time.Minute,
	})
	if err != nil {
		t.Skip("Redis not available, skipping integration test")
	}
	defer store.Close()

	ctx := context.Background()
	defer store.client.Del(ctx, store.key("36342854"), store.key("missing"))

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Errorf("expected ErrMiss, got %v", err)
	}

	if err := store.Set(ctx, "36342854", []byte("<td>MEISE</td>")); err != nil {
		t.Fatalf("failed to set page: %v", err)
	}

	got, err := store.Get(ctx, "36342854")
	if err != nil {
		t.Fatalf("failed to get page: %v", err)
	}
	if string(got) != "<td>MEISE</td>" {
		t.Errorf("expected <td>MEISE</td>, got %s", got)
	}

	ttl := store.client.TTL(ctx, store.key("36342854")).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %v", ttl)
	}
}
