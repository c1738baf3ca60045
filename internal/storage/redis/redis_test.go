package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/ktimer/internal/calendar"
	"github.com/goodtune/ktimer/internal/config"
	"github.com/goodtune/ktimer/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays zero
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

func TestOpen_InvalidTimeout(t *testing.T) {
	_, err := Open(config.RedisConfig{Host: "127.0.0.1:1", DialTimeout: "soon", ReadTimeout: "1s", WriteTimeout: "1s"})
	if err == nil {
		t.Fatal("expected error for invalid dial_timeout")
	}
}

func TestStore_LoadEmpty(t *testing.T) {
	store, _ := setupTestStore(t)

	result, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Records) != 0 || len(result.Skipped) != 0 {
		t.Fatalf("expected empty ledger, got %+v", result)
	}
}

func TestStore_SaveAndLoad(t *testing.T) {
	store, mr := setupTestStore(t)
	ctx := context.Background()

	records := []storage.UsageRecord{
		{Date: calendar.MustParseDate("2024-01-02"), User: "bob", Minutes: 7},
		{Date: calendar.MustParseDate("2024-01-02"), User: "alice", Minutes: 45},
	}
	if err := store.Save(ctx, records); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if got := mr.HGet(DefaultKey, "2024-01-02/alice"); got != "45" {
		t.Fatalf("expected raw hash value 45, got %q", got)
	}

	result, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(result.Records))
	}
	if result.Records[0].User != "alice" || result.Records[0].Minutes != 45 {
		t.Errorf("unexpected first record: %+v", result.Records[0])
	}

	// A second save must drop records that are no longer present
	if err := store.Save(ctx, records[:1]); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}
	result, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Records) != 1 || result.Records[0].User != "bob" {
		t.Fatalf("expected only bob after replace, got %+v", result.Records)
	}
}

func TestStore_LoadSkipsCorruptFields(t *testing.T) {
	store, mr := setupTestStore(t)

	mr.HSet(DefaultKey, "2024-01-02/alice", "30")
	mr.HSet(DefaultKey, "garbage", "1")
	mr.HSet(DefaultKey, "2024-01-03/bob", "lots")

	result, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(result.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(result.Records))
	}
	if len(result.Skipped) != 2 {
		t.Fatalf("expected 2 skipped, got %d", len(result.Skipped))
	}
	if !errors.Is(result.Skipped[0].Err, storage.ErrInvalidMinutes) {
		t.Errorf("expected ErrInvalidMinutes, got %v", result.Skipped[0].Err)
	}
	if !errors.Is(result.Skipped[1].Err, storage.ErrFieldCount) {
		t.Errorf("expected ErrFieldCount, got %v", result.Skipped[1].Err)
	}
}

func TestStore_CustomKey(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := Open(config.RedisConfig{
		Host:         mr.Addr(),
		Key:          "home:ledger",
		DialTimeout:  "1s",
		ReadTimeout:  "1s",
		WriteTimeout: "1s",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	err = store.Save(context.Background(), []storage.UsageRecord{
		{Date: calendar.MustParseDate("2024-03-01"), User: "carol", Minutes: 3},
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists("home:ledger") {
		t.Fatal("expected custom key to exist")
	}
	if mr.Exists(DefaultKey) {
		t.Fatal("default key should not be written")
	}
}
