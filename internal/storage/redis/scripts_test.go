package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a miniredis instance for testing Lua scripts
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	return client, mr
}

func TestReplaceLedgerScript(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	ctx := context.Background()
	key := "ktimer:ledger"

	mr.HSet(key, "2020-01-01/stale", "99")

	result := client.Eval(ctx, replaceLedgerScript, []string{key},
		"2024-05-01/alice", "12",
		"2024-05-01/bob", "0",
	)
	if result.Err() != nil {
		t.Fatalf("Script execution failed: %v", result.Err())
	}

	data, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		t.Fatalf("HGetAll failed: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 fields, got %v", data)
	}
	if _, ok := data["2020-01-01/stale"]; ok {
		t.Error("stale field survived replace")
	}
	if data["2024-05-01/alice"] != "12" {
		t.Errorf("expected alice=12, got %q", data["2024-05-01/alice"])
	}
}

func TestReplaceLedgerScript_EmptyClears(t *testing.T) {
	client, mr := setupTestRedis(t)
	defer client.Close()

	key := "ktimer:ledger"
	mr.HSet(key, "2024-05-01/alice", "12")

	if err := client.Eval(context.Background(), replaceLedgerScript, []string{key}).Err(); err != nil {
		t.Fatalf("Script execution failed: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("expected key to be removed when no records are saved")
	}
}
