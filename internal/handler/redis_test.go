package handler

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"hostagent/internal/config"
)

func newTestRedisHandler(t *testing.T, maxLen int64, src Source) (*RedisHandler, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	h, err := NewRedisHandler(config.RedisConfig{
		Address: mr.Addr(),
		Key:     "hostagent:checks",
		MaxLen:  maxLen,
	}, config.SOCKSConfig{}, src)
	if err != nil {
		t.Fatalf("failed to create RedisHandler: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h, mr
}

func TestNewRedisHandler_RequiresAddressAndKey(t *testing.T) {
	if _, err := NewRedisHandler(config.RedisConfig{Key: "k"}, config.SOCKSConfig{}, nil); err == nil {
		t.Error("expected error for empty Address")
	}
	if _, err := NewRedisHandler(config.RedisConfig{Address: "localhost:6379"}, config.SOCKSConfig{}, nil); err == nil {
		t.Error("expected error for empty Key")
	}
}

func TestRedisHandler_PushesNewestFirst(t *testing.T) {
	h, mr := newTestRedisHandler(t, 0, newStaticSource(sampleRecords()...))

	if err := h.Run(context.Background(), testTimestamp); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	items, err := mr.List("hostagent:checks")
	if err != nil {
		t.Fatalf("failed to read list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}

	var head CheckRecord
	if err := json.Unmarshal([]byte(items[0]), &head); err != nil {
		t.Fatalf("item is not JSON: %v", err)
	}
	if head.Service != "cron" {
		t.Errorf("expected last pushed record at the head, got %+v", head)
	}
}

func TestRedisHandler_TrimsToMaxLen(t *testing.T) {
	h, mr := newTestRedisHandler(t, 3, newStaticSource(sampleRecords()...))

	for i := 0; i < 3; i++ {
		if err := h.Run(context.Background(), testTimestamp); err != nil {
			t.Fatalf("Run %d failed: %v", i, err)
		}
	}

	items, err := mr.List("hostagent:checks")
	if err != nil {
		t.Fatalf("failed to read list: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("expected list trimmed to 3, got %d", len(items))
	}
}

func TestRedisHandler_NothingDueSkipsRedis(t *testing.T) {
	h, mr := newTestRedisHandler(t, 0, newStaticSource())

	if err := h.Run(context.Background(), testTimestamp); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if mr.Exists("hostagent:checks") {
		t.Error("expected no list to be created")
	}
}

func TestRedisHandler_ServerDown(t *testing.T) {
	h, mr := newTestRedisHandler(t, 0, newStaticSource(sampleRecords()...))
	mr.Close()

	if err := h.Run(context.Background(), testTimestamp); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
