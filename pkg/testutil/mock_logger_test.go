package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/nimburion/configdata/pkg/observability/logger"
)

func TestMockLogger_CapturesEntries(t *testing.T) {
	log := NewMockLogger()
	log.Info("configuration resolved", "properties", 3)
	log.With("component", "resolver").Warn("skipping optional import", "locator", "vault:a")

	entries := log.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Fields["properties"] != 3 {
		t.Fatalf("unexpected fields %v", entries[0].Fields)
	}
	if entries[1].Fields["component"] != "resolver" || entries[1].Fields["locator"] != "vault:a" {
		t.Fatalf("derived logger must carry its fields, got %v", entries[1].Fields)
	}
	if !log.HasMessage("warn", "skipping optional import") || log.HasMessage("error", "skipping optional import") {
		t.Fatal("HasMessage must match level and message")
	}
}

func TestMockLogger_WithContext(t *testing.T) {
	log := NewMockLogger()
	ctx := logger.ContextWithFields(context.Background(), "request_id", "r-1")
	log.WithContext(ctx).Error("refresh failed")

	if got := log.Entries()[0].Fields["request_id"]; got != "r-1" {
		t.Fatalf("expected context field, got %v", got)
	}
}

func TestMockLogger_ConcurrentUse(t *testing.T) {
	log := NewMockLogger()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Debug("fetch", "i", i)
		}()
	}
	wg.Wait()
	if len(log.Entries()) != 20 {
		t.Fatalf("expected 20 entries, got %d", len(log.Entries()))
	}
}
