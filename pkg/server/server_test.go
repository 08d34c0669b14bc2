package server

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/configdata/pkg/observability/logger"
)

func TestServer_StartAndShutdown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	srv := NewServer(Config{Address: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, handler, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() { errChan <- srv.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if srv.Addr() == "" {
		t.Fatal("server did not start")
	}
	if !strings.HasPrefix(srv.Addr(), "127.0.0.1:") {
		t.Fatalf("expected loopback bind, got %s", srv.Addr())
	}

	resp, err := http.Get("http://" + srv.Addr() + "/")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("shutdown failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("server shutdown timed out")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := NewServer(Config{}, http.NotFoundHandler(), logger.NewNop())
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}
