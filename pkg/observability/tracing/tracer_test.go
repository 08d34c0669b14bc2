package tracing

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	provider, err := NewTracerProvider(context.Background(), TracerConfig{ServiceName: "configdata"})
	if err != nil {
		t.Fatalf("expected no error for disabled tracing, got: %v", err)
	}
	if provider.Enabled() {
		t.Fatal("expected disabled provider")
	}

	_, span := provider.Tracer("test").Start(context.Background(), "noop")
	span.End()
}

func TestTracerConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      TracerConfig
		expectedErr string
	}{
		{
			name:        "missing service name",
			config:      TracerConfig{Enabled: true, Endpoint: "localhost:4317"},
			expectedErr: "service name is required",
		},
		{
			name:        "missing endpoint",
			config:      TracerConfig{Enabled: true, ServiceName: "configdata"},
			expectedErr: "OTLP endpoint is required",
		},
		{
			name:        "negative sample rate",
			config:      TracerConfig{Enabled: true, ServiceName: "configdata", Endpoint: "localhost:4317", SampleRate: -0.1},
			expectedErr: "sample rate must be between 0 and 1",
		},
		{
			name:        "sample rate above one",
			config:      TracerConfig{Enabled: true, ServiceName: "configdata", Endpoint: "localhost:4317", SampleRate: 1.5},
			expectedErr: "sample rate must be between 0 and 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTracerProvider(context.Background(), tt.config)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

func TestTracerConfig_DisabledSkipsValidation(t *testing.T) {
	for _, rate := range []float64{-1, 0, 0.5, 1, 2} {
		t.Run(fmt.Sprintf("rate_%v", rate), func(t *testing.T) {
			if err := (TracerConfig{SampleRate: rate}).Validate(); err != nil {
				t.Fatalf("disabled config should validate, got %v", err)
			}
		})
	}
}

func TestTracerProvider_ShutdownAndFlush(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	provider, err := NewTracerProvider(ctx, TracerConfig{ServiceName: "configdata"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if err := provider.ForceFlush(ctx); err != nil {
		t.Errorf("expected no error on force flush, got: %v", err)
	}
	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("expected no error on shutdown, got: %v", err)
	}

	var nilProvider *TracerProvider
	if err := nilProvider.Shutdown(ctx); err != nil {
		t.Errorf("nil provider shutdown should be a no-op, got %v", err)
	}
}
