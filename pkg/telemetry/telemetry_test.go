package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "stdout tracing", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "stdout"
		}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: true},
		{name: "bad exporter", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "jaeger"
		}, wantErr: true},
		{name: "bad sampling", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: true},
		{name: "async without buffer", mutate: func(c *Config) {
			c.Events.Async = true
			c.Events.BufferSize = 0
		}, wantErr: true},
		{name: "sync without buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() error: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByActionUID("uid-1"))

	ep.EmitActionStatus(ActionStatusEvent{Name: "deployStatus", ActionUID: "uid-1", Phase: PhaseProcessing})
	ep.EmitActionStatus(ActionStatusEvent{Name: "deployStatus", ActionUID: "uid-2", Phase: PhaseProcessing})
	ep.EmitActionStatus(ActionStatusEvent{Name: "deployStatus", ActionUID: "uid-1", Phase: PhaseError, Error: "boom"})

	if len(got) != 2 || got[0].ActionStatus.Phase != PhaseProcessing || got[1].ActionStatus.Phase != PhaseError {
		t.Fatalf("expected processing then error for uid-1, got %+v", got)
	}
	if got[1].Level != EventLevelError || got[1].Type != "deployStatus" {
		t.Errorf("unexpected error event: %+v", got[1])
	}
	if got[0].ID == "" || got[0].ID == got[1].ID || got[0].Timestamp.IsZero() {
		t.Errorf("expected distinct stamped events, got %+v", got)
	}
}

func TestEventPublisher_AsyncKeepsOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, Async: true, BufferSize: 4})
	if err != nil {
		t.Fatalf("NewEventPublisher() error: %v", err)
	}

	var (
		mu       sync.Mutex
		received []string
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e.Message)
	}, nil)

	want := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	for _, m := range want {
		if err := ep.Publish(Event{Type: "test", Message: m}); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error: %v", err)
	}
	if err := ep.Publish(Event{Type: "late"}); err == nil {
		t.Error("expected error publishing after shutdown")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(received))
	}
	for i := range want {
		if received[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], received[i])
		}
	}
}

func TestEventPublisher_Disabled(t *testing.T) {
	ep, _ := NewEventPublisher(EventsConfig{})

	called := false
	ep.Subscribe(func(Event) { called = true }, nil)
	if err := ep.Publish(Event{Type: "x"}); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
	if err := ep.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}
}

func TestFilterByType(t *testing.T) {
	f := FilterByType("buildStatus", "runStatus")
	if !f(Event{Type: "runStatus"}) || f(Event{Type: "deployStatus"}) {
		t.Error("unexpected filter result")
	}
}

func TestMetrics_RecordHandlerCall(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	m.HandlerStarted()
	m.HandlerStarted()
	m.RecordHandlerCall("container", "Build", "build", time.Millisecond, nil)
	m.RecordHandlerCall("container", "Build", "build", time.Millisecond, errors.New("boom"))
	m.RecordError("parameter", "")

	if got := testutil.ToFloat64(m.handlerCalls.WithLabelValues("container", "Build", "build")); got != 2 {
		t.Errorf("expected 2 calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.handlerErrors.WithLabelValues("container", "Build", "build")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(m.handlersInFlight); got != 0 {
		t.Errorf("expected 0 in flight, got %v", got)
	}
	if n := testutil.CollectAndCount(m.errorsByCode); n != 0 {
		t.Errorf("expected no code series for an error without code, got %d", n)
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, _ := NewMetrics(MetricsConfig{})

	m.HandlerStarted()
	m.RecordHandlerCall("p", "Build", "build", time.Millisecond, nil)
	m.RecordDelegation("p", "Build", "build")
	m.RecordResolutionFailure("Build", "build")
	m.RecordValidationFailure("Build", "t", "runtime")
	m.RecordError("parameter", "X")

	if m.Registry() != nil {
		t.Error("expected nil registry when metrics are disabled")
	}

	var nilMetrics *Metrics
	nilMetrics.RecordHandlerCall("p", "Build", "build", time.Millisecond, nil)
	if nilMetrics.Registry() != nil {
		t.Error("expected nil registry for nil metrics")
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Format = "json"
	cfg.Events.Async = true

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("NewTelemetry() error: %v", err)
	}
	tel.Logger.NewComponentLogger("router").WithAction("Build", "api", "container").WithHandler("p", "build").Debug("ok")

	_, span := tel.Tracer.StartHandlerSpan(context.Background(), "Build", "api", "container", "build", "uid")
	AddDelegationEvent(span, "p", "container")
	RecordSuccess(span)
	span.End()

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}

	cfg = DefaultConfig()
	cfg.Logging.Level = "chatty"
	if _, err := NewTelemetry(cfg); err == nil {
		t.Error("expected invalid config to be rejected")
	}
}
