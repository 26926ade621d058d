package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []telemetry.ActionStatusEvent
}

func (r *eventRecorder) EmitActionStatus(ev telemetry.ActionStatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) phases() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Phase
	}
	return out
}

// delegating returns a handler that records its tag, calls base and appends
// the tag to the "trail" output.
func delegating(tag string, calls *[]string) plugin.Handler {
	return func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
		*calls = append(*calls, tag)
		if p.Base == nil {
			return &plugin.Result{Outputs: map[string]interface{}{"trail": tag}}, nil
		}
		res, err := p.Base.Call(ctx)
		if err != nil {
			return nil, err
		}
		res.Outputs["trail"] = fmt.Sprintf("%s>%s", res.Outputs["trail"], tag)
		return res, nil
	}
}

func callBuild(r *Router, actionType string) (*plugin.Result, error) {
	return r.CallHandler(context.Background(), Call{
		HandlerType: plugin.HandlerBuild,
		Params:      plugin.Params{Action: buildAction("api", actionType)},
	})
}

func TestCallHandler_ExtendsEndToEnd(t *testing.T) {
	r := mustRouter(t, []*plugin.Plugin{
		creates("base", nil, buildType("test", "", plugin.BuildHandlers{
			Build: func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
				return &plugin.Result{Outputs: map[string]interface{}{"foo": "bar"}}, nil
			},
		})),
		extends("extends", []string{"base"}, buildExt("test", plugin.BuildHandlers{
			Build: func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
				if p.PluginName != "extends" {
					return nil, fmt.Errorf("unexpected plugin name %s", p.PluginName)
				}
				res, err := p.Base.Call(ctx)
				if err != nil {
					return nil, err
				}
				res.Outputs["extra"] = true
				return res, nil
			},
		})),
	})

	res, err := callBuild(r, "test")
	if err != nil {
		t.Fatalf("CallHandler() error: %v", err)
	}
	if res.Outputs["foo"] != "bar" || res.Outputs["extra"] != true || len(res.Outputs) != 2 {
		t.Errorf("unexpected outputs: %v", res.Outputs)
	}
}

func TestCallHandler_DelegationDepth(t *testing.T) {
	var calls []string
	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("test", "", plugin.BuildHandlers{Build: delegating("a", &calls)})),
		extends("b", []string{"a"}, buildExt("test", plugin.BuildHandlers{Build: delegating("b", &calls)})),
		extends("c", []string{"b"}, buildExt("test", plugin.BuildHandlers{Build: delegating("c", &calls)})),
	})

	res, err := callBuild(r, "test")
	if err != nil {
		t.Fatalf("CallHandler() error: %v", err)
	}
	if got := strings.Join(calls, ","); got != "c,b,a" {
		t.Errorf("expected calls c,b,a, got %s", got)
	}
	if res.Outputs["trail"] != "a>b>c" {
		t.Errorf("expected trail a>b>c, got %v", res.Outputs["trail"])
	}
}

func TestCallHandler_DelegationAcrossBaseTypes(t *testing.T) {
	var seen []string
	record := func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
		next := "none"
		if h := p.Base.Handler(); h != nil {
			next = h.String()
		}
		seen = append(seen, p.PluginName+"->"+next)
		if p.Base == nil {
			return &plugin.Result{}, nil
		}
		return p.Base.Call(ctx)
	}

	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("S", "", plugin.BuildHandlers{Build: record})),
		creates("b", []string{"a"}, buildType("T", "S", plugin.BuildHandlers{Build: record})),
	})

	if _, err := callBuild(r, "T"); err != nil {
		t.Fatalf("CallHandler() error: %v", err)
	}
	want := []string{"b->a:Build.S.build", "a->none"}
	if strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, seen)
	}
}

func TestCallHandler_BaseErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	var fromBase error

	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("test", "", plugin.BuildHandlers{
			Build: func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
				return nil, boom
			},
		})),
		extends("b", []string{"a"}, buildExt("test", plugin.BuildHandlers{
			Build: func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
				_, fromBase = p.Base.Call(ctx)
				return nil, fromBase
			},
		})),
	})

	_, err := callBuild(r, "test")
	if fromBase != boom {
		t.Errorf("expected base() to return the delegated error unchanged, got %v", fromBase)
	}
	if err != boom {
		t.Errorf("expected CallHandler to return the handler error unchanged, got %v", err)
	}
}

func TestCallHandler_DefaultIsLastLink(t *testing.T) {
	var calls []string
	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("test", "", plugin.BuildHandlers{Build: delegating("a", &calls)})),
	})

	res, err := r.CallHandler(context.Background(), Call{
		HandlerType: plugin.HandlerBuild,
		Params:      plugin.Params{Action: buildAction("api", "test")},
		Default: func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
			calls = append(calls, p.PluginName)
			return &plugin.Result{Outputs: map[string]interface{}{"trail": "default"}}, nil
		},
	})
	if err != nil {
		t.Fatalf("CallHandler() error: %v", err)
	}
	if got := strings.Join(calls, ","); got != "a,"+plugin.DefaultPluginName {
		t.Errorf("expected calls a,_default, got %s", got)
	}
	if res.Outputs["trail"] != "default>a" {
		t.Errorf("expected trail default>a, got %v", res.Outputs["trail"])
	}
}

func TestCallHandler_DefaultOnUnregisteredType(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}
	events := &eventRecorder{}
	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("test", "", plugin.BuildHandlers{Build: tagged("a")})),
	}, WithEvents(events), WithMetrics(metrics))

	for _, ht := range []plugin.HandlerType{plugin.HandlerConfigure, plugin.HandlerGetOutputs, plugin.HandlerBuild} {
		t.Run(string(ht), func(t *testing.T) {
			ran := 0
			res, err := r.CallHandler(context.Background(), Call{
				HandlerType: ht,
				Params:      plugin.Params{Action: buildAction("api", "nope")},
				Default: func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
					ran++
					return &plugin.Result{Outputs: map[string]interface{}{"image": "api:1"}}, nil
				},
			})
			if err != nil {
				t.Fatalf("CallHandler() error: %v", err)
			}
			if ran != 1 {
				t.Errorf("expected default to run once, ran %d times", ran)
			}
			if res.Outputs["image"] != "api:1" {
				t.Errorf("expected outputs unchanged, got %v", res.Outputs)
			}
		})
	}

	if got := strings.Join(events.phases(), ","); got != "processing,complete,processing,complete,processing,complete" {
		t.Errorf("unexpected phases: %s", got)
	}
	n, err := testutil.GatherAndCount(metrics.Registry(), "test_output_validation_failures_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no validation failures, got %d series", n)
	}
}

func TestCallHandler_Events(t *testing.T) {
	boom := errors.New("boom")
	ok := &plugin.Result{State: plugin.StateReady, Outputs: map[string]interface{}{}}

	r := func(t *testing.T, events *eventRecorder) *Router {
		return mustRouter(t, []*plugin.Plugin{
			creates("p", nil,
				buildType("good", "", plugin.BuildHandlers{
					Build: func(context.Context, *plugin.Params) (*plugin.Result, error) { return ok, nil },
				}),
				buildType("bad", "", plugin.BuildHandlers{
					Build: func(context.Context, *plugin.Params) (*plugin.Result, error) { return nil, boom },
				}),
			),
		}, WithEvents(events))
	}

	t.Run("complete", func(t *testing.T) {
		events := &eventRecorder{}
		res, err := callBuild(r(t, events), "good")
		if err != nil {
			t.Fatalf("CallHandler() error: %v", err)
		}
		if res != ok {
			t.Error("expected the handler's result to be returned unchanged")
		}
		if got := events.phases(); strings.Join(got, ",") != "processing,complete" {
			t.Fatalf("expected processing,complete, got %v", got)
		}
		first, last := events.events[0], events.events[1]
		if first.ActionUID == "" || first.ActionUID != last.ActionUID {
			t.Errorf("expected one shared action uid, got %q and %q", first.ActionUID, last.ActionUID)
		}
		if first.Name != "buildStatus" || first.PluginName != "p" || first.HandlerType != "build" {
			t.Errorf("unexpected processing event: %+v", first)
		}
		if last.Status.State != plugin.StateReady {
			t.Errorf("expected state ready, got %s", last.Status.State)
		}
	})

	t.Run("error", func(t *testing.T) {
		events := &eventRecorder{}
		_, err := callBuild(r(t, events), "bad")
		if err != boom {
			t.Fatalf("expected boom, got %v", err)
		}
		if got := events.phases(); strings.Join(got, ",") != "processing,error" {
			t.Fatalf("expected processing,error, got %v", got)
		}
		if events.events[1].Error != "boom" {
			t.Errorf("expected error text on event, got %q", events.events[1].Error)
		}
	})

	t.Run("unresolved", func(t *testing.T) {
		events := &eventRecorder{}
		_, err := r(t, events).CallHandler(context.Background(), Call{
			HandlerType: plugin.HandlerPublish,
			Params:      plugin.Params{Action: buildAction("api", "good")},
		})
		if !IsResolutionError(err) {
			t.Fatalf("expected resolution error, got %v", err)
		}
		if !strings.Contains(err.Error(), "'api'") || !strings.Contains(err.Error(), "publish") {
			t.Errorf("expected message to name the action and handler, got %q", err.Error())
		}
		if n := len(events.phases()); n != 0 {
			t.Errorf("expected no events, got %d", n)
		}
	})

	t.Run("distinct uids per call", func(t *testing.T) {
		events := &eventRecorder{}
		router := r(t, events)
		for i := 0; i < 2; i++ {
			if _, err := callBuild(router, "good"); err != nil {
				t.Fatalf("CallHandler() error: %v", err)
			}
		}
		if events.events[0].ActionUID == events.events[2].ActionUID {
			t.Error("expected a new action uid per call")
		}
	})
}

func TestCallHandler_OutputValidation(t *testing.T) {
	schema := map[string]interface{}{
		"type":     "object",
		"required": []interface{}{"foo"},
	}
	returning := func(res *plugin.Result) plugin.Handler {
		return func(context.Context, *plugin.Params) (*plugin.Result, error) { return res, nil }
	}

	tests := []struct {
		name        string
		handlerType plugin.HandlerType
		result      *plugin.Result
		wantInvalid bool
	}{
		{name: "runtime ready missing key", handlerType: plugin.HandlerBuild, result: &plugin.Result{State: plugin.StateReady}, wantInvalid: true},
		{name: "runtime without state missing key", handlerType: plugin.HandlerBuild, result: &plugin.Result{}, wantInvalid: true},
		{name: "runtime not ready is not validated", handlerType: plugin.HandlerGetStatus, result: &plugin.Result{State: plugin.StateNotReady}},
		{name: "runtime valid", handlerType: plugin.HandlerBuild, result: &plugin.Result{Outputs: map[string]interface{}{"foo": 1}}},
		{name: "static always validated", handlerType: plugin.HandlerGetOutputs, result: &plugin.Result{State: plugin.StateNotReady}, wantInvalid: true},
		{name: "unvalidated handler", handlerType: plugin.HandlerPublish, result: &plugin.Result{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &eventRecorder{}
			handle := returning(tt.result)
			r := mustRouter(t, []*plugin.Plugin{
				creates("p", nil, plugin.ActionTypeDefinition{
					Name:                 "test",
					StaticOutputsSchema:  schema,
					RuntimeOutputsSchema: schema,
					Handlers: plugin.BuildHandlers{
						Build:      handle,
						GetStatus:  handle,
						GetOutputs: handle,
						Publish:    handle,
					},
				}),
			}, WithEvents(events))

			res, err := r.CallHandler(context.Background(), Call{
				HandlerType: tt.handlerType,
				Params:      plugin.Params{Action: buildAction("api", "test")},
			})

			if tt.wantInvalid {
				if !IsValidationError(err) {
					t.Fatalf("expected validation error, got %v", err)
				}
				if got := strings.Join(events.phases(), ","); got != "processing,error" {
					t.Errorf("expected processing,error, got %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CallHandler() error: %v", err)
			}
			if res != tt.result {
				t.Error("expected the handler's result to be returned unchanged")
			}
			if got := strings.Join(events.phases(), ","); got != "processing,complete" {
				t.Errorf("expected processing,complete, got %s", got)
			}
		})
	}
}

func TestCallHandler_MissingAction(t *testing.T) {
	r := mustRouter(t, nil)
	_, err := r.CallHandler(context.Background(), Call{HandlerType: plugin.HandlerBuild})

	var re *Error
	if !errors.As(err, &re) || re.Code != ErrCodeMissingAction || re.Class != ErrorClassParameter {
		t.Errorf("expected missing action parameter error, got %v", err)
	}
}

func TestCallHandler_Metrics(t *testing.T) {
	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() error: %v", err)
	}

	var calls []string
	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("test", "", plugin.BuildHandlers{Build: delegating("a", &calls)})),
		extends("b", []string{"a"}, buildExt("test", plugin.BuildHandlers{Build: delegating("b", &calls)})),
	}, WithMetrics(metrics))

	if _, err := callBuild(r, "test"); err != nil {
		t.Fatalf("CallHandler() error: %v", err)
	}
	if _, err := r.CallHandler(context.Background(), Call{
		HandlerType: plugin.HandlerPublish,
		Params:      plugin.Params{Action: buildAction("api", "test")},
	}); err == nil {
		t.Fatal("expected resolution error")
	}

	for _, name := range []string{
		"test_handler_calls_total",
		"test_base_delegations_total",
		"test_resolution_failures_total",
	} {
		n, err := testutil.GatherAndCount(metrics.Registry(), name)
		if err != nil {
			t.Fatalf("GatherAndCount(%s) error: %v", name, err)
		}
		if n != 1 {
			t.Errorf("expected 1 series for %s, got %d", name, n)
		}
	}
}

func TestCallHandler_Concurrent(t *testing.T) {
	events := &eventRecorder{}
	r := mustRouter(t, []*plugin.Plugin{
		creates("a", nil, buildType("test", "", plugin.BuildHandlers{Build: tagged("a")})),
	}, WithEvents(events))

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := callBuild(r, "test"); err != nil {
				t.Errorf("CallHandler() error: %v", err)
			}
		}()
	}
	wg.Wait()

	perUID := make(map[string][]string)
	for _, ev := range events.events {
		perUID[ev.ActionUID] = append(perUID[ev.ActionUID], ev.Phase)
	}
	if len(perUID) != workers {
		t.Fatalf("expected %d action uids, got %d", workers, len(perUID))
	}
	for uid, phases := range perUID {
		if strings.Join(phases, ",") != "processing,complete" {
			t.Errorf("uid %s: expected processing,complete, got %v", uid, phases)
		}
	}
}

func TestRouter_Listing(t *testing.T) {
	r := mustRouter(t, []*plugin.Plugin{
		extends("b", []string{"a"}, buildExt("test", plugin.BuildHandlers{Publish: tagged("b")})),
		creates("a", nil,
			buildType("test", "", plugin.BuildHandlers{Build: tagged("a")}),
			buildType("child", "test", plugin.BuildHandlers{}),
		),
	})

	var names []string
	for _, p := range r.Plugins() {
		names = append(names, p.Name)
	}
	if strings.Join(names, ",") != "a,b" {
		t.Errorf("expected plugin order a,b, got %v", names)
	}

	types := r.Types(plugin.KindBuild)
	if len(types) != 2 || types[0].Name != "child" || types[1].Name != "test" {
		t.Fatalf("unexpected types: %+v", types)
	}
	test := types[1]
	if test.CreatedBy != "a" || strings.Join(test.ExtendedBy, ",") != "b" {
		t.Errorf("unexpected provenance: %+v", test)
	}
	if joinHandlerTypes(test.Handlers) != "build, publish" {
		t.Errorf("unexpected handlers: %v", test.Handlers)
	}
	if types[0].Base != "test" {
		t.Errorf("expected child based on test, got %q", types[0].Base)
	}
}
