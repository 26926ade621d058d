// Package telemetry carries the router's logging, tracing, metrics and
// lifecycle events.
//
// Logger wraps zerolog, Tracer starts an OpenTelemetry span per routed handler
// call, Metrics keeps Prometheus collectors on a private registry and
// EventPublisher delivers ActionStatusEvents to subscribers in order.
//
//	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
//	tel.Events.Subscribe(func(e telemetry.Event) {
//	    fmt.Println(e.ActionStatus.ActionUID, e.ActionStatus.Phase)
//	}, telemetry.FilterByType("buildStatus"))
//
//	r, err := router.New(plugins, router.WithTelemetry(tel))
package telemetry
