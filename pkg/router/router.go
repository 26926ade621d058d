package router

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

// EventEmitter receives action lifecycle events. *telemetry.EventPublisher
// implements it.
type EventEmitter interface {
	EmitActionStatus(ev telemetry.ActionStatusEvent)
}

// Router dispatches handler calls for actions to the plugins that implement them.
type Router struct {
	registry  *registry
	resolver  *Resolver
	validator *OutputValidator

	logger  *telemetry.Logger
	events  EventEmitter
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router's logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithEvents sets where action lifecycle events are emitted.
func WithEvents(events EventEmitter) Option {
	return func(r *Router) {
		r.events = events
	}
}

// WithMetrics sets the metrics the router records to.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(r *Router) {
		r.metrics = metrics
	}
}

// WithTracer sets the tracer used for handler spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(r *Router) {
		r.tracer = tracer
	}
}

// WithTelemetry wires logger, events, metrics and tracer from tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Router) {
		r.logger = tel.Logger
		if tel.Events != nil {
			r.events = tel.Events
		}
		r.metrics = tel.Metrics
		r.tracer = tel.Tracer
	}
}

// New builds a router for the given plugins. The plugins are ordered by their
// dependencies, ties broken by list order; a later plugin takes precedence over
// an earlier one. The plugin set is fixed for the router's lifetime.
func New(plugins []*plugin.Plugin, opts ...Option) (*Router, error) {
	r := &Router{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = telemetry.NewNopLogger()
	}
	r.logger = r.logger.NewComponentLogger("router")
	if r.tracer == nil {
		tracer, err := telemetry.NewTracer(telemetry.TracingConfig{}, "froyo", "", "")
		if err != nil {
			return nil, err
		}
		r.tracer = tracer
	}

	reg, err := buildRegistry(plugins, validator.New())
	if err != nil {
		return nil, err
	}
	r.registry = reg
	r.resolver = newResolver(reg, r.logger)
	r.validator = newOutputValidator(reg, r.logger)
	if err := r.validator.precompile(); err != nil {
		return nil, err
	}

	r.logger.WithField("plugins", len(reg.plugins)).Debug("Router ready")
	return r, nil
}

// Resolver returns the router's handler resolver.
func (r *Router) Resolver() *Resolver {
	return r.resolver
}

// Validator returns the router's output validator.
func (r *Router) Validator() *OutputValidator {
	return r.validator
}

// Plugins returns the plugins in precedence order, lowest first.
func (r *Router) Plugins() []*plugin.Plugin {
	out := make([]*plugin.Plugin, len(r.registry.plugins))
	copy(out, r.registry.plugins)
	return out
}

// Types lists the registered types of a kind, sorted by name.
func (r *Router) Types(kind plugin.Kind) []TypeInfo {
	types := r.registry.types[kind]
	out := make([]TypeInfo, 0, len(types))
	for _, entry := range types {
		out = append(out, entry.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call is a request to run one handler for one action.
type Call struct {
	HandlerType plugin.HandlerType

	// Params are passed to the handler. Params.Action is required;
	// PluginName and Base are set by the router.
	Params plugin.Params

	// Default runs when no plugin implements the handler, and is what the last
	// plugin handler in the chain delegates to otherwise.
	Default plugin.Handler
}

// CallHandler resolves and runs the handler for call.
//
// A processing event is emitted before the handler runs and a complete or
// error event after, both carrying one ActionUID. Handler errors are returned
// as is. Static outputs, and runtime outputs of a ready result, are validated
// against the type's schema; a violation is returned as a validation error
// after the handler has run. On success the handler's result is returned
// unchanged.
func (r *Router) CallHandler(ctx context.Context, call Call) (*plugin.Result, error) {
	a := call.Params.Action
	if a == nil {
		err := &Error{
			Class:       ErrorClassParameter,
			Code:        ErrCodeMissingAction,
			Message:     fmt.Sprintf("No action given for '%s' handler call", call.HandlerType),
			HandlerType: call.HandlerType,
		}
		r.metrics.RecordError(string(err.Class), err.Code)
		return nil, err
	}
	kind := a.Kind()

	h, err := r.resolver.GetHandler(Query{
		Kind:        kind,
		ActionType:  a.Type(),
		HandlerType: call.HandlerType,
		Default:     call.Default,
	})
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			err = re.forAction(a)
		}
		r.metrics.RecordResolutionFailure(string(kind), string(call.HandlerType))
		r.metrics.RecordError(string(ErrorClassParameter), ErrCodeHandlerNotFound)
		return nil, err
	}

	uid := uuid.NewString()
	logger := r.logger.
		WithAction(string(kind), a.Name(), a.Type()).
		WithActionUID(uid).
		WithHandler(h.PluginName, string(call.HandlerType))

	ctx, span := r.tracer.StartHandlerSpan(ctx, string(kind), a.Name(), a.Type(), string(call.HandlerType), uid)
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.AttrPluginName.String(h.PluginName),
		telemetry.AttrResolvedOn.String(h.ActionType),
	)

	ev := telemetry.ActionStatusEvent{
		Name:          kind.StatusEventName(),
		ActionKind:    string(kind),
		ActionName:    a.Name(),
		ActionVersion: a.Version(),
		ActionUID:     uid,
		HandlerType:   string(call.HandlerType),
		PluginName:    h.PluginName,
	}
	r.emit(ev, telemetry.PhaseProcessing, telemetry.PhaseProcessing, nil)

	logger.Debugf("Calling %s handler (%s)", call.HandlerType, plugin.FormatChain(h.Chain()))
	r.metrics.HandlerStarted()
	timer := telemetry.NewTimer()
	result, err := r.invoker(span, logger)(ctx, h, call.Params)
	r.metrics.RecordHandlerCall(h.PluginName, string(kind), string(call.HandlerType), timer.Duration(), err)

	if err != nil {
		logger.WithError(err).Debug("Handler failed")
		telemetry.RecordError(span, err)
		r.emit(ev, telemetry.PhaseError, plugin.StateFailed, err)
		return nil, err
	}

	if outputKind, ok := kind.OutputKindFor(call.HandlerType); ok && validatesOutputs(outputKind, result) {
		var outputs map[string]interface{}
		if result != nil {
			outputs = result.Outputs
		}
		if _, err := r.validator.ValidateOutputs(a, outputKind, outputs); err != nil {
			r.metrics.RecordValidationFailure(string(kind), a.Type(), string(outputKind))
			var ve *Error
			if errors.As(err, &ve) {
				r.metrics.RecordError(string(ve.Class), ve.Code)
				telemetry.SetAttributes(span,
					telemetry.AttrErrorClass.String(string(ve.Class)),
					telemetry.AttrErrorCode.String(ve.Code),
				)
			}
			logger.WithError(err).Warn("Handler returned invalid outputs")
			telemetry.RecordError(span, err)
			r.emit(ev, telemetry.PhaseError, plugin.StateFailed, err)
			return nil, err
		}
	}

	state := plugin.StateReady
	if result != nil && result.State != "" {
		state = result.State
	}
	telemetry.RecordSuccess(span)
	r.emit(ev, telemetry.PhaseComplete, state, nil)
	return result, nil
}

// invoker returns an Invoker that runs a handler with a Base continuation
// pointing at its next candidate. Each delegation is logged, counted and
// recorded on the call's span.
func (r *Router) invoker(span trace.Span, logger *telemetry.Logger) plugin.Invoker {
	var invoke plugin.Invoker
	invoke = func(ctx context.Context, h *plugin.ResolvedHandler, params plugin.Params) (*plugin.Result, error) {
		params.PluginName = h.PluginName
		params.Base = plugin.NewBase(h.Base, params,
			func(ctx context.Context, next *plugin.ResolvedHandler, p plugin.Params) (*plugin.Result, error) {
				r.metrics.RecordDelegation(h.PluginName, string(h.Kind), string(h.HandlerType))
				telemetry.AddDelegationEvent(span, next.PluginName, next.ActionType)
				logger.Debugf("Plugin %s delegating to %s", h.PluginName, next)
				return invoke(ctx, next, p)
			})
		return h.Handler(ctx, &params)
	}
	return invoke
}

// validatesOutputs reports whether result's outputs are checked. Runtime
// outputs are only checked once the action is ready.
func validatesOutputs(outputKind plugin.OutputKind, result *plugin.Result) bool {
	if outputKind == plugin.OutputsStatic {
		return true
	}
	return result == nil || result.State == "" || result.State == plugin.StateReady
}

func (r *Router) emit(ev telemetry.ActionStatusEvent, phase, state string, err error) {
	if r.events == nil {
		return
	}
	ev.Phase = phase
	ev.Status = telemetry.ActionStatus{State: state}
	if err != nil {
		ev.Error = err.Error()
	}
	r.events.EmitActionStatus(ev)
}
