package plugin

import (
	"context"
	"fmt"
	"strings"
)

// DefaultPluginName is the provenance reported for caller-supplied default handlers.
const DefaultPluginName = "_default"

// ResolvedHandler is a handler plus the provenance of where it was found.
type ResolvedHandler struct {
	Handler Handler

	// PluginName is the plugin that contributed the handler.
	PluginName string

	Kind Kind

	// ActionType is the type the handler was found on. When resolution fell
	// back through the base chain this is the ancestor, not the queried type.
	ActionType string

	HandlerType HandlerType

	// Base is the next lower-precedence candidate, or nil.
	Base *ResolvedHandler
}

// String returns "<plugin>:<Kind>.<type>.<handler>".
func (r *ResolvedHandler) String() string {
	return fmt.Sprintf("%s:%s.%s.%s", r.PluginName, r.Kind, r.ActionType, r.HandlerType)
}

// Chain returns r followed by every handler reachable through Base links.
func (r *ResolvedHandler) Chain() []*ResolvedHandler {
	var chain []*ResolvedHandler
	for h := r; h != nil; h = h.Base {
		chain = append(chain, h)
	}
	return chain
}

// FormatChain renders a chain as "a -> b -> c".
func FormatChain(chain []*ResolvedHandler) string {
	parts := make([]string, len(chain))
	for i, h := range chain {
		parts[i] = h.String()
	}
	return strings.Join(parts, " -> ")
}

// Invoker runs a resolved handler with the given params.
type Invoker func(ctx context.Context, h *ResolvedHandler, params Params) (*Result, error)

// Base is the continuation injected into Params. It points at the next
// lower-precedence handler and carries the params it will be called with.
type Base struct {
	handler *ResolvedHandler
	params  Params
	invoke  Invoker
}

// NewBase returns a continuation for h, or nil if h is nil.
func NewBase(h *ResolvedHandler, params Params, invoke Invoker) *Base {
	if h == nil {
		return nil
	}
	if invoke == nil {
		invoke = Run
	}
	return &Base{handler: h, params: params, invoke: invoke}
}

// Handler returns the handler Call would run.
func (b *Base) Handler() *ResolvedHandler {
	if b == nil {
		return nil
	}
	return b.handler
}

// Call runs the lower-precedence handler with the same params and returns its
// result. It blocks until that handler returns. Errors are returned unchanged.
func (b *Base) Call(ctx context.Context) (*Result, error) {
	if b == nil {
		return nil, fmt.Errorf("no base handler to delegate to")
	}
	return b.invoke(ctx, b.handler, b.params)
}

// Run invokes h, injecting a Base continuation for h.Base.
func Run(ctx context.Context, h *ResolvedHandler, params Params) (*Result, error) {
	params.PluginName = h.PluginName
	params.Base = NewBase(h.Base, params, Run)
	return h.Handler(ctx, &params)
}
