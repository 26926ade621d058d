package router

import (
	"sync"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

// Query asks which handler implements HandlerType for ActionType.
type Query struct {
	Kind        plugin.Kind
	ActionType  string
	HandlerType plugin.HandlerType

	// Default is used when no plugin supplies the handler. When plugins do
	// supply it, Default becomes the last link of the delegation chain.
	Default plugin.Handler
}

type resolutionKey struct {
	kind        plugin.Kind
	actionType  string
	handlerType plugin.HandlerType
}

// Resolver answers which plugin's handler implements an operation for a type.
// It is safe for concurrent use.
type Resolver struct {
	registry *registry
	logger   *telemetry.Logger

	// cache holds the candidate chain head (or nil) per resolutionKey.
	cache sync.Map
}

func newResolver(reg *registry, logger *telemetry.Logger) *Resolver {
	return &Resolver{registry: reg, logger: logger}
}

// GetHandler resolves the handler for q.
//
// Plugins that created or extended the type are scanned from highest to lowest
// precedence; if none defines the handler, the type's base chain is searched
// the same way. Failing that, q.Default is returned with the plugin name
// "_default". Otherwise a resolution error naming the handler type and action
// type is returned.
//
// The returned handler's ActionType is the type it was found on, which may be
// an ancestor of q.ActionType. Its Base link points at the next candidate.
// Returned values are shared and must not be modified.
func (r *Resolver) GetHandler(q Query) (*plugin.ResolvedHandler, error) {
	head := r.resolve(q.Kind, q.ActionType, q.HandlerType)

	if q.Default != nil {
		def := &plugin.ResolvedHandler{
			Handler:     q.Default,
			PluginName:  plugin.DefaultPluginName,
			Kind:        q.Kind,
			ActionType:  q.ActionType,
			HandlerType: q.HandlerType,
		}
		return appendLink(head, def), nil
	}

	if head == nil {
		return nil, newResolutionError(q.Kind, q.ActionType, q.HandlerType)
	}
	return head, nil
}

// Candidates returns every handler for the query in the order delegation
// visits them: highest precedence first, then down the base chain.
func (r *Resolver) Candidates(kind plugin.Kind, actionType string, handlerType plugin.HandlerType) []*plugin.ResolvedHandler {
	return r.resolve(kind, actionType, handlerType).Chain()
}

// resolve returns the memoized head of the candidate chain, or nil.
func (r *Resolver) resolve(kind plugin.Kind, actionType string, handlerType plugin.HandlerType) *plugin.ResolvedHandler {
	key := resolutionKey{kind: kind, actionType: actionType, handlerType: handlerType}
	if cached, ok := r.cache.Load(key); ok {
		return cached.(*plugin.ResolvedHandler)
	}

	head := r.buildChain(kind, actionType, handlerType)
	actual, _ := r.cache.LoadOrStore(key, head)
	head = actual.(*plugin.ResolvedHandler)

	if head != nil {
		r.logger.Debugf("Resolved %s handler for %s type '%s' to %s",
			handlerType, kind, actionType, plugin.FormatChain(head.Chain()))
	} else {
		r.logger.Debugf("No %s handler for %s type '%s'", handlerType, kind, actionType)
	}
	return head
}

// buildChain links all candidates for the query, highest precedence first.
func (r *Resolver) buildChain(kind plugin.Kind, actionType string, handlerType plugin.HandlerType) *plugin.ResolvedHandler {
	var candidates []*plugin.ResolvedHandler
	for _, entry := range r.registry.chain(kind, actionType) {
		for i := len(entry.contributions) - 1; i >= 0; i-- {
			c := entry.contributions[i]
			h, ok := c.handlers[handlerType]
			if !ok {
				continue
			}
			candidates = append(candidates, &plugin.ResolvedHandler{
				Handler:     h,
				PluginName:  c.plugin,
				Kind:        kind,
				ActionType:  entry.definition.Name,
				HandlerType: handlerType,
			})
		}
	}

	if len(candidates) == 0 {
		return nil
	}
	for i := 0; i < len(candidates)-1; i++ {
		candidates[i].Base = candidates[i+1]
	}
	return candidates[0]
}

// appendLink returns a copy of the chain starting at head with tail linked at
// the end. The cached chain is left untouched.
func appendLink(head, tail *plugin.ResolvedHandler) *plugin.ResolvedHandler {
	if head == nil {
		return tail
	}
	chain := head.Chain()
	copies := make([]*plugin.ResolvedHandler, len(chain))
	for i, h := range chain {
		c := *h
		copies[i] = &c
	}
	for i := 0; i < len(copies)-1; i++ {
		copies[i].Base = copies[i+1]
	}
	copies[len(copies)-1].Base = tail
	return copies[0]
}
