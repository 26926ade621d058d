package router

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/froyo/pkg/plugin"
)

// contribution is one plugin's handlers for one type.
type contribution struct {
	plugin string
	// rank is the plugin's position in the linearized plugin order.
	rank     int
	handlers map[plugin.HandlerType]plugin.Handler
}

// typeEntry is everything known about one action type.
type typeEntry struct {
	kind       plugin.Kind
	definition plugin.ActionTypeDefinition
	createdBy  string

	// contributions are sorted by ascending precedence.
	contributions []contribution
}

// TypeInfo describes a registered action type.
type TypeInfo struct {
	Kind      plugin.Kind
	Name      string
	Base      string
	Docs      string
	CreatedBy string

	// ExtendedBy lists plugins that extend the type, in precedence order.
	ExtendedBy []string

	// Handlers lists the handler types the type or its contributors define,
	// not counting inherited ones.
	Handlers []plugin.HandlerType
}

// registry is the immutable index the resolver and validator work on.
type registry struct {
	plugins []*plugin.Plugin
	types   map[plugin.Kind]map[string]*typeEntry
}

// buildRegistry orders the plugins and indexes every type they create or extend.
func buildRegistry(plugins []*plugin.Plugin, validate *validator.Validate) (*registry, error) {
	for _, p := range plugins {
		if p == nil {
			return nil, NewConfigurationError("nil plugin in plugin list", nil)
		}
		if err := validate.Struct(p); err != nil {
			return nil, NewConfigurationError(fmt.Sprintf("invalid plugin %q", p.Name), err)
		}
	}

	ordered, err := plugin.Order(plugins)
	if err != nil {
		return nil, NewConfigurationError("failed to order plugins", err)
	}

	reg := &registry{
		plugins: ordered,
		types:   make(map[plugin.Kind]map[string]*typeEntry),
	}
	for _, k := range plugin.Kinds() {
		reg.types[k] = make(map[string]*typeEntry)
	}

	// Creations first so extensions may target types created by any plugin.
	for rank, p := range ordered {
		for _, kind := range sortedKinds(p.CreateActionTypes) {
			if _, ok := reg.types[kind]; !ok {
				return nil, NewConfigurationError(
					fmt.Sprintf("plugin %s creates types of unknown kind %q", p.Name, kind), nil)
			}
			for _, def := range p.CreateActionTypes[kind] {
				if err := validate.Struct(def); err != nil {
					return nil, NewConfigurationError(
						fmt.Sprintf("plugin %s declares an invalid %s type", p.Name, kind), err)
				}
				if existing, ok := reg.types[kind][def.Name]; ok {
					return nil, NewConfigurationError(
						fmt.Sprintf("plugin %s redeclares %s type '%s', already created by plugin %s",
							p.Name, kind, def.Name, existing.createdBy), nil).
						WithCode(ErrCodeDuplicateType)
				}
				handlers, err := checkHandlers(p.Name, kind, def.Name, def.Handlers)
				if err != nil {
					return nil, err
				}
				reg.types[kind][def.Name] = &typeEntry{
					kind:          kind,
					definition:    def,
					createdBy:     p.Name,
					contributions: []contribution{{plugin: p.Name, rank: rank, handlers: handlers}},
				}
			}
		}
	}

	for rank, p := range ordered {
		for _, kind := range sortedKinds(p.ExtendActionTypes) {
			types, ok := reg.types[kind]
			if !ok {
				return nil, NewConfigurationError(
					fmt.Sprintf("plugin %s extends types of unknown kind %q", p.Name, kind), nil)
			}
			for _, ext := range p.ExtendActionTypes[kind] {
				if err := validate.Struct(ext); err != nil {
					return nil, NewConfigurationError(
						fmt.Sprintf("plugin %s declares an invalid %s type extension", p.Name, kind), err)
				}
				entry, ok := types[ext.Name]
				if !ok {
					return nil, NewConfigurationError(
						fmt.Sprintf("plugin %s extends %s type '%s', which no configured plugin creates",
							p.Name, kind, ext.Name), nil).
						WithCode(ErrCodeUnknownType)
				}
				handlers, err := checkHandlers(p.Name, kind, ext.Name, ext.Handlers)
				if err != nil {
					return nil, err
				}
				entry.contributions = append(entry.contributions,
					contribution{plugin: p.Name, rank: rank, handlers: handlers})
			}
		}
	}

	for kind, types := range reg.types {
		for _, entry := range types {
			sort.SliceStable(entry.contributions, func(i, j int) bool {
				return entry.contributions[i].rank < entry.contributions[j].rank
			})
		}
		if err := checkBases(kind, types); err != nil {
			return nil, err
		}
	}

	return reg, nil
}

// checkHandlers verifies every handler key is valid for the kind.
func checkHandlers(pluginName string, kind plugin.Kind, typeName string, set plugin.HandlerSet) (map[plugin.HandlerType]plugin.Handler, error) {
	if set == nil {
		return map[plugin.HandlerType]plugin.Handler{}, nil
	}
	handlers := set.Handlers()
	for h := range handlers {
		if !kind.Supports(h) {
			return nil, NewConfigurationError(
				fmt.Sprintf("plugin %s defines unknown handler '%s' for %s type '%s' (valid handlers: %s)",
					pluginName, h, kind, typeName, joinHandlerTypes(kind.HandlerTypes())), nil)
		}
	}
	return handlers, nil
}

// checkBases verifies base references resolve and form no cycles.
func checkBases(kind plugin.Kind, types map[string]*typeEntry) error {
	for _, name := range sortedTypeNames(types) {
		path := []string{name}
		seen := map[string]bool{name: true}
		current := types[name]
		for current.definition.Base != "" {
			base := current.definition.Base
			next, ok := types[base]
			if !ok {
				return NewConfigurationError(
					fmt.Sprintf("%s type '%s' (created by plugin %s) is based on unknown type '%s'",
						kind, current.definition.Name, current.createdBy, base), nil).
					WithCode(ErrCodeUnknownType)
			}
			path = append(path, base)
			if seen[base] {
				return NewConfigurationError(
					fmt.Sprintf("circular base type chain for %s types: %s", kind, strings.Join(path, " -> ")),
					errors.New("base chain is cyclic")).
					WithCode(ErrCodeBaseCycle)
			}
			seen[base] = true
			current = next
		}
	}
	return nil
}

// lookup returns the entry for a type, or nil.
func (r *registry) lookup(kind plugin.Kind, name string) *typeEntry {
	return r.types[kind][name]
}

// chain returns the type followed by its ancestors.
func (r *registry) chain(kind plugin.Kind, name string) []*typeEntry {
	var out []*typeEntry
	for entry := r.lookup(kind, name); entry != nil; entry = r.lookup(kind, entry.definition.Base) {
		out = append(out, entry)
	}
	return out
}

// info summarizes an entry for listing.
func (e *typeEntry) info() TypeInfo {
	ti := TypeInfo{
		Kind:      e.kind,
		Name:      e.definition.Name,
		Base:      e.definition.Base,
		Docs:      e.definition.Docs,
		CreatedBy: e.createdBy,
	}
	seen := make(map[plugin.HandlerType]bool)
	for _, c := range e.contributions {
		if c.plugin != e.createdBy {
			ti.ExtendedBy = append(ti.ExtendedBy, c.plugin)
		}
		for h := range c.handlers {
			if !seen[h] {
				seen[h] = true
				ti.Handlers = append(ti.Handlers, h)
			}
		}
	}
	sort.Slice(ti.Handlers, func(i, j int) bool { return ti.Handlers[i] < ti.Handlers[j] })
	return ti
}

func sortedKinds[V any](m map[plugin.Kind]V) []plugin.Kind {
	kinds := make([]plugin.Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

func joinHandlerTypes(types []plugin.HandlerType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
