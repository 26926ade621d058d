package plugin

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Kind is the category of an action (Build, Deploy, Run, Test).
type Kind string

const (
	KindBuild  Kind = "Build"
	KindDeploy Kind = "Deploy"
	KindRun    Kind = "Run"
	KindTest   Kind = "Test"
)

// Kinds returns all action kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindBuild, KindDeploy, KindRun, KindTest}
}

// ParseKind converts a string to a Kind, ignoring case.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown action kind %q (expected one of Build, Deploy, Run, Test)", s)
}

// StatusEventName returns the name of the public status event for the kind.
func (k Kind) StatusEventName() string {
	switch k {
	case KindBuild:
		return "buildStatus"
	case KindDeploy:
		return "deployStatus"
	case KindRun:
		return "runStatus"
	case KindTest:
		return "testStatus"
	default:
		return ""
	}
}

// HandlerType is the name of a lifecycle operation.
type HandlerType string

// Handler types shared by every kind.
const (
	HandlerConfigure  HandlerType = "configure"
	HandlerValidate   HandlerType = "validate"
	HandlerGetOutputs HandlerType = "getOutputs"
)

// Kind specific handler types.
const (
	HandlerGetStatus HandlerType = "getStatus"
	HandlerBuild     HandlerType = "build"
	HandlerPublish   HandlerType = "publish"
	HandlerDeploy    HandlerType = "deploy"
	HandlerDelete    HandlerType = "delete"
	HandlerExec      HandlerType = "exec"
	HandlerGetLogs   HandlerType = "getLogs"
	HandlerGetResult HandlerType = "getResult"
	HandlerRun       HandlerType = "run"
)

// OutputKind selects which output schema of a type applies.
type OutputKind string

const (
	OutputsStatic  OutputKind = "static"
	OutputsRuntime OutputKind = "runtime"
)

// handlerOutputs maps each kind's handler types to the outputs they return.
// An empty OutputKind means the handler's outputs are not validated.
var handlerOutputs = map[Kind]map[HandlerType]OutputKind{
	KindBuild: {
		HandlerConfigure:  "",
		HandlerValidate:   "",
		HandlerGetOutputs: OutputsStatic,
		HandlerGetStatus:  OutputsRuntime,
		HandlerBuild:      OutputsRuntime,
		HandlerPublish:    "",
	},
	KindDeploy: {
		HandlerConfigure:  "",
		HandlerValidate:   "",
		HandlerGetOutputs: OutputsStatic,
		HandlerGetStatus:  OutputsRuntime,
		HandlerDeploy:     OutputsRuntime,
		HandlerDelete:     "",
		HandlerExec:       "",
		HandlerGetLogs:    "",
	},
	KindRun: {
		HandlerConfigure:  "",
		HandlerValidate:   "",
		HandlerGetOutputs: OutputsStatic,
		HandlerGetResult:  OutputsRuntime,
		HandlerRun:        OutputsRuntime,
	},
	KindTest: {
		HandlerConfigure:  "",
		HandlerValidate:   "",
		HandlerGetOutputs: OutputsStatic,
		HandlerGetResult:  OutputsRuntime,
		HandlerRun:        OutputsRuntime,
	},
}

// Supports reports whether h is a valid handler type for the kind.
func (k Kind) Supports(h HandlerType) bool {
	_, ok := handlerOutputs[k][h]
	return ok
}

// HandlerTypes returns the handler types defined for the kind, sorted.
func (k Kind) HandlerTypes() []HandlerType {
	types := make([]HandlerType, 0, len(handlerOutputs[k]))
	for h := range handlerOutputs[k] {
		types = append(types, h)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// OutputKindFor returns which outputs a handler of type h returns for the kind.
// The second return value is false when the outputs are not validated.
func (k Kind) OutputKindFor(h HandlerType) (OutputKind, bool) {
	ok := handlerOutputs[k][h]
	return ok, ok != ""
}

// Action is the unit of work a handler operates on.
type Action interface {
	Kind() Kind
	Type() string
	Name() string
	Version() string
	Config() map[string]interface{}
}

// BasicAction is a plain Action implementation.
type BasicAction struct {
	ActionKind    Kind                   `json:"kind" yaml:"kind"`
	ActionType    string                 `json:"type" yaml:"type"`
	ActionName    string                 `json:"name" yaml:"name"`
	ActionVersion string                 `json:"version,omitempty" yaml:"version,omitempty"`
	Spec          map[string]interface{} `json:"spec,omitempty" yaml:"spec,omitempty"`
}

// Kind returns the action's kind.
func (a *BasicAction) Kind() Kind { return a.ActionKind }

// Type returns the action's type name.
func (a *BasicAction) Type() string { return a.ActionType }

// Name returns the action's name.
func (a *BasicAction) Name() string { return a.ActionName }

// Version returns the action's version.
func (a *BasicAction) Version() string { return a.ActionVersion }

// Config returns the action's spec.
func (a *BasicAction) Config() map[string]interface{} { return a.Spec }

// Key returns the "<Kind>.<name>" reference of an action.
func Key(a Action) string {
	return fmt.Sprintf("%s.%s", a.Kind(), a.Name())
}

// Result is what a handler returns.
type Result struct {
	// State is the action state reported by the handler (ready, not-ready, ...).
	State string `json:"state,omitempty"`

	// Outputs are the static or runtime outputs of the action.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	// Detail carries handler specific data the router passes through untouched.
	Detail map[string]interface{} `json:"detail,omitempty"`
}

// Action states reported in Result.State.
const (
	StateReady    = "ready"
	StateNotReady = "not-ready"
	StateUnknown  = "unknown"
	StateFailed   = "failed"
)

// Params are passed to every handler invocation.
type Params struct {
	// Action is the action being operated on.
	Action Action

	// PluginName is the name of the plugin whose handler is running.
	PluginName string

	// Base delegates to the next lower-precedence handler. It is nil when the
	// running handler overrides nothing.
	Base *Base

	// Args carries handler-type specific arguments.
	Args map[string]interface{}
}

// Handler implements one lifecycle operation for an action type.
type Handler func(ctx context.Context, params *Params) (*Result, error)

// HandlerSet is the set of handlers a type definition or extension contributes.
type HandlerSet interface {
	Handlers() map[HandlerType]Handler
}

// HandlerTable is an untyped HandlerSet, used for dynamically loaded plugins.
// Keys are checked against the kind when the router is built.
type HandlerTable map[HandlerType]Handler

// Handlers implements HandlerSet.
func (t HandlerTable) Handlers() map[HandlerType]Handler {
	out := make(map[HandlerType]Handler, len(t))
	for k, v := range t {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

// ActionTypeDefinition creates a new action type.
type ActionTypeDefinition struct {
	// Name is unique within the kind.
	Name string `validate:"required"`

	// Base names a type of the same kind to fall back to for missing
	// handlers and schema keys.
	Base string

	// Docs is a human readable description.
	Docs string

	// StaticOutputsSchema is the JSON schema of outputs known before execution.
	StaticOutputsSchema map[string]interface{}

	// RuntimeOutputsSchema is the JSON schema of outputs produced by execution.
	RuntimeOutputsSchema map[string]interface{}

	Handlers HandlerSet
}

// Schema returns the type's own schema for the output kind.
func (d *ActionTypeDefinition) Schema(kind OutputKind) map[string]interface{} {
	if kind == OutputsStatic {
		return d.StaticOutputsSchema
	}
	return d.RuntimeOutputsSchema
}

// ActionTypeExtension adds or overrides handlers on a type created elsewhere.
type ActionTypeExtension struct {
	Name     string `validate:"required"`
	Handlers HandlerSet
}

// Plugin is a named contributor of action type definitions and extensions.
type Plugin struct {
	Name         string `validate:"required"`
	Dependencies []string

	CreateActionTypes map[Kind][]ActionTypeDefinition
	ExtendActionTypes map[Kind][]ActionTypeExtension
}

// DependsOn reports whether the plugin declares name as a direct dependency.
func (p *Plugin) DependsOn(name string) bool {
	for _, d := range p.Dependencies {
		if d == name {
			return true
		}
	}
	return false
}
