package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

// HandlerFunc is the name of the function a handler script must define.
// It is called as handler(params) or handler(params, base).
const HandlerFunc = "handler"

// Script is a compiled Starlark handler.
type Script struct {
	name    string
	fn      *starlark.Function
	timeout time.Duration
	logger  *telemetry.Logger
}

// CompileScript executes src once and returns its handler function. The
// module's globals are frozen, so the script may be called concurrently.
func CompileScript(name, src string, timeout time.Duration, logger *telemetry.Logger) (*Script, error) {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	thread := &starlark.Thread{
		Name:  name,
		Print: printer(logger, name),
	}

	globals, err := starlark.ExecFile(thread, name, src, predeclared())
	if err != nil {
		return nil, fmt.Errorf("failed to load handler script %s: %w", name, err)
	}

	v, ok := globals[HandlerFunc]
	if !ok {
		return nil, fmt.Errorf("handler script %s does not define %s()", name, HandlerFunc)
	}
	fn, ok := v.(*starlark.Function)
	if !ok {
		return nil, fmt.Errorf("handler script %s: %s is a %s, not a function", name, HandlerFunc, v.Type())
	}
	if n := fn.NumParams(); n < 1 || n > 2 {
		return nil, fmt.Errorf("handler script %s: %s must take (params) or (params, base), got %d parameters", name, HandlerFunc, n)
	}

	return &Script{name: name, fn: fn, timeout: timeout, logger: logger}, nil
}

// Handler adapts the script to a plugin.Handler.
//
// The script receives params as a dict with "action", "plugin" and "args",
// and base as a function returning the delegated result, or None when there
// is nothing to delegate to. It returns a dict with any of "state", "outputs"
// and "detail", or None. An error from base that the script does not handle
// is returned unchanged.
func (s *Script) Handler() plugin.Handler {
	return func(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
		return s.call(ctx, p)
	}
}

func (s *Script) call(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	thread := &starlark.Thread{
		Name:  s.name,
		Print: printer(s.logger, s.name),
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	params, err := toStarlarkValue(paramsValue(p))
	if err != nil {
		return nil, fmt.Errorf("handler script %s: failed to convert params: %w", s.name, err)
	}

	args := starlark.Tuple{params}
	var baseErr error
	if s.fn.NumParams() == 2 {
		var base starlark.Value = starlark.None
		if p.Base != nil {
			base = starlark.NewBuiltin("base", func(thread *starlark.Thread, b *starlark.Builtin, _ starlark.Tuple, _ []starlark.Tuple) (starlark.Value, error) {
				res, err := p.Base.Call(ctx)
				if err != nil {
					baseErr = err
					return nil, err
				}
				return toStarlarkValue(resultValue(res))
			})
		}
		args = append(args, base)
	}

	v, err := starlark.Call(thread, s.fn, args, nil)
	if err != nil {
		if baseErr != nil {
			return nil, baseErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("handler script %s: %w", s.name, ctxErr)
		}
		return nil, fmt.Errorf("handler script %s failed: %w", s.name, err)
	}

	return toResult(s.name, v)
}

// paramsValue is the script-facing view of handler params.
func paramsValue(p *plugin.Params) map[string]interface{} {
	out := map[string]interface{}{
		"plugin": p.PluginName,
		"args":   p.Args,
	}
	if a := p.Action; a != nil {
		out["action"] = map[string]interface{}{
			"kind":    string(a.Kind()),
			"type":    a.Type(),
			"name":    a.Name(),
			"version": a.Version(),
			"spec":    a.Config(),
		}
	}
	return out
}

func resultValue(r *plugin.Result) map[string]interface{} {
	if r == nil {
		return map[string]interface{}{"outputs": map[string]interface{}{}}
	}
	outputs := r.Outputs
	if outputs == nil {
		outputs = map[string]interface{}{}
	}
	out := map[string]interface{}{
		"state":   r.State,
		"outputs": outputs,
	}
	if r.Detail != nil {
		out["detail"] = r.Detail
	}
	return out
}

// toResult converts a script's return value to a Result.
func toResult(name string, v starlark.Value) (*plugin.Result, error) {
	if v == starlark.None {
		return &plugin.Result{}, nil
	}
	raw, err := fromStarlarkValue(v)
	if err != nil {
		return nil, fmt.Errorf("handler script %s returned an invalid value: %w", name, err)
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("handler script %s must return a dict or None, got %s", name, v.Type())
	}

	res := &plugin.Result{}
	for key, val := range m {
		switch key {
		case "state":
			s, ok := val.(string)
			if !ok && val != nil {
				return nil, fmt.Errorf("handler script %s: state must be a string", name)
			}
			res.State = s
		case "outputs":
			if val == nil {
				continue
			}
			outputs, ok := val.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("handler script %s: outputs must be a dict", name)
			}
			res.Outputs = outputs
		case "detail":
			if val == nil {
				continue
			}
			detail, ok := val.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("handler script %s: detail must be a dict", name)
			}
			res.Detail = detail
		default:
			return nil, fmt.Errorf("handler script %s returned unknown key %q (expected state, outputs, detail)", name, key)
		}
	}
	return res, nil
}

func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
	}
}

func printer(logger *telemetry.Logger, name string) func(*starlark.Thread, string) {
	return func(_ *starlark.Thread, msg string) {
		logger.WithField("script", name).Debug(msg)
	}
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		if i, ok := new(big.Int).SetString(val.String(), 10); ok {
			return starlark.MakeBigInt(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val, err)
		}
		return starlark.Float(f), nil
	default:
		normalized, err := normalizeJSON(v)
		if err != nil {
			return nil, fmt.Errorf("unsupported type %T: %w", v, err)
		}
		return toStarlarkValue(normalized)
	}
}

// normalizeJSON round-trips v through JSON so that typed maps, slices,
// structs and other numeric types reduce to the generic shapes above.
func normalizeJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out interface{}
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		return fromIterable(val, val.Len())
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{}, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(seq starlark.Indexable, n int) ([]interface{}, error) {
	list := make([]interface{}, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkValue(seq.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}
