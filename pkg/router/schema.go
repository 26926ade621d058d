package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

var printer = message.NewPrinter(language.English)

type schemaKey struct {
	kind       plugin.Kind
	actionType string
	outputKind plugin.OutputKind
}

// compiledSchema is the effective schema for a schemaKey. schema is nil when
// neither the type nor any ancestor declares one.
type compiledSchema struct {
	effective map[string]interface{}
	schema    *jsonschema.Schema
}

// OutputValidator checks handler outputs against inherited type schemas.
// It is safe for concurrent use.
type OutputValidator struct {
	registry *registry
	logger   *telemetry.Logger
	cache    sync.Map
}

func newOutputValidator(reg *registry, logger *telemetry.Logger) *OutputValidator {
	return &OutputValidator{registry: reg, logger: logger}
}

// precompile compiles every effective schema so broken schemas surface when
// the router is built rather than on first use.
func (v *OutputValidator) precompile() error {
	for _, k := range plugin.Kinds() {
		for _, name := range sortedTypeNames(v.registry.types[k]) {
			for _, out := range []plugin.OutputKind{plugin.OutputsStatic, plugin.OutputsRuntime} {
				if _, err := v.compiled(k, name, out); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// EffectiveSchema returns the output schema of the type merged with every
// ancestor's. Property definitions and required entries from an ancestor are
// added only for keys the descendant does not define itself. Other top-level
// keywords are inherited when absent. A nil schema means no type in the chain
// declares one.
func (v *OutputValidator) EffectiveSchema(k plugin.Kind, actionType string, outputKind plugin.OutputKind) (map[string]interface{}, error) {
	cs, err := v.compiled(k, actionType, outputKind)
	if err != nil {
		return nil, err
	}
	return cs.effective, nil
}

// ValidateOutputs validates outputs against the effective schema for the
// action's type and returns them unchanged. A nil map is validated as empty.
// Violations produce a validation error with one issue per offending key.
// A type no plugin registers has no schema, so its outputs pass as they are;
// this is what a default handler running on such a type produces.
func (v *OutputValidator) ValidateOutputs(a plugin.Action, outputKind plugin.OutputKind, outputs map[string]interface{}) (map[string]interface{}, error) {
	if v.registry.lookup(a.Kind(), a.Type()) == nil {
		return outputs, nil
	}
	cs, err := v.compiled(a.Kind(), a.Type(), outputKind)
	if err != nil {
		if re, ok := err.(*Error); ok {
			return nil, re.WithAction(a)
		}
		return nil, err
	}
	if cs.schema == nil {
		return outputs, nil
	}

	instance := outputs
	if instance == nil {
		instance = map[string]interface{}{}
	}
	doc, err := toJSONValue(instance)
	if err != nil {
		return nil, newValidationError(a, outputKind, nil, fmt.Errorf("outputs are not JSON-serializable: %w", err))
	}

	err = cs.schema.Validate(doc)
	if err == nil {
		return outputs, nil
	}

	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return nil, newValidationError(a, outputKind, nil, err)
	}
	issues := extractIssues(ve)
	v.logger.WithAction(string(a.Kind()), a.Name(), a.Type()).
		WithField("issues", len(issues)).
		Debugf("%s outputs failed validation", outputKind)
	return nil, newValidationError(a, outputKind, issues, nil)
}

// compiled returns the memoized compiled schema for the key.
func (v *OutputValidator) compiled(k plugin.Kind, actionType string, outputKind plugin.OutputKind) (*compiledSchema, error) {
	key := schemaKey{kind: k, actionType: actionType, outputKind: outputKind}
	if cached, ok := v.cache.Load(key); ok {
		return cached.(*compiledSchema), nil
	}

	chain := v.registry.chain(k, actionType)
	if len(chain) == 0 {
		return nil, newUnknownTypeError(k, actionType)
	}

	schemas := make([]map[string]interface{}, len(chain))
	for i, entry := range chain {
		schemas[i] = entry.definition.Schema(outputKind)
	}
	effective := mergeSchemas(schemas)

	cs := &compiledSchema{effective: effective}
	if effective != nil {
		schema, err := compileSchema(fmt.Sprintf("froyo:///%s/%s/%s.json", k, actionType, outputKind), effective)
		if err != nil {
			return nil, NewConfigurationError(
				fmt.Sprintf("invalid %s outputs schema for %s type '%s'", outputKind, k, actionType), err).
				WithCode(ErrCodeInvalidSchema)
		}
		cs.schema = schema
	}

	actual, _ := v.cache.LoadOrStore(key, cs)
	return actual.(*compiledSchema), nil
}

// mergeSchemas folds ancestor schemas into the first, which has precedence.
func mergeSchemas(chain []map[string]interface{}) map[string]interface{} {
	var merged map[string]interface{}
	for _, s := range chain {
		if s == nil {
			continue
		}
		if merged == nil {
			merged = cloneSchema(s)
			continue
		}

		props := propertiesOf(merged)
		defined := make(map[string]bool, len(props))
		for name := range props {
			defined[name] = true
		}

		for name, def := range propertiesOf(s) {
			if !defined[name] {
				props[name] = def
			}
		}
		if len(props) > 0 {
			merged["properties"] = props
		}

		required := requiredOf(merged)
		have := make(map[string]bool, len(required))
		for _, name := range required {
			have[name] = true
		}
		for _, name := range requiredOf(s) {
			if !defined[name] && !have[name] {
				have[name] = true
				required = append(required, name)
			}
		}
		if len(required) > 0 {
			merged["required"] = required
		}

		for keyword, value := range s {
			if _, ok := merged[keyword]; !ok {
				merged[keyword] = value
			}
		}
	}
	return merged
}

func cloneSchema(s map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(s))
	for k, v := range s {
		out[k] = v
	}
	if _, ok := s["properties"].(map[string]interface{}); ok {
		out["properties"] = propertiesOf(s)
	}
	if req := requiredOf(s); req != nil {
		out["required"] = req
	}
	return out
}

// propertiesOf returns a copy of the schema's properties map.
func propertiesOf(s map[string]interface{}) map[string]interface{} {
	raw, ok := s["properties"].(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// requiredOf returns a copy of the schema's required list.
func requiredOf(s map[string]interface{}) []string {
	switch raw := s["required"].(type) {
	case []string:
		return append([]string(nil), raw...)
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if name, ok := item.(string); ok {
				out = append(out, name)
			}
		}
		return out
	}
	return nil
}

func compileSchema(url string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	doc, err := toJSONValue(schema)
	if err != nil {
		return nil, fmt.Errorf("converting schema to JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("adding schema resource: %w", err)
	}
	return c.Compile(url)
}

// toJSONValue round-trips v through JSON so the validator sees json.Number
// and plain maps regardless of where v came from.
func toJSONValue(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(data))
}

// extractIssues flattens the error tree into leaf issues.
func extractIssues(ve *jsonschema.ValidationError) []ValidationIssue {
	var issues []ValidationIssue
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		return []ValidationIssue{{Message: ve.Error()}}
	}

	seen := make(map[string]bool, len(issues))
	out := issues[:0]
	for _, issue := range issues {
		k := issue.Path + "|" + issue.Key + "|" + issue.Keyword + "|" + issue.Message
		if !seen[k] {
			seen[k] = true
			out = append(out, issue)
		}
	}
	return out
}

func collectIssues(ve *jsonschema.ValidationError, issues *[]ValidationIssue) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectIssues(cause, issues)
		}
		return
	}
	if ve.ErrorKind == nil {
		return
	}

	keyword := ""
	if kw := ve.ErrorKind.KeywordPath(); len(kw) > 0 {
		keyword = kw[len(kw)-1]
	}
	switch keyword {
	case "", "allOf", "anyOf", "oneOf", "$ref":
		return
	}

	path := ""
	if len(ve.InstanceLocation) > 0 {
		path = "/" + strings.Join(ve.InstanceLocation, "/")
	}

	if req, ok := ve.ErrorKind.(*kind.Required); ok {
		for _, missing := range req.Missing {
			key := missing
			if len(ve.InstanceLocation) > 0 {
				key = ve.InstanceLocation[0]
			}
			*issues = append(*issues, ValidationIssue{
				Key:     key,
				Path:    path + "/" + missing,
				Keyword: keyword,
				Message: fmt.Sprintf("missing required property '%s'", missing),
			})
		}
		return
	}

	key := ""
	if len(ve.InstanceLocation) > 0 {
		key = ve.InstanceLocation[0]
	}
	*issues = append(*issues, ValidationIssue{
		Key:     key,
		Path:    path,
		Keyword: keyword,
		Message: ve.ErrorKind.LocalizedString(printer),
	})
}

func sortedTypeNames(types map[string]*typeEntry) []string {
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
