package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

// Manifest is the YAML form of a plugin.
type Manifest struct {
	Name         string   `yaml:"name" validate:"required"`
	Dependencies []string `yaml:"dependencies,omitempty" validate:"dive,required"`

	CreateActionTypes map[string][]TypeSpec      `yaml:"createActionTypes,omitempty" validate:"dive,keys,oneof=Build Deploy Run Test,endkeys,dive"`
	ExtendActionTypes map[string][]ExtensionSpec `yaml:"extendActionTypes,omitempty" validate:"dive,keys,oneof=Build Deploy Run Test,endkeys,dive"`

	// dir resolves handler script file references.
	dir string
}

// TypeSpec declares a new action type.
type TypeSpec struct {
	Name                 string                 `yaml:"name" validate:"required"`
	Base                 string                 `yaml:"base,omitempty"`
	Docs                 string                 `yaml:"docs,omitempty"`
	StaticOutputsSchema  map[string]interface{} `yaml:"staticOutputsSchema,omitempty"`
	RuntimeOutputsSchema map[string]interface{} `yaml:"runtimeOutputsSchema,omitempty"`

	// Handlers maps handler types to Starlark source, or to a .star file
	// relative to the manifest.
	Handlers map[string]string `yaml:"handlers,omitempty" validate:"dive,keys,required,endkeys,required"`
}

// ExtensionSpec adds handlers to a type created by another plugin.
type ExtensionSpec struct {
	Name     string            `yaml:"name" validate:"required"`
	Handlers map[string]string `yaml:"handlers" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

// Loader turns manifests into plugins.
type Loader struct {
	validate *validator.Validate
	logger   *telemetry.Logger
	timeout  time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger used for loading and for script print output.
func WithLogger(logger *telemetry.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithTimeout bounds each handler script invocation. Zero means no bound
// beyond the caller's context.
func WithTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = timeout
	}
}

// NewLoader creates a manifest loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		validate: validator.New(),
		logger:   telemetry.NewNopLogger(),
		timeout:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.NewComponentLogger("manifest")
	return l
}

// Parse decodes and validates a manifest. dir is used to resolve script files.
func (l *Loader) Parse(data []byte, dir string) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to parse plugin manifest: %w", err)
	}
	if err := l.validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("invalid plugin manifest %q: %w", m.Name, err)
	}
	m.dir = dir
	return &m, nil
}

// LoadFile loads one manifest file.
func (l *Loader) LoadFile(path string) (*plugin.Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin manifest: %w", err)
	}
	m, err := l.Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p, err := l.Build(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	l.logger.WithFields(map[string]interface{}{
		"plugin": p.Name,
		"path":   path,
	}).Debug("Loaded plugin manifest")
	return p, nil
}

// LoadDir loads every *.yaml and *.yml manifest in dir, in file name order.
// That order is the plugins' configuration order.
func (l *Loader) LoadDir(dir string) ([]*plugin.Plugin, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugins directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	return l.LoadFiles(files)
}

// LoadFiles loads manifests in the given order.
func (l *Loader) LoadFiles(paths []string) ([]*plugin.Plugin, error) {
	plugins := make([]*plugin.Plugin, 0, len(paths))
	for _, path := range paths {
		p, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// Build compiles the manifest's handler scripts into a plugin.
func (l *Loader) Build(m *Manifest) (*plugin.Plugin, error) {
	p := &plugin.Plugin{
		Name:         m.Name,
		Dependencies: m.Dependencies,
	}

	for kindName, specs := range m.CreateActionTypes {
		kind, err := plugin.ParseKind(kindName)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			handlers, err := l.compileHandlers(m, kind, spec.Name, spec.Handlers)
			if err != nil {
				return nil, err
			}
			if p.CreateActionTypes == nil {
				p.CreateActionTypes = make(map[plugin.Kind][]plugin.ActionTypeDefinition)
			}
			p.CreateActionTypes[kind] = append(p.CreateActionTypes[kind], plugin.ActionTypeDefinition{
				Name:                 spec.Name,
				Base:                 spec.Base,
				Docs:                 spec.Docs,
				StaticOutputsSchema:  spec.StaticOutputsSchema,
				RuntimeOutputsSchema: spec.RuntimeOutputsSchema,
				Handlers:             handlers,
			})
		}
	}

	for kindName, specs := range m.ExtendActionTypes {
		kind, err := plugin.ParseKind(kindName)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			handlers, err := l.compileHandlers(m, kind, spec.Name, spec.Handlers)
			if err != nil {
				return nil, err
			}
			if p.ExtendActionTypes == nil {
				p.ExtendActionTypes = make(map[plugin.Kind][]plugin.ActionTypeExtension)
			}
			p.ExtendActionTypes[kind] = append(p.ExtendActionTypes[kind], plugin.ActionTypeExtension{
				Name:     spec.Name,
				Handlers: handlers,
			})
		}
	}

	return p, nil
}

func (l *Loader) compileHandlers(m *Manifest, kind plugin.Kind, typeName string, sources map[string]string) (plugin.HandlerTable, error) {
	table := make(plugin.HandlerTable, len(sources))
	for name, src := range sources {
		ht := plugin.HandlerType(name)
		if !kind.Supports(ht) {
			return nil, fmt.Errorf("plugin %s: unknown %s handler %q for type %q", m.Name, kind, name, typeName)
		}

		scriptName := fmt.Sprintf("%s/%s.%s.%s", m.Name, kind, typeName, name)
		if isScriptFile(src) {
			path := strings.TrimSpace(src)
			if !filepath.IsAbs(path) {
				path = filepath.Join(m.dir, path)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("plugin %s: failed to read handler script: %w", m.Name, err)
			}
			src = string(data)
			scriptName = path
		}

		script, err := CompileScript(scriptName, src, l.timeout, l.logger)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", m.Name, err)
		}
		table[ht] = script.Handler()
	}
	return table, nil
}

// isScriptFile reports whether a handler value names a file rather than
// holding source.
func isScriptFile(src string) bool {
	s := strings.TrimSpace(src)
	return strings.HasSuffix(s, ".star") && !strings.ContainsAny(s, "\n(")
}
