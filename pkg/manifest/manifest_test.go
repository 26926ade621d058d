package manifest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/router"
)

func TestLoader_LoadDir(t *testing.T) {
	plugins, err := NewLoader().LoadDir(filepath.Join("testdata", "plugins"))
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}

	if len(plugins) != 2 {
		t.Fatalf("expected 2 plugins, got %d", len(plugins))
	}
	if plugins[0].Name != "base" || plugins[1].Name != "extends" {
		t.Errorf("expected base, extends in file name order, got %s, %s", plugins[0].Name, plugins[1].Name)
	}
	if !plugins[1].DependsOn("base") {
		t.Error("expected extends to depend on base")
	}

	types := plugins[0].CreateActionTypes[plugin.KindBuild]
	if len(types) != 2 || types[0].Name != "test" || types[1].Base != "test" {
		t.Fatalf("unexpected types: %+v", types)
	}
	if types[0].RuntimeOutputsSchema["type"] != "object" {
		t.Errorf("expected runtime schema to be loaded, got %v", types[0].RuntimeOutputsSchema)
	}
	if n := len(types[0].Handlers.Handlers()); n != 2 {
		t.Errorf("expected 2 handlers on test, got %d", n)
	}
}

func TestLoader_RouterEndToEnd(t *testing.T) {
	plugins, err := NewLoader().LoadDir(filepath.Join("testdata", "plugins"))
	if err != nil {
		t.Fatalf("LoadDir() error: %v", err)
	}
	r, err := router.New(plugins)
	if err != nil {
		t.Fatalf("router.New() error: %v", err)
	}

	call := func(handlerType plugin.HandlerType, actionType string, spec map[string]interface{}) *plugin.Result {
		t.Helper()
		res, err := r.CallHandler(context.Background(), router.Call{
			HandlerType: handlerType,
			Params: plugin.Params{Action: &plugin.BasicAction{
				ActionKind: plugin.KindBuild,
				ActionType: actionType,
				ActionName: "api",
				Spec:       spec,
			}},
		})
		if err != nil {
			t.Fatalf("CallHandler(%s, %s) error: %v", handlerType, actionType, err)
		}
		return res
	}

	res := call(plugin.HandlerBuild, "test", nil)
	if res.Outputs["foo"] != "bar" || res.Outputs["extra"] != true || res.Outputs["by"] != "extends" {
		t.Errorf("unexpected build outputs: %v", res.Outputs)
	}

	// ext has no handlers and falls back to test.
	res = call(plugin.HandlerBuild, "ext", nil)
	if res.Outputs["extra"] != true {
		t.Errorf("expected ext to resolve to the extended handler, got %v", res.Outputs)
	}

	res = call(plugin.HandlerGetStatus, "test", map[string]interface{}{"done": false})
	if res.State != plugin.StateNotReady {
		t.Errorf("expected not-ready, got %q", res.State)
	}
	res = call(plugin.HandlerGetStatus, "test", map[string]interface{}{"done": true})
	if res.State != plugin.StateReady || res.Outputs["foo"] != "status" {
		t.Errorf("unexpected status result: %+v", res)
	}
}

func TestLoader_Parse(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name:     "minimal",
			manifest: "name: empty\n",
		},
		{
			name:     "missing name",
			manifest: "dependencies: [a]\n",
			wantErr:  "Name",
		},
		{
			name:     "unknown field",
			manifest: "name: a\nversion: 2\n",
			wantErr:  "version",
		},
		{
			name:     "unknown kind",
			manifest: "name: a\ncreateActionTypes:\n  Provider:\n    - name: x\n",
			wantErr:  "oneof",
		},
		{
			name:     "unnamed type",
			manifest: "name: a\ncreateActionTypes:\n  Build:\n    - docs: nameless\n",
			wantErr:  "Name",
		},
		{
			name:     "extension without handlers",
			manifest: "name: a\nextendActionTypes:\n  Build:\n    - name: x\n",
			wantErr:  "Handlers",
		},
		{
			name:     "empty dependency",
			manifest: "name: a\ndependencies: ['']\n",
			wantErr:  "Dependencies",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().Parse([]byte(tt.manifest), ".")
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Parse() error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoader_Build(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		wantErr  string
	}{
		{
			name: "unknown handler type",
			manifest: `name: a
createActionTypes:
  Build:
    - name: x
      handlers:
        deploy: |
          def handler(params):
              return None
`,
			wantErr: `unknown Build handler "deploy"`,
		},
		{
			name: "script without handler",
			manifest: `name: a
createActionTypes:
  Run:
    - name: x
      handlers:
        run: |
          x = 1
`,
			wantErr: "does not define handler()",
		},
		{
			name: "syntax error",
			manifest: `name: a
createActionTypes:
  Run:
    - name: x
      handlers:
        run: |
          def handler(params)
              return None
`,
			wantErr: "failed to load handler script",
		},
		{
			name: "too many parameters",
			manifest: `name: a
createActionTypes:
  Test:
    - name: x
      handlers:
        run: |
          def handler(params, base, extra):
              return None
`,
			wantErr: "must take (params) or (params, base)",
		},
		{
			name: "missing script file",
			manifest: `name: a
createActionTypes:
  Deploy:
    - name: x
      handlers:
        deploy: missing.star
`,
			wantErr: "failed to read handler script",
		},
		{
			name: "kind names are exact",
			manifest: `name: a
extendActionTypes:
  deploy:
    - name: x
      handlers:
        deploy: |
          def handler(params, base):
              return base()
`,
			wantErr: "oneof",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLoader()
			m, err := l.Parse([]byte(tt.manifest), "testdata")
			if err == nil {
				_, err = l.Build(m)
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected %q in %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoader_LoadDirMissing(t *testing.T) {
	if _, err := NewLoader().LoadDir(filepath.Join("testdata", "nope")); err == nil {
		t.Error("expected error for a missing directory")
	}
}
