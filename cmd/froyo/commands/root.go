package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo/pkg/manifest"
	"github.com/openfroyo/froyo/pkg/router"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

var (
	// Global flags
	pluginsDir    string
	jsonOutput    bool
	verbose       bool
	traceExporter string
	traceEndpoint string
	scriptTimeout time.Duration
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "froyo",
		Short: "Froyo - plugin action router",
		Long: `Froyo routes action handler calls to the plugins that implement them.

Plugins are YAML manifests with Starlark handlers. A plugin can create action
types, derive them from a base type, and extend types created by other plugins.
The most recently configured plugin wins, and a handler can delegate to the one
it overrides by calling base().`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&pluginsDir, "plugins-dir", "p", "plugins", "directory of plugin manifests, loaded in file name order")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&traceExporter, "trace", "none", "trace exporter (none, stdout, otlp)")
	rootCmd.PersistentFlags().StringVar(&traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP trace endpoint")
	rootCmd.PersistentFlags().DurationVar(&scriptTimeout, "script-timeout", 30*time.Second, "timeout for each handler script invocation")

	rootCmd.AddCommand(newPluginsCommand())
	rootCmd.AddCommand(newTypesCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newCallCommand())
	rootCmd.AddCommand(newSchemaCommand())

	return rootCmd
}

// session is the telemetry and router a command runs against.
type session struct {
	tel    *telemetry.Telemetry
	router *router.Router
}

// newTelemetry builds the telemetry bundle for a session.
var newTelemetry = telemetry.NewTelemetry

// openSession sets up telemetry and loads the plugin directory.
func openSession() (*session, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.EnableCaller = false
	cfg.Logging.Level = logLevel()
	if traceExporter != "none" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = traceExporter
		cfg.Tracing.Endpoint = traceEndpoint
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	s := &session{tel: tel}

	loader := manifest.NewLoader(
		manifest.WithLogger(tel.Logger),
		manifest.WithTimeout(scriptTimeout),
	)
	plugins, err := loader.LoadDir(pluginsDir)
	if err != nil {
		s.close(context.Background())
		return nil, err
	}

	s.router, err = router.New(plugins, router.WithTelemetry(tel))
	if err != nil {
		s.close(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *session) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.tel.Shutdown(ctx); err != nil {
		s.tel.Logger.WithError(err).Warn("Telemetry shutdown failed")
	}
}

func logLevel() string {
	if verbose {
		return "debug"
	}
	switch level := os.Getenv("LOG_LEVEL"); level {
	case "trace", "debug", "info", "warn", "error":
		return level
	default:
		return "warn"
	}
}
