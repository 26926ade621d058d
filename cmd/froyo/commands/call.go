package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/router"
	"github.com/openfroyo/froyo/pkg/telemetry"
)

func newCallCommand() *cobra.Command {
	var (
		name         string
		version      string
		specFile     string
		specValues   []string
		argValues    []string
		showEvents   bool
		showMetrics  bool
		allowMissing bool
	)

	cmd := &cobra.Command{
		Use:   "call <kind> <type> <handler>",
		Short: "Run a handler for an action",
		Long: `Resolve and run a handler for one action, then print its result.

Outputs are checked against the type's output schema. Static outputs are always
checked; runtime outputs only when the handler reports the action ready.`,
		Example: `  # Build an action of type docker
  froyo call Build docker build --name api --spec ./api.yaml

  # Set spec fields inline and show lifecycle events
  froyo call Run exec run --set command=make --set retries=2 --events`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, actionType, ht, err := parseTarget(args)
			if err != nil {
				return err
			}

			spec := map[string]interface{}{}
			if specFile != "" {
				if spec, err = readDocument(specFile); err != nil {
					return err
				}
			}
			if err := parseAssignments(spec, specValues); err != nil {
				return err
			}
			handlerArgs := map[string]interface{}{}
			if err := parseAssignments(handlerArgs, argValues); err != nil {
				return err
			}
			if name == "" {
				name = actionType
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			if showEvents {
				errOut := cmd.ErrOrStderr()
				s.tel.Events.Subscribe(func(ev telemetry.Event) {
					line, err := json.Marshal(ev.ActionStatus)
					if err != nil {
						return
					}
					fmt.Fprintln(errOut, string(line))
				}, func(ev telemetry.Event) bool {
					return ev.ActionStatus != nil
				})
			}

			call := router.Call{
				HandlerType: ht,
				Params: plugin.Params{
					Action: &plugin.BasicAction{
						ActionKind:    kind,
						ActionType:    actionType,
						ActionName:    name,
						ActionVersion: version,
						Spec:          spec,
					},
					Args: handlerArgs,
				},
			}
			if allowMissing {
				call.Default = unknownState
			}

			res, err := s.router.CallHandler(cmd.Context(), call)
			if showMetrics {
				if merr := writeMetrics(cmd.ErrOrStderr(), s.tel.Metrics.Registry()); merr != nil {
					s.tel.Logger.WithError(merr).Warn("Failed to write metrics")
				}
			}
			if err != nil {
				return err
			}
			if res == nil {
				res = &plugin.Result{}
			}
			return printValue(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "action name (defaults to the type)")
	cmd.Flags().StringVar(&version, "version", "", "action version")
	cmd.Flags().StringVarP(&specFile, "spec", "f", "", "YAML or JSON file with the action spec, - for stdin")
	cmd.Flags().StringArrayVar(&specValues, "set", nil, "set a spec field (key=value, repeatable)")
	cmd.Flags().StringArrayVar(&argValues, "arg", nil, "pass a handler argument (key=value, repeatable)")
	cmd.Flags().BoolVar(&showEvents, "events", false, "print lifecycle events to stderr")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print router metrics to stderr after the call")
	cmd.Flags().BoolVar(&allowMissing, "allow-missing", false, "report unknown state instead of failing when no plugin implements the handler")

	return cmd
}

// unknownState is the default handler used with --allow-missing.
func unknownState(ctx context.Context, p *plugin.Params) (*plugin.Result, error) {
	return &plugin.Result{State: plugin.StateUnknown}, nil
}
