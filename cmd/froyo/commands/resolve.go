package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo/pkg/plugin"
	"github.com/openfroyo/froyo/pkg/router"
)

type candidateRow struct {
	Plugin     string `json:"plugin" yaml:"plugin"`
	Kind       string `json:"kind" yaml:"kind"`
	ActionType string `json:"actionType" yaml:"actionType"`
	Handler    string `json:"handler" yaml:"handler"`
}

// parseTarget reads the <kind> <type> <handler> arguments shared by resolve
// and call.
func parseTarget(args []string) (plugin.Kind, string, plugin.HandlerType, error) {
	kind, err := plugin.ParseKind(args[0])
	if err != nil {
		return "", "", "", err
	}
	ht := plugin.HandlerType(args[2])
	if !kind.Supports(ht) {
		return "", "", "", fmt.Errorf("%s actions have no %q handler (supported: %v)", kind, ht, kind.HandlerTypes())
	}
	return kind, args[1], ht, nil
}

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <kind> <type> <handler>",
		Short: "Show which plugins implement a handler",
		Long: `Show the delegation chain for a handler: the handler that runs first, then
each handler reached by calling base(), including those found on base types.`,
		Example: `  froyo resolve Build docker build`,
		Args:    cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, actionType, ht, err := parseTarget(args)
			if err != nil {
				return err
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			head, err := s.router.Resolver().GetHandler(router.Query{
				Kind:        kind,
				ActionType:  actionType,
				HandlerType: ht,
			})
			if err != nil {
				return err
			}

			rows := make([]candidateRow, 0)
			for _, h := range head.Chain() {
				rows = append(rows, candidateRow{
					Plugin:     h.PluginName,
					Kind:       string(h.Kind),
					ActionType: h.ActionType,
					Handler:    string(h.HandlerType),
				})
			}
			return printValue(cmd.OutOrStdout(), rows)
		},
	}
}
