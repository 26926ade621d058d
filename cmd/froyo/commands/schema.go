package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo/pkg/plugin"
)

func newSchemaCommand() *cobra.Command {
	var (
		outputs  string
		validate string
	)

	cmd := &cobra.Command{
		Use:   "schema <kind> <type>",
		Short: "Show or check a type's effective output schema",
		Long: `Print the output schema of a type merged with the schemas of its base types.
With --validate, check an outputs document against it instead.`,
		Example: `  froyo schema Build docker
  froyo schema Build docker --outputs static
  froyo schema Build docker --validate ./outputs.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := plugin.ParseKind(args[0])
			if err != nil {
				return err
			}
			outputKind := plugin.OutputKind(outputs)
			if outputKind != plugin.OutputsStatic && outputKind != plugin.OutputsRuntime {
				return fmt.Errorf("invalid --outputs %q (expected static or runtime)", outputs)
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			schema, err := s.router.Validator().EffectiveSchema(kind, args[1], outputKind)
			if err != nil {
				return err
			}
			if validate == "" {
				return printValue(cmd.OutOrStdout(), schema)
			}

			doc, err := readDocument(validate)
			if err != nil {
				return err
			}
			action := &plugin.BasicAction{ActionKind: kind, ActionType: args[1], ActionName: args[1]}
			if _, err := s.router.Validator().ValidateOutputs(action, outputKind, doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s outputs of %s.%s are valid\n", outputKind, kind, args[1])
			return nil
		},
	}

	cmd.Flags().StringVar(&outputs, "outputs", string(plugin.OutputsRuntime), "which outputs schema (static, runtime)")
	cmd.Flags().StringVar(&validate, "validate", "", "YAML or JSON outputs file to check, - for stdin")

	return cmd
}
