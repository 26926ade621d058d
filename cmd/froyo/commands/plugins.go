package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/froyo/pkg/plugin"
)

type pluginRow struct {
	Rank         int      `json:"rank" yaml:"rank"`
	Name         string   `json:"name" yaml:"name"`
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Creates      []string `json:"creates,omitempty" yaml:"creates,omitempty"`
	Extends      []string `json:"extends,omitempty" yaml:"extends,omitempty"`
}

func newPluginsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List plugins in precedence order",
		Long: `List the configured plugins, lowest precedence first. A plugin always
comes after the plugins it depends on; otherwise file name order is kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			rows := make([]pluginRow, 0)
			for i, p := range s.router.Plugins() {
				row := pluginRow{Rank: i, Name: p.Name, Dependencies: p.Dependencies}
				for _, k := range plugin.Kinds() {
					for _, def := range p.CreateActionTypes[k] {
						row.Creates = append(row.Creates, string(k)+"."+def.Name)
					}
					for _, ext := range p.ExtendActionTypes[k] {
						row.Extends = append(row.Extends, string(k)+"."+ext.Name)
					}
				}
				rows = append(rows, row)
			}
			return printValue(cmd.OutOrStdout(), rows)
		},
	}
}

type typeRow struct {
	Kind       string   `json:"kind" yaml:"kind"`
	Name       string   `json:"name" yaml:"name"`
	Base       string   `json:"base,omitempty" yaml:"base,omitempty"`
	Docs       string   `json:"docs,omitempty" yaml:"docs,omitempty"`
	CreatedBy  string   `json:"createdBy" yaml:"createdBy"`
	ExtendedBy []string `json:"extendedBy,omitempty" yaml:"extendedBy,omitempty"`
	Handlers   []string `json:"handlers,omitempty" yaml:"handlers,omitempty"`
}

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types [kind]",
		Short: "List registered action types",
		Example: `  # All types
  froyo types

  # Build types only
  froyo types Build`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := plugin.Kinds()
			if len(args) == 1 {
				k, err := plugin.ParseKind(args[0])
				if err != nil {
					return err
				}
				kinds = []plugin.Kind{k}
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.close(cmd.Context())

			rows := make([]typeRow, 0)
			for _, k := range kinds {
				for _, info := range s.router.Types(k) {
					row := typeRow{
						Kind:       string(info.Kind),
						Name:       info.Name,
						Base:       info.Base,
						Docs:       info.Docs,
						CreatedBy:  info.CreatedBy,
						ExtendedBy: info.ExtendedBy,
					}
					for _, h := range info.Handlers {
						row.Handlers = append(row.Handlers, string(h))
					}
					rows = append(rows, row)
				}
			}
			return printValue(cmd.OutOrStdout(), rows)
		},
	}
}
