package cli

import (
	"github.com/spf13/cobra"

	"tabprep/internal/schema"
)

func newSchemaCommand(a *app) *cobra.Command {
	var (
		target      string
		categorical []string
	)
	cmd := &cobra.Command{
		Use:   "schema <file>",
		Short: "Infer the semantic role of every column",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			in := schema.New(
				schema.WithResolver(a.resolver(ctx)),
				schema.WithStore(st),
				schema.WithLogger(a.log),
			)
			res, err := in.RunInference(ctx, args[0], categorical, target)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		}),
	}
	cmd.Flags().StringVar(&target, "target", "", "target column")
	cmd.Flags().StringSliceVar(&categorical, "categorical", nil, "columns to treat as categorical (comma separated)")
	return cmd
}
