package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"tabprep/internal/loader"
)

func newDiagnoseCommand(a *app) *cobra.Command {
	var target, profile string
	cmd := &cobra.Command{
		Use:   "diagnose <file>",
		Short: "Run the detectors and print auto-fixable, policy and informational findings",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			switch profile {
			case "", "canonical", "extended":
			default:
				return fmt.Errorf("unknown profile %q: want canonical or extended", profile)
			}
			ctx := cmd.Context()
			t, err := loader.Load(ctx, args[0])
			if err != nil {
				return err
			}
			rep := a.diagnosticsRunner(profile).Run(ctx, t, target)
			return writeJSON(cmd.OutOrStdout(), rep)
		}),
	}
	cmd.Flags().StringVar(&target, "target", "", "target column")
	cmd.Flags().StringVar(&profile, "profile", "", "detector set: canonical or extended (default from config)")
	return cmd
}
