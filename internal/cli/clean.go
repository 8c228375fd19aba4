package cli

import (
	"github.com/spf13/cobra"

	"tabprep/internal/cleaning"
	"tabprep/internal/pipeline"
)

// cleanSummary is what `tabprep clean` prints.
type cleanSummary struct {
	RunID          string                   `json:"run_id"`
	DatasetID      string                   `json:"dataset_id"`
	CleanedPath    string                   `json:"cleaned_path"`
	MetadataPath   string                   `json:"metadata_path"`
	NRows          int                      `json:"n_rows"`
	NFeatures      int                      `json:"n_features"`
	LearningType   string                   `json:"learning_type"`
	TargetColumn   *string                  `json:"target_column"`
	Actions        map[cleaning.Status]int  `json:"actions"`
	PolicyRequired int                      `json:"policy_decisions_required"`
	Informational  int                      `json:"informational_diagnostics"`
	PostClean      cleaning.PostCleanReport `json:"post_clean"`
}

func summarize(res *pipeline.CleaningResult) cleanSummary {
	s := cleanSummary{
		RunID:          res.RunID,
		DatasetID:      res.DatasetID,
		CleanedPath:    res.CleanedPath,
		MetadataPath:   res.MetadataPath,
		NRows:          res.Metadata.NRows,
		NFeatures:      res.Metadata.NFeatures,
		LearningType:   res.Metadata.LearningType,
		TargetColumn:   res.Metadata.TargetColumn,
		Actions:        map[cleaning.Status]int{},
		PolicyRequired: len(res.Metadata.PolicyDecisions),
		Informational:  len(res.Metadata.Informational),
		PostClean:      res.PostClean,
	}
	for _, o := range res.Outcomes {
		s.Actions[o.Status]++
	}
	return s
}

func newCleanCommand(a *app) *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "clean <file>",
		Short: "Diagnose and clean a dataset, then write its metadata",
		Args:  cobra.ExactArgs(1),
		RunE: a.runE(func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}

			r := pipeline.NewDefaultRunner(a.cfg.DataDir)
			r.Diagnostics = a.diagnosticsRunner("")
			r.Actions = cleaning.NewRegistry(a.cleaningOptions())
			r.Store = st
			r.Sinks = a.auditSinks()
			r.Log = a.log

			res, err := r.RunCleaning(ctx, args[0], target)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summarize(res))
		}),
	}
	cmd.Flags().StringVar(&target, "target", "", "target column (default: a conventional name such as target or label)")
	return cmd
}
