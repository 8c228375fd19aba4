package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tabprep/internal/fingerprint"
	"tabprep/internal/loader"
	"tabprep/internal/storage"
)

func newFingerprintCommand(a *app) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Translate the latest metadata records and resolve their learning problem",
		Args:  cobra.NoArgs,
		RunE: a.runE(func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			raws, err := storage.LatestMetadata(ctx, st, last)
			if err != nil {
				return err
			}

			out := make([]fingerprint.Assessment, 0, len(raws))
			for _, raw := range raws {
				fp, err := fingerprint.Translate(raw)
				if err != nil {
					a.log.Warn("skip metadata record", zap.Error(err))
					continue
				}
				out = append(out, a.assess(ctx, fp, fingerprint.TargetColumn(raw)))
			}
			return writeJSON(cmd.OutOrStdout(), out)
		}),
	}
	cmd.Flags().IntVar(&last, "last", 1, "number of newest metadata records to read")
	return cmd
}

// assess locates the cleaned file of fp to measure how much of the target
// is missing, then derives the task, risks and problem.
func (a *app) assess(ctx context.Context, fp fingerprint.Fingerprint, target string) fingerprint.Assessment {
	opts := fingerprint.AssessOptions{
		Target:               target,
		ArbitrationBias:      a.cfg.Problem.ArbitrationBias,
		CorrelationThreshold: a.cfg.Problem.CorrelationThreshold,
	}

	path, err := fingerprint.ResolveCleanedDatasetPath(a.cfg.DataDir, fp.DatasetID)
	switch {
	case errors.Is(err, fingerprint.ErrCleanedDatasetNotFound):
		a.log.Debug("cleaned dataset not found", zap.String("dataset_id", fp.DatasetID))
	case err != nil:
		a.log.Warn("resolve cleaned dataset", zap.String("dataset_id", fp.DatasetID), zap.Error(err))
	case target != "":
		if t, err := loader.Load(ctx, path); err != nil {
			a.log.Warn("load cleaned dataset", zap.String("path", path), zap.Error(err))
		} else if c, ok := t.Column(target); ok {
			opts.TargetMissingRatio = c.MissingRatio()
		}
	}

	as := fingerprint.Assess(fp, opts)
	if err == nil {
		as.CleanedPath = path
	}
	return as
}
