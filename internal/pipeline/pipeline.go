// Package pipeline runs the end-to-end cleaning of one dataset file:
// load, diagnose, auto-fix, pre-clean, final sweep, save, post-clean checks
// and metadata. Every stage is written to the audit trail.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tabprep/internal/audit"
	"tabprep/internal/cleaning"
	"tabprep/internal/diagnostics"
	"tabprep/internal/frame"
	"tabprep/internal/loader"
	"tabprep/internal/metadata"
	"tabprep/internal/metrics"
	"tabprep/internal/storage"
)

// Audit steps, in the order a run writes them.
const (
	StepDatasetLoaded     = "dataset_loaded"
	StepDiagnostics       = "unified_diagnostics_completed"
	StepAutoFix           = "auto_fix_cleaning_executed"
	StepPreClean          = "pre_clean_completed"
	StepFinalSweep        = "final_missing_sweep_completed"
	StepCleanedSaved      = "cleaned_dataset_saved"
	StepPostClean         = "post_clean_completed"
	StepMetadataGenerated = "metadata_generated"
	StepMetadataSaved     = "metadata_saved"
)

// CleaningResult is the outcome of one run.
type CleaningResult struct {
	RunID        string                   `json:"run_id"`
	DatasetID    string                   `json:"dataset_id"`
	CleanedPath  string                   `json:"cleaned_path"`
	MetadataPath string                   `json:"metadata_path"`
	Table        *frame.Table             `json:"-"`
	PostClean    cleaning.PostCleanReport `json:"post_clean"`
	Metadata     *metadata.Metadata       `json:"metadata"`
	Outcomes     []cleaning.Outcome       `json:"outcomes"`
}

// Runner holds the collaborators of a cleaning run. The function fields are
// seams for tests; NewDefaultRunner fills them.
type Runner struct {
	// DataDir receives the cleaned file, the metadata JSONL and the audit
	// file.
	DataDir string

	Load        func(ctx context.Context, path string) (*frame.Table, error)
	Diagnostics *diagnostics.Runner
	Actions     cleaning.Registry

	// Store, when set, also receives metadata and audit records.
	Store storage.Store
	// Sinks are extra audit sinks (Kafka). The runner never closes them.
	Sinks []audit.Sink

	Log      *zap.Logger
	NewRunID func() string
}

// NewDefaultRunner returns a runner writing to dataDir with the canonical
// detectors and actions.
func NewDefaultRunner(dataDir string) *Runner {
	return &Runner{
		DataDir:     dataDir,
		Load:        loader.Load,
		Diagnostics: diagnostics.NewRunner(nil),
		Actions:     cleaning.NewRegistry(cleaning.DefaultOptions()),
		Log:         zap.NewNop(),
		NewRunID:    uuid.NewString,
	}
}

// RunCleaning cleans path with a default runner whose data directory is the
// directory of path.
func RunCleaning(ctx context.Context, path, target string) (*CleaningResult, error) {
	return NewDefaultRunner(filepath.Dir(path)).RunCleaning(ctx, path, target)
}

func (r *Runner) defaults() {
	if r.Load == nil {
		r.Load = loader.Load
	}
	if r.Diagnostics == nil {
		r.Diagnostics = diagnostics.NewRunner(nil)
	}
	if r.Actions == nil {
		r.Actions = cleaning.NewRegistry(cleaning.DefaultOptions())
	}
	if r.Log == nil {
		r.Log = zap.NewNop()
	}
	if r.NewRunID == nil {
		r.NewRunID = uuid.NewString
	}
	if r.DataDir == "" {
		r.DataDir = "."
	}
}

// RunCleaning runs every stage on path. Only a load failure, an unknown
// action, cancellation or an artifact write failure is returned; detector
// and action failures are recorded and the run continues. An empty target
// lets metadata look for a conventional target column.
func (r *Runner) RunCleaning(ctx context.Context, path, target string) (*CleaningResult, error) {
	r.defaults()
	runStart := time.Now()

	t, err := r.Load(ctx, path)
	if err != nil {
		metrics.RecordStep("clean", "error", time.Since(runStart))
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	metrics.RecordRows("loaded", t.NumRows())

	res := &CleaningResult{RunID: r.NewRunID(), DatasetID: frame.ContentHash(t)}
	log := r.Log.With(zap.String("run_id", res.RunID), zap.String("dataset_id", res.DatasetID))

	fileSink := audit.NewFileSink(filepath.Join(r.DataDir, audit.FileName))
	defer func() {
		if err := fileSink.Close(); err != nil {
			log.Warn("close audit file", zap.Error(err))
		}
	}()
	sinks := []audit.Sink{fileSink}
	if r.Store != nil {
		sinks = append(sinks, audit.NewStoreSink(r.Store))
	}
	rec := audit.NewRecorder(audit.Multi(append(sinks, r.Sinks...)...), res.RunID, log)
	record := func(step string, details map[string]any) {
		rec.Record(ctx, res.DatasetID, step, details)
	}

	record(StepDatasetLoaded, map[string]any{"file": path})
	log.Info("dataset loaded", zap.String("file", path), zap.Int("rows", t.NumRows()), zap.Int("cols", t.NumCols()))

	stageStart := time.Now()
	rep := r.Diagnostics.Run(ctx, t, target)
	auto, policy, info := rep.Counts()
	record(StepDiagnostics, map[string]any{
		"auto_fixable":    auto,
		"policy_required": policy,
		"informational":   info,
	})
	metrics.RecordStep("diagnostics", "ok", time.Since(stageStart))

	engine := cleaning.NewEngine(r.Actions, cleaning.WithRecorder(rec), cleaning.WithLogger(log))

	stageStart = time.Now()
	if steps := cleaning.StepsFromDiagnostics(rep); len(steps) > 0 {
		next, outcomes, err := engine.Execute(ctx, t, res.DatasetID, steps)
		res.Outcomes = append(res.Outcomes, outcomes...)
		if err != nil {
			metrics.RecordStep("auto_fix", "error", time.Since(stageStart))
			return nil, fmt.Errorf("auto-fix: %w", err)
		}
		t = next
		record(StepAutoFix, map[string]any{"actions_executed": len(steps)})
	}
	metrics.RecordStep("auto_fix", "ok", time.Since(stageStart))

	stageStart = time.Now()
	pre := cleaning.PreClean(t)
	record(StepPreClean, map[string]any{"steps": stepDetails(pre)})
	next, outcomes, err := engine.Execute(ctx, t, res.DatasetID, pre)
	res.Outcomes = append(res.Outcomes, outcomes...)
	if err != nil {
		metrics.RecordStep("pre_clean", "error", time.Since(stageStart))
		return nil, fmt.Errorf("pre-clean: %w", err)
	}
	t = next
	metrics.RecordStep("pre_clean", "ok", time.Since(stageStart))

	t = cleaning.FinalSweep(t)
	record(StepFinalSweep, map[string]any{"n_rows": t.NumRows(), "n_features": t.NumCols()})

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res.CleanedPath = filepath.Join(r.DataDir, fmt.Sprintf("%s_cleaned_%s.csv", stem, res.DatasetID))
	if err := writeCleaned(res.CleanedPath, t); err != nil {
		return nil, fmt.Errorf("save cleaned dataset: %w", err)
	}
	metrics.RecordRows("written", t.NumRows())
	record(StepCleanedSaved, map[string]any{"path": res.CleanedPath})

	res.PostClean = cleaning.PostClean(t)
	record(StepPostClean, res.PostClean.Details())

	md := metadata.Generate(t, res.DatasetID, target)
	md.Attach(rep)
	record(StepMetadataGenerated, map[string]any{
		"policy_flags": len(md.PolicyDecisions),
		"info_flags":   len(md.Informational),
	})

	res.MetadataPath = filepath.Join(r.DataDir, stem+"_metadata.jsonl")
	if err := appendJSONL(res.MetadataPath, md); err != nil {
		return nil, fmt.Errorf("save metadata: %w", err)
	}
	if r.Store != nil {
		if err := storage.Put(ctx, r.Store, storage.KindMetadata, res.DatasetID, md); err != nil {
			return nil, fmt.Errorf("store metadata: %w", err)
		}
	}
	record(StepMetadataSaved, map[string]any{"path": res.MetadataPath})

	res.Table = t
	res.Metadata = md
	metrics.RecordStep("clean", "ok", time.Since(runStart))
	log.Info("cleaning completed",
		zap.String("cleaned_path", res.CleanedPath),
		zap.Int("steps", len(res.Outcomes)),
		zap.Duration("took", time.Since(runStart)),
	)
	return res, nil
}

func stepDetails(steps []cleaning.Step) []any {
	out := make([]any, len(steps))
	for i, s := range steps {
		out[i] = map[string]any{"column": s.Column, "action": s.Action}
	}
	return out
}

func writeCleaned(path string, t *frame.Table) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return frame.WriteCSV(f, t)
}

func appendJSONL(path string, v any) (err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = f.Write(append(b, '\n'))
	return err
}
