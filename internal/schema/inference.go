package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"tabprep/internal/frame"
	"tabprep/internal/loader"
	"tabprep/internal/metrics"
	"tabprep/internal/storage"
)

// ErrUnknownColumn is returned when a user-declared column is not in the
// table.
var ErrUnknownColumn = errors.New("column not found in dataset")

// FallbackConfidence is what a resolver answers when it cannot decide.
const FallbackConfidence = 0.5

// Resolver arbitrates ambiguous columns. Implementations never fail: on any
// error they answer (current, FallbackConfidence).
type Resolver interface {
	Resolve(ctx context.Context, column string, p Profile, current Role) (Role, float64)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, column string, p Profile, current Role) (Role, float64)

func (f ResolverFunc) Resolve(ctx context.Context, column string, p Profile, current Role) (Role, float64) {
	return f(ctx, column, p, current)
}

// Fallback is the resolver used when none is configured.
var Fallback Resolver = ResolverFunc(func(_ context.Context, _ string, _ Profile, current Role) (Role, float64) {
	return current, FallbackConfidence
})

// Source tells which rule decided a column.
type Source string

const (
	SourceTarget   Source = "target"
	SourceUser     Source = "user"
	SourceRules    Source = "rules"
	SourceResolver Source = "resolver"
)

// ColumnResult is the decision for one column.
type ColumnResult struct {
	Name       string   `json:"-"`
	Role       Role     `json:"role"`
	Confidence float64  `json:"confidence"`
	Sample     []string `json:"sample"`
	Source     Source   `json:"-"`
}

// Columns keeps results in table order and marshals as a JSON object.
type Columns []ColumnResult

// Get returns the result for name.
func (cs Columns) Get(name string) (ColumnResult, bool) {
	for _, c := range cs {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnResult{}, false
}

func (cs Columns) MarshalJSON() ([]byte, error) {
	return marshalOrdered(cs, func(c ColumnResult) any { return c })
}

// InferenceResult is the output of one inference run.
type InferenceResult struct {
	NRows    int     `json:"n_rows"`
	NColumns int     `json:"n_columns"`
	Target   *string `json:"target"`
	Columns  Columns `json:"columns"`
}

// ClassificationRecord is the persisted summary of an inference run.
type ClassificationRecord struct {
	DatasetFilePath string         `json:"dataset_file_path"`
	DatasetFileName string         `json:"dataset_file_name"`
	NRows           int            `json:"n_rows"`
	NColumns        int            `json:"n_columns"`
	TargetColumn    *string        `json:"target_column"`
	FeatureMapping  featureMapping `json:"feature_mapping"`
}

type featureMapping Columns

func (fm featureMapping) MarshalJSON() ([]byte, error) {
	return marshalOrdered(Columns(fm), func(c ColumnResult) any {
		return struct {
			Role       Role    `json:"role"`
			Confidence float64 `json:"confidence"`
		}{c.Role, c.Confidence}
	})
}

// UserInputsRecord stores what the user declared for a dataset.
type UserInputsRecord struct {
	DatasetFilePath    string   `json:"dataset_file_path"`
	CategoricalColumns []string `json:"categorical_columns"`
	TargetColumn       *string  `json:"target_column"`
}

func marshalOrdered(cs Columns, value func(ColumnResult) any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, c := range cs {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(c.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(value(c))
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// LoadFunc reads a dataset file.
type LoadFunc func(ctx context.Context, path string) (*frame.Table, error)

// Inferrer runs schema inference.
type Inferrer struct {
	resolver Resolver
	store    storage.Store
	load     LoadFunc
	log      *zap.Logger
}

// Option configures an Inferrer.
type Option func(*Inferrer)

// WithResolver sets the resolver for ambiguous columns.
func WithResolver(r Resolver) Option {
	return func(in *Inferrer) {
		if r != nil {
			in.resolver = r
		}
	}
}

// WithStore persists classification and user-input records to s.
func WithStore(s storage.Store) Option {
	return func(in *Inferrer) { in.store = s }
}

// WithLoader replaces the file loader.
func WithLoader(f LoadFunc) Option {
	return func(in *Inferrer) {
		if f != nil {
			in.load = f
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(in *Inferrer) {
		if l != nil {
			in.log = l
		}
	}
}

// New builds an Inferrer. Without options it uses Fallback, the default
// loader and no store.
func New(opts ...Option) *Inferrer {
	in := &Inferrer{resolver: Fallback, log: zap.NewNop()}
	for _, o := range opts {
		o(in)
	}
	if in.load == nil {
		ld := loader.New(loader.WithLogger(in.log))
		in.load = func(ctx context.Context, path string) (*frame.Table, error) {
			t, _, err := ld.Load(ctx, path)
			return t, err
		}
	}
	return in
}

// RunInference loads path, infers every column role and appends the
// classification and user-input records to the store.
func (in *Inferrer) RunInference(ctx context.Context, path string, categorical []string, target string) (*InferenceResult, error) {
	start := time.Now()
	t, err := in.load(ctx, path)
	if err != nil {
		metrics.RecordStep("schema", "error", time.Since(start))
		return nil, err
	}
	res, err := in.Infer(ctx, t, categorical, target)
	if err != nil {
		metrics.RecordStep("schema", "error", time.Since(start))
		return nil, err
	}

	if in.store != nil {
		if err := in.persist(ctx, path, frame.ContentHash(t), res, categorical); err != nil {
			metrics.RecordStep("schema", "error", time.Since(start))
			return nil, err
		}
	}
	metrics.RecordStep("schema", "ok", time.Since(start))
	return res, nil
}

// Infer assigns a role to every column of t in table order.
func (in *Inferrer) Infer(ctx context.Context, t *frame.Table, categorical []string, target string) (*InferenceResult, error) {
	if err := validateInputs(t, categorical, target); err != nil {
		return nil, err
	}
	userCat := make(map[string]struct{}, len(categorical))
	for _, c := range categorical {
		userCat[c] = struct{}{}
	}

	res := &InferenceResult{NRows: t.NumRows(), NColumns: t.NumCols(), Columns: Columns{}}
	if target != "" {
		res.Target = &target
	}

	resolved := 0
	for _, p := range ProfileTable(t) {
		cr := ColumnResult{Name: p.Name, Sample: p.Sample}
		_, isCat := userCat[p.Name]
		switch {
		case p.Name == target:
			cr.Role, cr.Confidence, cr.Source = Target, TargetConfidence, SourceTarget
		case isCat:
			cr.Role, cr.Confidence, cr.Source = CategoricalNominal, UserCategoricalConfidence, SourceUser
		default:
			cr.Role, cr.Confidence = Deterministic(p)
			cr.Source = SourceRules
			if Ambiguous(cr.Role, cr.Confidence) && ctx.Err() == nil {
				r, c := in.resolver.Resolve(ctx, p.Name, p, cr.Role)
				if fr, fc := Arbitrate(cr.Role, cr.Confidence, r, c); fr != cr.Role || fc != cr.Confidence {
					cr.Role, cr.Confidence, cr.Source = fr, fc, SourceResolver
					resolved++
				}
			}
		}
		in.log.Debug("column role",
			zap.String("column", cr.Name),
			zap.String("role", string(cr.Role)),
			zap.Float64("confidence", cr.Confidence),
			zap.String("source", string(cr.Source)),
		)
		res.Columns = append(res.Columns, cr)
	}
	in.log.Info("schema inferred",
		zap.Int("columns", res.NColumns),
		zap.Int("resolved", resolved),
	)
	return res, nil
}

func validateInputs(t *frame.Table, categorical []string, target string) error {
	var missing []string
	for _, c := range categorical {
		if !t.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: categorical columns %s", ErrUnknownColumn, strings.Join(missing, ", "))
	}
	if target != "" && !t.Has(target) {
		return fmt.Errorf("%w: target column %s", ErrUnknownColumn, target)
	}
	return nil
}

func (in *Inferrer) persist(ctx context.Context, path, datasetID string, res *InferenceResult, categorical []string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	class := ClassificationRecord{
		DatasetFilePath: abs,
		DatasetFileName: filepath.Base(abs),
		NRows:           res.NRows,
		NColumns:        res.NColumns,
		TargetColumn:    res.Target,
		FeatureMapping:  featureMapping(res.Columns),
	}
	if err := storage.Put(ctx, in.store, storage.KindClassification, datasetID, class); err != nil {
		return fmt.Errorf("schema: save classification: %w", err)
	}

	inputs := UserInputsRecord{
		DatasetFilePath:    abs,
		CategoricalColumns: append([]string{}, categorical...),
		TargetColumn:       res.Target,
	}
	if err := storage.Put(ctx, in.store, storage.KindUserInputs, datasetID, inputs); err != nil {
		return fmt.Errorf("schema: save user inputs: %w", err)
	}
	return nil
}
