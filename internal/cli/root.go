// Package cli wires configuration, logging, metrics and storage into the
// tabprep cobra commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"tabprep/internal/audit"
	"tabprep/internal/cleaning"
	"tabprep/internal/config"
	"tabprep/internal/diagnostics"
	"tabprep/internal/llm"
	"tabprep/internal/logging"
	"tabprep/internal/metrics"
	"tabprep/internal/metrics/datadog"
	"tabprep/internal/schema"
	"tabprep/internal/storage"

	// register every record store backend; config picks one.
	_ "tabprep/internal/storage/all"
)

// app is the state shared by one command invocation.
type app struct {
	cfgFile        string
	dataDir        string
	storeKind      string
	storeDSN       string
	logLevel       string
	metricsBackend string

	cfg   *config.Config
	log   *zap.Logger
	store storage.Store

	// closers run in reverse order after the command.
	closers []func() error
}

// NewRootCommand builds the tabprep command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "tabprep",
		Short:         "Diagnose, clean and profile tabular datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.cfgFile, "config", "", "config file (default ./tabprep.yaml when present)")
	f.StringVar(&a.dataDir, "data-dir", "", "directory for cleaned files, metadata and audit (overrides config)")
	f.StringVar(&a.storeKind, "store-kind", "", "record store: jsonl, sqlite, postgres or mssql (overrides config)")
	f.StringVar(&a.storeDSN, "store-dsn", "", "record store DSN (overrides config)")
	f.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	f.StringVar(&a.metricsBackend, "metrics-backend", "", "none or datadog (overrides config)")

	root.AddCommand(
		newCleanCommand(a),
		newSchemaCommand(a),
		newDiagnoseCommand(a),
		newFingerprintCommand(a),
	)
	return root
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	f := cmd.Flags()
	if f.Changed("data-dir") {
		cfg.DataDir = a.dataDir
	}
	if f.Changed("store-kind") {
		cfg.Store.Kind = a.storeKind
	}
	if f.Changed("store-dsn") {
		cfg.Store.DSN = a.storeDSN
	}
	if f.Changed("log-level") {
		cfg.Log.Level = a.logLevel
	}
	if f.Changed("metrics-backend") {
		cfg.Metrics.Backend = a.metricsBackend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.log = log
	a.closers = append(a.closers, func() error {
		// Sync on stderr fails on some platforms; it is not worth reporting.
		_ = log.Sync()
		return nil
	})

	if cfg.Metrics.Backend == "datadog" {
		b, err := datadog.NewBackend(cmd.Context(), datadog.Options{
			JobName:    cfg.Metrics.JobName,
			Tags:       datadog.ParseTagsCSV(cfg.Metrics.Tags),
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			log.Warn("metrics backend unavailable, using nop", zap.Error(err))
		} else {
			metrics.SetBackend(b)
			a.closers = append(a.closers, func() error {
				defer metrics.SetBackend(nil)
				return b.Close()
			})
		}
	}
	return nil
}

// runE wraps a command body so the invocation's resources are released
// whether or not it fails.
func (a *app) runE(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() { err = multierr.Append(err, a.teardown()) }()
		return fn(cmd, args)
	}
}

func (a *app) teardown() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

// openStore opens the configured record store once per invocation.
func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	st, err := storage.New(ctx, storage.Config{Kind: a.cfg.Store.Kind, DSN: a.cfg.StoreDSN()})
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	return st, nil
}

// auditSinks returns the extra audit sinks from config.
func (a *app) auditSinks() []audit.Sink {
	if len(a.cfg.Audit.KafkaBrokers) == 0 {
		return nil
	}
	k, err := audit.NewKafkaSink(audit.KafkaConfig{
		Brokers: a.cfg.Audit.KafkaBrokers,
		Topic:   a.cfg.Audit.KafkaTopic,
	})
	if err != nil {
		a.log.Warn("kafka audit sink disabled", zap.Error(err))
		return nil
	}
	a.closers = append(a.closers, k.Close)
	return []audit.Sink{k}
}

// diagnosticsRunner builds a runner for profile. An empty profile uses the
// configured one.
func (a *app) diagnosticsRunner(profile string) *diagnostics.Runner {
	if profile == "" {
		profile = a.cfg.Diagnostics.Profile
	}
	opts := []diagnostics.Option{diagnostics.WithLogger(a.log)}
	if a.cfg.Diagnostics.Workers > 0 {
		opts = append(opts, diagnostics.WithWorkers(a.cfg.Diagnostics.Workers))
	}
	return diagnostics.NewRunner(diagnostics.RegistryFor(profile), opts...)
}

func (a *app) cleaningOptions() cleaning.Options {
	opts := cleaning.DefaultOptions()
	opts.NormalizeText = a.cfg.Cleaning.NormalizeText
	opts.FillTextMissing = a.cfg.Cleaning.FillTextMissing
	opts.OutlierZ = a.cfg.Cleaning.OutlierZ
	opts.Extended = a.cfg.Diagnostics.Profile == "extended"
	return opts
}

// resolver returns the LLM role resolver, or the fallback resolver when no
// API key is configured.
func (a *app) resolver(ctx context.Context) schema.Resolver {
	if a.cfg.LLM.APIKey == "" {
		a.log.Debug("no llm api key, ambiguous roles keep their rule-based guess")
		return schema.Fallback
	}
	client := llm.NewClient(llm.Options{
		BaseURL:     a.cfg.LLM.BaseURL,
		APIKey:      a.cfg.LLM.APIKey,
		Model:       a.cfg.LLM.Model,
		Timeout:     a.cfg.LLM.Timeout,
		MaxAttempts: a.cfg.LLM.MaxAttempts,
	})
	opts := []llm.ResolverOption{llm.WithLogger(a.log)}
	switch a.cfg.Cache.Kind {
	case "memory":
		opts = append(opts, llm.WithCache(llm.NewMemoryCache()))
	case "redis":
		rdb, err := llm.DialRedis(ctx, a.cfg.Cache.RedisAddr, a.cfg.Cache.RedisPassword, a.cfg.Cache.RedisDB)
		if err != nil {
			a.log.Warn("redis cache unavailable, resolving without cache", zap.Error(err))
			break
		}
		a.closers = append(a.closers, rdb.Close)
		opts = append(opts, llm.WithCache(llm.NewRedisCache(rdb, a.cfg.Cache.TTL)))
	}
	return llm.NewRoleResolver(client, opts...)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
