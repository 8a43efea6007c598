package main

import (
	"fmt"
	"time"

	"bondengine/pkg/chance"
	"bondengine/pkg/config"
	"bondengine/pkg/engine"
	"bondengine/pkg/logging"
	"bondengine/pkg/memory"
	"bondengine/pkg/persona"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the flags and the lazily opened engine shared by all commands.
type app struct {
	configPath string
	dbPath     string
	personaDir string
	verbose    bool
	seed       int64

	cfg      *config.Config
	logger   *zap.Logger
	store    *memory.SQLiteStore
	registry *persona.Registry
	engine   *engine.Engine
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "bondctl",
		Short: "Operate a local bond store",
		Long: `bondctl simulates conversations against a persona, shows what is stored
for a user, runs the inactivity decay sweep and validates persona files.

All state lives in a single SQLite file (--db).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			a.cfg = cfg

			level := cfg.Log.Level
			if a.verbose {
				level = "debug"
			} else if !cmd.Flags().Changed("config") {
				// Keep command output readable unless asked otherwise.
				level = "warn"
			}
			a.logger, err = logging.New(level, true)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "config.yml", "config file (defaults apply when missing)")
	root.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite file (default: storage.sqlite_path from the config)")
	root.PersistentFlags().StringVar(&a.personaDir, "personas", "", "persona directory (default: personas.dir from the config, else the built-in set)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.PersistentFlags().Int64Var(&a.seed, "seed", 0, "seed for response selection (0 uses the config, then the clock)")

	root.AddCommand(
		newSimulateCmd(a),
		newShowCmd(a),
		newPairsCmd(a),
		newPurchaseCmd(a),
		newDecayCmd(a),
		newValidateCmd(a),
	)
	return root
}

func (a *app) personaSource() string {
	if a.personaDir != "" {
		return a.personaDir
	}
	return a.cfg.Personas.Dir
}

func (a *app) loadPersonas() (*persona.Set, error) {
	return persona.LoadSource(a.personaSource(), persona.Options{
		IntentCacheSize: a.cfg.Cache.IntentCacheSize,
		Logger:          a.logger,
	})
}

// open builds the engine over the SQLite store on first use.
func (a *app) open() (*engine.Engine, error) {
	if a.engine != nil {
		return a.engine, nil
	}

	set, err := a.loadPersonas()
	if err != nil {
		return nil, fmt.Errorf("failed to load personas: %w", err)
	}
	a.registry = persona.NewRegistry(set)

	path := a.dbPath
	if path == "" {
		path = a.cfg.Storage.SQLitePath
	}
	a.store, err = memory.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}

	seed := a.seed
	if seed == 0 {
		seed = a.cfg.Engine.Seed
	}
	mem := memory.NewService(a.store, a.logger.Named("memory"),
		memory.WithLimits(memory.Limits{History: a.cfg.Engine.HistoryLimit, Topics: a.cfg.Engine.FavoriteTopicsLimit}),
		memory.WithRand(chance.New(seed)),
	)
	a.engine = engine.New(a.registry, mem, a.logger.Named("engine"),
		engine.WithWeights(a.cfg.Scoring),
		engine.WithRecallChance(a.cfg.Engine.RecallChance),
		engine.WithQueueSize(a.cfg.Engine.QueueSize),
		engine.WithSaveTimeout(a.cfg.SaveTimeout()),
		engine.WithDecayWorkers(a.cfg.Decay.Workers),
		engine.WithRand(chance.New(seed)),
	)
	return a.engine, nil
}

func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
		a.engine = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", zap.Error(err))
		}
		a.store = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func parseAt(at string, after time.Duration) (time.Time, error) {
	now := time.Now()
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("--at must be RFC 3339: %w", err)
		}
		now = t
	}
	return now.Add(after), nil
}
