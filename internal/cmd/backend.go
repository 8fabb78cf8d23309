package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	seedassets "github.com/3leaps/batchlens/internal/assets/seed"
	"github.com/3leaps/batchlens/internal/config"
	"github.com/3leaps/batchlens/internal/observability"
	"github.com/3leaps/batchlens/pkg/fixture"
	"github.com/3leaps/batchlens/pkg/inputcheck"
	"github.com/3leaps/batchlens/pkg/jobregistry"
	"github.com/3leaps/batchlens/pkg/store"
	"github.com/3leaps/batchlens/pkg/store/boincdb"
	"github.com/3leaps/batchlens/pkg/store/memory"
	"github.com/3leaps/batchlens/pkg/tracker"
)

// backend is an opened tracker plus what is needed to report on and
// release it.
type backend struct {
	Kind    string
	Service *tracker.Service
	Seeded  fixture.Result

	// Restored counts persisted submissions replayed into the memory backend.
	Restored int
}

func (b *backend) Close() error {
	if b == nil || b.Service == nil {
		return nil
	}
	return b.Service.Close()
}

// openBackend builds the tracker for cfg. origin is stamped on persisted
// submissions made through the returned service.
func openBackend(ctx context.Context, cfg *config.Config, origin jobregistry.Origin, logger *zap.Logger) (*backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	limits := tracker.Limits{
		ListChunks: cfg.Limits.ListChunks,
		JobChunks:  cfg.Limits.JobChunks,
		Hosts:      cfg.Limits.Hosts,
	}

	switch kind := cfg.ResolvedBackend(); kind {
	case config.BackendBoincDB:
		db, err := boincdb.Open(ctx, boincDBConfig(cfg.BoincDB))
		if err != nil {
			return nil, fmt.Errorf("open boinc database: %w", err)
		}
		svc := tracker.New(db, tracker.Options{
			Origin:   origin,
			ReadOnly: true,
			Logger:   logger,
			Limits:   limits,
		})
		logger.Debug("Using BOINC database backend",
			zap.String("driver", cfg.BoincDB.Driver),
			zap.String("database", cfg.BoincDB.Database))
		return &backend{Kind: kind, Service: svc}, nil

	case config.BackendMemory:
		return openMemoryBackend(ctx, cfg, origin, limits, logger)

	default:
		return nil, fmt.Errorf("unsupported backend %q", kind)
	}
}

func openMemoryBackend(ctx context.Context, cfg *config.Config, origin jobregistry.Origin, limits tracker.Limits, logger *zap.Logger) (*backend, error) {
	mem := memory.New()
	registry := jobregistry.NewStore(filepath.Join(cfg.Backend.DataDir, "jobs"))

	// Replaying and seeding bypass the readonly switch so a readonly
	// process still reports everything that was accepted earlier.
	loader := tracker.New(mem, tracker.Options{Registry: registry, Logger: logger, Limits: limits})
	restored, err := loader.Restore(ctx)
	if err != nil {
		_ = mem.Close()
		return nil, fmt.Errorf("restore persisted jobs: %w", err)
	}

	b := &backend{Kind: config.BackendMemory, Restored: restored}

	f, err := loadSeed(cfg.Backend)
	if err != nil {
		_ = mem.Close()
		return nil, err
	}
	if f != nil {
		seeder := tracker.New(mem, tracker.Options{Origin: jobregistry.OriginSeed, Logger: logger, Limits: limits})
		b.Seeded, err = fixture.Apply(ctx, f, seeder, mem)
		if err != nil {
			_ = mem.Close()
			return nil, fmt.Errorf("apply seed fixture: %w", err)
		}
	}

	var checker tracker.InputChecker
	if cfg.Submit.VerifyInputs {
		checker = inputcheck.New(inputcheck.S3Config{
			Region:         cfg.Submit.S3.Region,
			Endpoint:       cfg.Submit.S3.Endpoint,
			Profile:        cfg.Submit.S3.Profile,
			ForcePathStyle: cfg.Submit.S3.ForcePathStyle,
		})
	}

	b.Service = tracker.New(mem, tracker.Options{
		Registry: registry,
		Checker:  checker,
		Origin:   origin,
		ReadOnly: cfg.Backend.ReadOnly,
		Logger:   logger,
		Limits:   limits,
	})

	logger.Debug("Using memory backend",
		zap.String("data_dir", cfg.Backend.DataDir),
		zap.Int("restored", b.Restored),
		zap.Int("seeded_jobs", b.Seeded.Jobs),
		zap.Bool("readonly", cfg.Backend.ReadOnly))
	return b, nil
}

// loadSeed returns the fixture selected by the backend config, or nil.
// --demo wins over --seed.
func loadSeed(bc config.BackendConfig) (*fixture.File, error) {
	switch {
	case bc.Demo:
		f, err := fixture.LoadFromBytes(seedassets.DemoFixture)
		if err != nil {
			return nil, fmt.Errorf("load demo fixture: %w", err)
		}
		return f, nil
	case bc.SeedPath != "":
		f, err := fixture.Load(bc.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("load seed fixture: %w", err)
		}
		return f, nil
	default:
		return nil, nil
	}
}

func boincDBConfig(c config.BoincDBConfig) boincdb.Config {
	return boincdb.Config{
		Driver:         c.Driver,
		Host:           c.Host,
		Port:           c.Port,
		User:           c.User,
		Password:       c.Password,
		Database:       c.Database,
		Socket:         c.Socket,
		Path:           c.Path,
		ConnectTimeout: c.ConnectTimeout,
		QueryTimeout:   c.QueryTimeout,
	}
}

// openCLIBackend opens the backend selected by the loaded configuration
// for a one-shot command.
func openCLIBackend(cmd *cobra.Command, origin jobregistry.Origin) (*backend, error) {
	cfg, err := loadedConfig()
	if err != nil {
		return nil, err
	}
	b, err := openBackend(commandContext(cmd), cfg, origin, observability.CLILogger)
	if err != nil {
		return nil, commandError("Failed to open backend", err)
	}
	return b, nil
}

// commandError attaches an exit code matching the failure class of err.
func commandError(message string, err error) error {
	var verr *tracker.ValidationError
	switch {
	case errors.As(err, &verr):
		return exitError(foundry.ExitInvalidArgument, message, err)
	case errors.Is(err, store.ErrReadOnly):
		return exitError(foundry.ExitInvalidArgument, message, err)
	case store.IsUnavailable(err):
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	case errors.Is(err, context.DeadlineExceeded):
		return exitError(foundry.ExitExternalServiceUnavailable, message, err)
	default:
		return fmt.Errorf("%s: %w", message, err)
	}
}
