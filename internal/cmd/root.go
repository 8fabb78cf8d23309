package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchlens/internal/config"
	"github.com/3leaps/batchlens/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

var (
	cfgFile    string
	logLevel   string
	logProfile string
	readOnly   bool
	backendArg string
	dataDir    string
	seedPath   string
	demoSeed   bool

	appIdentity *config.Identity
	appConfig   *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "batchlens",
	Short: "Track chunked batch inference jobs on a volunteer-computing backend",
	Long: `batchlens reports the state of chunked batch jobs executed as BOINC
workunits, and accepts new job submissions when the backend allows it.

Execution records come from either an in-process memory backend
(optionally seeded from a fixture) or a read-only BOINC database.

Examples:
  batchlens serve --demo
  batchlens jobs list --demo
  batchlens jobs status demo-render --demo --json
  BATCHLENS_DB_ENABLED=1 batchlens workers list`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./batchlens.yaml, then user config dir)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&logProfile, "log-profile", "", "Log profile: structured or console")
	pf.BoolVar(&readOnly, "readonly", false, "Refuse job submissions (also BATCHLENS_READONLY=1)")
	pf.StringVar(&backendArg, "backend", "", "Backend: memory or boincdb (default: boincdb when BOINC_DB_ENABLED is set)")
	pf.StringVar(&dataDir, "data-dir", "", "Directory for persisted submissions (memory backend)")
	pf.StringVar(&seedPath, "seed", "", "Fixture file to load into the memory backend")
	pf.BoolVar(&demoSeed, "demo", false, "Load the built-in demo fixture into the memory backend")
}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

// GetAppIdentity returns the identity resolved during config load, or nil
// before any command has run.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	config.SetConfigFile(cfgFile)

	cfg, err := config.Load(commandContext(cmd), flagOverrides(cmd))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to load configuration", err)
	}
	appConfig = cfg
	appIdentity = config.GetIdentity()

	if err := observability.InitCLILogger(binaryName(), cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to initialize logger", err)
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("backend", cfg.ResolvedBackend()),
		zap.Bool("readonly", cfg.Backend.ReadOnly),
		zap.String("data_dir", cfg.Backend.DataDir))
	return nil
}

// flagOverrides turns explicitly set persistent flags into config overrides.
// Unset flags never shadow file or environment values.
func flagOverrides(cmd *cobra.Command) map[string]any {
	flags := cmd.Root().PersistentFlags()
	backend := map[string]any{}
	logging := map[string]any{}

	if flags.Changed("log-level") {
		logging["level"] = logLevel
	}
	if flags.Changed("log-profile") {
		logging["profile"] = logProfile
	}
	if flags.Changed("readonly") {
		backend["readonly"] = readOnly
	}
	if flags.Changed("backend") {
		backend["kind"] = backendArg
	}
	if flags.Changed("data-dir") {
		backend["data_dir"] = dataDir
	}
	if flags.Changed("seed") {
		backend["seed_path"] = seedPath
	}
	if flags.Changed("demo") {
		backend["demo"] = demoSeed
	}

	out := map[string]any{}
	if len(backend) > 0 {
		out["backend"] = backend
	}
	if len(logging) > 0 {
		out["logging"] = logging
	}
	for key, value := range serveOverrides(cmd) {
		out[key] = value
	}
	return out
}

// loadedConfig returns the configuration resolved by initConfig.
func loadedConfig() (*config.Config, error) {
	if appConfig == nil {
		return nil, errors.New("configuration not loaded")
	}
	return appConfig, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.Message, e.Err, e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode maps a command error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}
