package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/batchlens/internal/config"
	"github.com/3leaps/batchlens/internal/observability"
	"github.com/3leaps/batchlens/pkg/jobregistry"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the configuration and backend and suggest
fixes for common issues.

Examples:
  batchlens doctor                 # Config, data dir and backend checks
  batchlens doctor --provider s3   # Also check AWS credentials for input verification`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}
	ctx := commandContext(cmd)

	bannerName := binaryName() + " doctor"
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	s3Checks := doctorProvider == "s3" || cfg.Submit.VerifyInputs

	allChecks := true
	checkNum := 1
	totalChecks := 5
	if s3Checks {
		totalChecks = 6
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go version... ✅ %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	// Check 2: Configuration
	backendKind := cfg.ResolvedBackend()
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ backend=%s readonly=%t", checkNum, totalChecks, backendKind, cfg.Backend.ReadOnly),
		zap.String("backend", backendKind),
		zap.Bool("readonly", cfg.Backend.ReadOnly),
		zap.Int("port", cfg.Server.Port))
	checkNum++

	// Check 3: Data directory
	if backendKind == config.BackendMemory {
		if err := checkWritableDir(cfg.Backend.DataDir); err != nil {
			observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ %s", checkNum, totalChecks, cfg.Backend.DataDir),
				zap.Error(err))
			allChecks = false
		} else {
			observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.Backend.DataDir),
				zap.String("data_dir", cfg.Backend.DataDir))
		}
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ not used by %s backend", checkNum, totalChecks, backendKind))
	}
	checkNum++

	// Check 4: Backend reachability
	if err := checkBackend(ctx, cfg); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking %s backend... ❌ unreachable", checkNum, totalChecks, backendKind),
			zap.Error(err))
		if backendKind == config.BackendBoincDB {
			printBoincDBHelp()
		}
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking %s backend... ✅ reachable", checkNum, totalChecks, backendKind))
	}
	checkNum++

	// Check 5: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if s3Checks {
		if !runS3Checks(ctx, cfg.Submit.S3, checkNum, totalChecks) {
			allChecks = false
		}
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", binaryName()))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(foundry.ExitExternalServiceUnavailable, "Diagnostics failed", errors.New("one or more checks failed"))
	}
	return nil
}

// checkWritableDir creates dir if needed and proves a file can be written.
func checkWritableDir(dir string) error {
	if dir == "" {
		return errors.New("data directory is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(filepath.Clean(name))
}

func checkBackend(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	b, err := openBackend(ctx, cfg, jobregistry.OriginCLI, observability.CLILogger)
	if err != nil {
		return err
	}
	defer func() { _ = b.Close() }()
	return b.Service.Ping(ctx)
}

// runS3Checks verifies that credentials for input verification resolve.
func runS3Checks(ctx context.Context, s3cfg config.S3Config, checkNum, totalChecks int) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Input Verification Checks:")

	var opts []func(*awsconfig.LoadOptions) error
	if s3cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(s3cfg.Region))
	}
	if s3cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(s3cfg.Profile))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := awsCfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("credential_source", source))
	return true
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - submit.s3.endpoint or BATCHLENS_S3_ENDPOINT")
	observability.CLILogger.Info("")
}

func printBoincDBHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To reach the BOINC database:")
	observability.CLILogger.Info("  - Set BOINC_DB_HOST, BOINC_DB_PORT, BOINC_DB_USER, BOINC_DB_PASS and BOINC_DB_NAME, or")
	observability.CLILogger.Info("  - Set BOINC_DB_SOCKET to a local MySQL socket, or")
	observability.CLILogger.Info("  - Point boincdb.driver=sqlite and boincdb.path at a snapshot file")
	observability.CLILogger.Info("")
}
