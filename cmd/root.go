// =============================================================================
// NCM Report Consolidator - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The root command is
// the base command that all other commands are attached to.
//
// COBRA CLI STRUCTURE:
//   rootCmd (ncmreport)
//   ├── processCmd (ncmreport process)
//   ├── groupCmd   (ncmreport group)
//   ├── configCmd  (ncmreport config)
//   └── versionCmd (ncmreport version)
//
// CONFIGURATION:
//   The root command is responsible for:
//   1. Setting up global flags (--config, --verbose)
//   2. Loading .env and the layered configuration for each command
//   3. Setting up logging
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/ginjaninja78/ncm-report/internal/config"
	"github.com/ginjaninja78/ncm-report/internal/types"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
// Empty means ncmreport.yaml or ncmreport.yml in the working directory.
var cfgFile string

// verbose enables debug logging when set to true.
var verbose bool

// logger is replaced by loadRuntime once the configuration is known.
var logger = zap.NewNop()

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ncmreport",
	Short: "NCM Report Consolidator - Group NCM codes by CST and SPED code into one workbook",
	Long: `NCM Report Consolidator reads a classification table of NCM codes,
groups the codes by (CST PIS/COFINS ENTRADA, CÓDIGO SPED), fills one copy of
an XLSX template per group and consolidates every group into a single final
workbook.

Key Features:
  - XLSX or CSV input, header row and encoding configurable
  - Deterministic group order carried through to the final workbook
  - Resumable text staging records with a versioned manifest
  - Outputs published only when the whole run succeeded

Example Usage:
  ncmreport process --input ncm.xlsx --template modelo.xlsx --tax-type C
  ncmreport group --input ncm.xlsx --staging-dir ./staging
  ncmreport process --template modelo.xlsx --from-staging ./staging --tax-type C
  ncmreport config`,

	SilenceUsage:  true,
	SilenceErrors: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status:
// 2 for invalid arguments or configuration, 1 for everything else.
func exitCode(err error) int {
	var ve *types.ValidationError
	if errors.As(err, &ve) {
		return 2
	}
	return 1
}

// =============================================================================
// INITIALIZATION
// =============================================================================

// init sets up the global flags.
func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"Path to the configuration file (default is ncmreport.yaml if present)",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable verbose output for debugging",
	)
}

// loadRuntime loads .env, the layered configuration and the logger for cmd.
// Flags of cmd that were explicitly set override the configuration.
func loadRuntime(cmd *cobra.Command) (*config.Config, error) {
	// A missing .env file is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	l, err := newLogger(cfg.LogLevel, verbose)
	if err != nil {
		return nil, err
	}
	logger = l

	logger.Debug("configuration loaded",
		zap.String("config_file", config.FindConfigFile(cfgFile)),
		zap.String("output_dir", cfg.OutputDir))
	return cfg, nil
}

// newLogger builds the CLI logger. Logs go to stderr; stdout is kept for
// command output.
func newLogger(level string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, &types.ValidationError{Field: "log_level", Value: level, Message: err.Error()}
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zcfg.OutputPaths = []string{"stderr"}

	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return l, nil
}
