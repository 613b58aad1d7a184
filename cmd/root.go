// Package cmd holds the docconvert command line.
package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docconvert/config"
	"docconvert/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

// legacyConfigFile is read when no docconvert config file is found.
const legacyConfigFile = "config.json"

type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the docconvert command tree with its own viper instance.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.Defaults(a.v)

	rootCmd := &cobra.Command{
		Use:   "docconvert",
		Short: "Convert documents through the Accusoft conversion API",
		Long: `docconvert uploads a document to the Accusoft PrizmDoc cloud, requests a
conversion to jpeg, pdf, png, svg or tiff, waits for it to finish and writes
the results beside the input file.

The same conversion can run behind a Redis queue: "enqueue" or the HTTP API
started by "serve" submit documents stored in S3, and "worker" converts them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ./docconvert.yaml or ~/.config/docconvert/docconvert.yaml)")
	flags.String("api-key", "", "Accusoft API key")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: console or json")
	_ = a.v.BindPFlag("api_key", flags.Lookup("api-key"))
	_ = a.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log_format", flags.Lookup("log-format"))

	rootCmd.AddCommand(
		newConvertCmd(a),
		newEnqueueCmd(a),
		newWorkerCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command line and exits with status 1 on failure.
func Execute() {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

func (a *app) load(cmd *cobra.Command) error {
	// .env is optional
	_ = godotenv.Load()

	cfgFile, _ := cmd.Flags().GetString("config")
	if err := a.readConfigFile(cfgFile); err != nil {
		return err
	}

	a.cfg = config.Load(a.v)
	a.logger = logger.New(&logger.Config{
		Level:      a.cfg.LogLevel,
		Format:     a.cfg.LogFormat,
		TimeFormat: time.Kitchen,
	})
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("Using config file", slog.String("path", used))
	}
	return nil
}

func (a *app) readConfigFile(cfgFile string) error {
	if cfgFile != "" {
		a.v.SetConfigFile(cfgFile)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
		return nil
	}

	a.v.SetConfigName("docconvert")
	a.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		a.v.AddConfigPath(filepath.Join(home, ".config", "docconvert"))
	}

	err := a.v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil {
		return nil
	}
	if !errors.As(err, &notFound) {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if _, statErr := os.Stat(legacyConfigFile); statErr != nil {
		return nil
	}
	a.v.SetConfigFile(legacyConfigFile)
	if err := a.v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config %s: %w", legacyConfigFile, err)
	}
	return nil
}

// camelCaseFlags accepts the camelCase spellings (--inputFilePath) as well as
// the kebab-case ones.
func camelCaseFlags(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return pflag.NormalizedName(b.String())
}
