package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/trace-decoder/internal/version"
	"github.com/ethpandaops/trace-decoder/pkg/server"
)

const defaultConfigFile = "config.yaml"

var (
	log          = logrus.New()
	configFile   string
	loggingLevel string
)

var rootCmd = &cobra.Command{
	Use:   "trace-decoder",
	Short: "Decodes Ethereum transaction call traces.",
	Long: `Serves transaction call traces with every call and event decoded against a
signature registry that learns unknown contract ABIs and function signatures on demand.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		config, err := loadConfig(configFile, loggingLevel)
		if err != nil {
			return err
		}

		return serve(cmd.Context(), config)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Checks the config file and exits.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		config, err := loadConfig(configFile, loggingLevel)
		if err != nil {
			return err
		}

		if err := config.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", configPath(configFile))

		return nil
	},
}

// Execute runs the command line. It is called once, by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./"+defaultConfigFile+")")
	rootCmd.PersistentFlags().StringVar(&loggingLevel, "logging", "", "log level, overrides the config file")

	rootCmd.AddCommand(validateCmd)
}

func serve(ctx context.Context, config *server.Config) error {
	log.SetLevel(parseLevel(config.LoggingLevel))

	log.WithFields(logrus.Fields{
		"version": version.Release,
		"commit":  version.GitCommit,
		"config":  configPath(configFile),
	}).Info("Starting trace decoder")

	srv, err := server.NewServer(log, config)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	log.Info("Trace decoder exited - cya!")

	return nil
}

func parseLevel(raw string) logrus.Level {
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		log.WithError(err).WithField("level", raw).Warn("Invalid logging level, using info")

		return logrus.InfoLevel
	}

	return level
}

func configPath(file string) string {
	if file == "" {
		return defaultConfigFile
	}

	return file
}

// loadConfig reads the config file over the defaults. Unknown keys are
// rejected. A non-empty level replaces the file's logging level.
func loadConfig(file, level string) (*server.Config, error) {
	path := configPath(file)

	config := &server.Config{}
	if err := defaults.Set(config); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	type plain server.Config

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	if err := dec.Decode((*plain)(config)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if level != "" {
		config.LoggingLevel = level
	}

	return config, nil
}
