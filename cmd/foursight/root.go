// Package main is the foursight command: the orchestrator server and a
// small terminal client for it.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"foursight.local/orchestrator/internal/client"
	"foursight.local/orchestrator/internal/config"
)

var (
	configFile string
	serverURL  string
	version    = "dev" // set via ldflags at build time
)

var rootCmd = &cobra.Command{
	Use:   "foursight",
	Short: "Decision analysis across several frameworks",
	Long: `FourSight ranks decision-making frameworks for a question, asks the
follow-ups each framework needs, and combines their analyses into one
recommendation.`,
	Version:       version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(configFile) != "" {
			return os.Setenv(config.EnvConfigFile, configFile)
		}
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ./.foursight/config.yaml or ~/.foursight/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base url for client commands (overrides "+config.EnvServerURL+")")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(frameworksCmd)
}

func newLogger() *log.Logger {
	return log.New(os.Stdout, "foursight ", log.Ldate|log.Ltime|log.Lmicroseconds|log.LUTC)
}

// clientConfig loads the client settings, applying --server on top.
func clientConfig() (config.ClientConfig, error) {
	cfg, err := config.ClientFromYAMLAndEnv()
	if err != nil {
		return config.ClientConfig{}, fmt.Errorf("load config: %w", err)
	}
	if value := strings.TrimRight(strings.TrimSpace(serverURL), "/"); value != "" {
		cfg.ServerURL = value
	}
	if err := cfg.Validate(); err != nil {
		return config.ClientConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func newAPIClient() (*client.Client, config.ClientConfig, error) {
	cfg, err := clientConfig()
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	api, err := client.New(cfg.ServerURL, client.WithTimeout(cfg.RequestTimeout))
	if err != nil {
		return nil, config.ClientConfig{}, err
	}
	return api, cfg, nil
}
