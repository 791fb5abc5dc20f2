// Package main provides the entry point for the Gemini to I2P proxy.
// The proxy accepts Gemini requests over TLS on a local port and forwards
// each one over a SAM stream to the requested .i2p host.
//
// Usage:
//
//	gemini-sam-proxy [flags]
//	gemini-sam-proxy gen-config > proxy.yaml
//
// Requesting gemini://status/ returns a status page without contacting I2P.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-i2p/gemini-sam-proxy/lib/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	// Build info
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// options holds the command-line flags. Non-zero flags override the
// config file and the environment.
type options struct {
	configPath string
	listen     string
	sam        string
	id         string
	metrics    string
	debug      bool
	resolve    bool
	certOut    string
	maxConns   int
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "gemini-sam-proxy",
		Short: "Gemini proxy for I2P",
		Long: `gemini-sam-proxy is a local Gemini proxy that forwards requests
to Gemini capsules on I2P through a SAM bridge.

Point a Gemini client's proxy setting at the listen address and browse
gemini://<name>.i2p/ URLs. gemini://status/ reports the proxy state.`,
		Version:       fmt.Sprintf("%s (built %s, commit %s)", Version, BuildTime, GitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts, os.LookupEnv)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to YAML configuration file")
	flags.StringVar(&opts.listen, "listen", "", "Gemini listen address (default "+config.Default().Proxy.Listen+")")
	flags.StringVar(&opts.sam, "sam", "", "SAM bridge address (default "+config.Default().SAM.Address+")")
	flags.StringVar(&opts.id, "id", "", "SAM session ID (default "+config.Default().Session.ID+")")
	flags.StringVar(&opts.metrics, "metrics", "", "Prometheus metrics listen address (disabled if empty)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.BoolVar(&opts.resolve, "resolve", false, "Resolve names with NAMING LOOKUP before connecting")
	flags.StringVar(&opts.certOut, "cert-out", "", "Write the generated certificate to this file")
	flags.IntVar(&opts.maxConns, "max-connections", 0, "Maximum concurrent client connections (0 = unlimited)")

	cmd.AddCommand(genConfigCmd())
	return cmd
}

func genConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-config",
		Short: "Print the default configuration",
		Long:  "Print the default configuration as YAML, suitable as a starting point for --config.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.Default().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

// loadConfig builds the configuration from defaults, the optional file,
// the environment and finally the flags.
func loadConfig(opts *options, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv(lookup)

	if opts.listen != "" {
		cfg.Proxy.Listen = opts.listen
	}
	if opts.sam != "" {
		cfg.SAM.Address = opts.sam
	}
	if opts.id != "" {
		cfg.Session.ID = opts.id
	}
	if opts.metrics != "" {
		cfg.Metrics.Address = opts.metrics
	}
	if opts.certOut != "" {
		cfg.Identity.CertOut = opts.certOut
	}
	if opts.debug {
		cfg.Log.Level = "debug"
	}
	if opts.resolve {
		cfg.Resolver.Enabled = true
	}
	if opts.maxConns != 0 {
		cfg.Proxy.MaxConnections = opts.maxConns
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cfg *config.Config) error {
	// Configure logging
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if err := cfg.Log.ConfigureLogger(log); err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"version":   Version,
		"buildTime": BuildTime,
		"commit":    GitCommit,
	}).Info("Starting Gemini SAM proxy")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := newProxy(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("Failed to start proxy")
		log.Info("Make sure I2P is running and the SAM interface is enabled")
		return err
	}

	errCh, err := p.start()
	if err != nil {
		p.stop()
		return err
	}

	// Set up signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		log.WithField("signal", sig.String()).Info("Received shutdown signal")
	case runErr = <-errCh:
		log.WithError(runErr).Error("Server error")
	}

	log.Info("Shutting down...")
	p.stop()
	log.Info("Gemini SAM proxy stopped")
	return runErr
}
