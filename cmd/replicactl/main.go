package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/replicactl/pkg/bootstrap"
	"github.com/cuemby/replicactl/pkg/config"
	"github.com/cuemby/replicactl/pkg/initiator"
	"github.com/cuemby/replicactl/pkg/log"
	"github.com/cuemby/replicactl/pkg/metrics"
	"github.com/cuemby/replicactl/pkg/probe"
	"github.com/cuemby/replicactl/pkg/reconciler"
	"github.com/cuemby/replicactl/pkg/reconfig"
	"github.com/cuemby/replicactl/pkg/swarm"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "replicactl",
	Short: "replicactl - MongoDB replica-set controller for Docker Swarm",
	Long: `replicactl keeps a MongoDB replica set's membership synchronized with
Docker Swarm's view of the database service: it initiates a fresh set,
repairs membership after redeployments when every container ip changes,
and follows scaling and primary failover at runtime.

Exactly one instance is expected to run per replica set. Configuration is
environment-driven; see the deployment stack file for the recognized
variables.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"replicactl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
}

func run(cmd *cobra.Command, args []string) error {
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet; this goes straight to stderr via Execute.
		return err
	}
	if cfg.Debug {
		logLevel = "debug"
	}

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	if cfg.MetricsAddr != "" {
		metrics.Serve(cfg.MetricsAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	view, err := swarm.New(cfg.MongoServiceName, cfg.OverlayNetworkName)
	if err != nil {
		logger.Error().Err(err).Msg("Docker client could not be constructed")
		os.Exit(1)
	}
	defer view.Close()

	logger.Info().
		Str("service", cfg.MongoServiceName).
		Str("overlay", cfg.OverlayNetworkName).
		Msg("Waiting for database service tasks to start, please be patient")
	if err := view.WaitUntilFullyUp(ctx); err != nil {
		logger.Error().Err(err).Msg("Exhausted attempts waiting for the database service - restarting task")
		os.Exit(1)
	}

	probes := probe.New(cfg.MongoPort, cfg.RootUsername, cfg.RootPassword)
	boot := initiator.New(view, probes, cfg.ReplicaSetName, cfg.MongoPort, cfg.RootUsername, cfg.RootPassword)
	applier := reconfig.New(cfg.MongoPort, cfg.RootUsername, cfg.RootPassword)
	users := bootstrap.New(probes, cfg.MongoPort, cfg.RootUsername, cfg.RootPassword,
		cfg.InitDBDatabase, cfg.InitDBUser, cfg.InitDBPassword)

	rec := reconciler.New(view, probes, boot, applier, users, cfg.ReplicaSetName, cfg.MongoPort)
	if err := rec.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info().Msg("Shutting down")
			return nil
		}
		logger.Error().Err(err).Msg("Reconciler failed - restarting task")
		os.Exit(1)
	}
	return nil
}
