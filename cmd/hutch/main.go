package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hutchdns/hutch/pkg/config"
	"github.com/hutchdns/hutch/pkg/engine"
	"github.com/hutchdns/hutch/pkg/health"
	"github.com/hutchdns/hutch/pkg/log"
	"github.com/hutchdns/hutch/pkg/metrics"
	"github.com/hutchdns/hutch/pkg/watcher"

	// Record store drivers register themselves.
	_ "github.com/hutchdns/hutch/pkg/store/cloudflare"
	_ "github.com/hutchdns/hutch/pkg/store/memstore"
	_ "github.com/hutchdns/hutch/pkg/store/sqlstore"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
	jsonLogs   bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hutch",
	Short: "Hutch - container-driven DNS record synchronization",
	Long: `Hutch watches container lifecycle events on this host and keeps the
matching DNS-SD records in the configured record stores in sync:
address records for instances, SRV/TXT for services, and PTR for
service enumeration. Records converge again on the next full
reconciliation after any failure.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Hutch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/hutch/hutch.yaml", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "emit JSON logs instead of console output")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Hutch version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

func setup() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonLogs})
	return cfg, nil
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synchronization daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		backends, err := cfg.BuildBackends()
		if err != nil {
			return err
		}
		defer func() {
			for _, b := range backends {
				_ = b.Close()
			}
		}()

		host, err := cfg.Host().Identity()
		if err != nil {
			return err
		}

		var opts []engine.Option
		if cfg.Interval() > 0 {
			opts = append(opts, engine.WithReconcileInterval(cfg.Interval()))
		}
		eng := engine.New(backends, host, opts...)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		w, err := watcher.New(cfg.Containerd.Socket, cfg.Containerd.Namespace, eng, cfg.Host())
		if err != nil {
			return err
		}
		defer w.Close()

		if cfg.MetricsAddr != "" {
			checks := health.NewRegistry()
			checks.Register("engine", eng.Healthy)
			checks.Register("containerd", func() error {
				probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
				defer probeCancel()
				return w.Healthy(probeCtx)
			})
			go serveHTTP(cfg.MetricsAddr, checks)
		}

		eng.Run(ctx)
		if err := w.Seed(ctx); err != nil {
			return fmt.Errorf("initial container listing: %w", err)
		}
		w.Run(ctx)

		log.Logger.Info().Str("version", Version).Msg("hutch running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Logger.Info().Msg("shutting down, withdrawing records")
		case <-eng.Done():
			// The watcher escalated a terminate; records stay published
			// for the next run to reconcile.
			return fmt.Errorf("event stream failed unrecoverably")
		}

		eng.SuppressAll()
		eng.Terminate()
		<-eng.Done()

		cancel()
		select {
		case <-w.Done():
		case <-time.After(10 * time.Second):
			log.Logger.Warn().Msg("watcher did not stop in time")
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one full reconciliation pass and exit",
	Long: `Reconcile lists the currently running containers, diffs their desired
records against every configured record store, applies the changes, and
exits. Useful after manual zone edits or as a cron fallback.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup()
		if err != nil {
			return err
		}

		backends, err := cfg.BuildBackends()
		if err != nil {
			return err
		}
		defer func() {
			for _, b := range backends {
				_ = b.Close()
			}
		}()

		host, err := cfg.Host().Identity()
		if err != nil {
			return err
		}
		eng := engine.New(backends, host)

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		w, err := watcher.New(cfg.Containerd.Socket, cfg.Containerd.Namespace, eng, cfg.Host())
		if err != nil {
			return err
		}
		defer w.Close()

		eng.Run(ctx)
		if err := w.Seed(ctx); err != nil {
			eng.Terminate()
			<-eng.Done()
			return fmt.Errorf("container listing: %w", err)
		}

		eng.Terminate()
		<-eng.Done()
		log.Logger.Info().Msg("reconciliation complete")
		return nil
	},
}

func serveHTTP(addr string, checks *health.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", checks.Handler())
	log.Logger.Info().Str("addr", addr).Msg("serving metrics and health")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Logger.Error().Err(err).Msg("metrics server failed")
	}
}
