// Commcellctl is a command line client for a Commvault Commcell. It drives
// the commcell SDK to inspect clients and topologies, run and follow backup
// jobs, and schedule recurring backups.
//
// Usage:
//
//	commcellctl --config config.yaml [--debug] <command>
//
// Configuration is provided via YAML file or COMMCELL_* environment
// variables specifying:
//   - Server settings (host, port, scheme, base path, timeout)
//   - Credentials (username/password or a pre-issued token)
//   - Optional OpenTelemetry settings (endpoint, sampling)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjacquet/commcell-go/commcell"
	"github.com/fjacquet/commcell-go/internal/logging"
	"github.com/fjacquet/commcell-go/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	programName       = "commcellctl"
	programVersion    = "1.0.0"
	shutdownTimeout   = 10 * time.Second // Maximum time to wait for graceful shutdown
	readHeaderTimeout = 5 * time.Second  // HTTP server read header timeout
)

var (
	configFile  string
	debug       bool
	logFile     string
	metricsAddr string
)

// loadConfig reads the configuration from the --config file, falling back
// to COMMCELL_* environment variables when no file is given.
func loadConfig() (*commcell.Config, error) {
	if configFile != "" {
		return commcell.LoadConfig(configFile)
	}
	return commcell.ConfigFromEnv()
}

// session bundles a connected SDK client with the observability plumbing
// the CLI set up for it, so commands can tear everything down in order.
type session struct {
	cc           *commcell.Commcell
	telemetryMgr *telemetry.Manager
	metricsSrv   *http.Server
	// metricsErrChan receives metrics server errors. Buffered so the
	// goroutine can send even when nobody is selecting yet.
	metricsErrChan chan error
}

// connect builds a session: telemetry first, then the transport metrics
// endpoint when requested, then the authenticated SDK client.
func connect(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	s := &session{metricsErrChan: make(chan error, 1)}

	var opts []commcell.Option

	if cfg.OpenTelemetry.Enabled {
		s.telemetryMgr = telemetry.NewManager(telemetry.Config{
			Enabled:        cfg.OpenTelemetry.Enabled,
			Endpoint:       cfg.OpenTelemetry.Endpoint,
			Insecure:       cfg.OpenTelemetry.Insecure,
			SamplingRate:   cfg.OpenTelemetry.SamplingRate,
			ServiceName:    programName,
			ServiceVersion: programVersion,
			CommServe:      cfg.Server.Host,
		})

		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.telemetryMgr.Initialize(initCtx); err != nil {
			log.Warnf("Failed to initialize OpenTelemetry: %v. Continuing without tracing.", err)
		}
		if s.telemetryMgr.IsEnabled() {
			opts = append(opts, commcell.WithTracerProvider(s.telemetryMgr.TracerProvider()))
		}
	}

	if metricsAddr != "" {
		registry := prometheus.NewRegistry()
		opts = append(opts, commcell.WithMetrics(commcell.NewMetrics(registry)))

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		s.metricsSrv = &http.Server{
			Addr:              metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		go func() {
			log.Infof("Serving transport metrics on %s/metrics", metricsAddr)
			if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.metricsErrChan <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	cc, err := commcell.New(ctx, *cfg, opts...)
	if err != nil {
		s.close()
		var sdkErr *commcell.SDKError
		if errors.As(err, &sdkErr) && sdkErr.IsAuthError() {
			return nil, fmt.Errorf(telemetry.ErrAuthenticationFailedTemplate, err, cfg.BaseURL())
		}
		return nil, fmt.Errorf(telemetry.ErrConnectionFailedTemplate, err, cfg.BaseURL())
	}

	s.cc = cc
	log.Infof("Connected to Commcell %q (version %s)", cc.Name(), cc.Version())
	return s, nil
}

// close tears the session down: metrics server first (no new scrapes),
// telemetry second (flush spans from in-flight requests), client last.
func (s *session) close() {
	if s.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.metricsSrv.Shutdown(ctx); err != nil {
			log.Warnf("Metrics server shutdown warning: %v", err)
		}
	}

	if s.telemetryMgr != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.telemetryMgr.Shutdown(ctx); err != nil {
			log.Warnf("Telemetry shutdown warning: %v", err)
		}
	}

	if s.cc != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.cc.Close(ctx); err != nil {
			log.Warnf("Client close warning: %v", err)
		}
	}
}

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Command line client for a Commvault Commcell",
		Long:          "Commcellctl inspects Commcell inventory, runs and follows backup jobs, and manages network topologies through the Commcell REST API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.PrepareLogs(logFile, debug)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (COMMCELL_* env vars are used when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&logFile, "log", "", "Path to JSON log file (stdout only when omitted)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Expose transport metrics for Prometheus on this address (e.g. :9402)")

	rootCmd.AddCommand(newClientsCmd())
	rootCmd.AddCommand(newTopologiesCmd())
	rootCmd.AddCommand(newBackupCmd())
	rootCmd.AddCommand(newJobCmd())

	if err := rootCmd.Execute(); err != nil {
		logging.HandleError(err)
	}
}
