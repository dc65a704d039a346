// Package main implements the semconnect runtime. It loads the connector
// configuration, deploys every enabled connector as a service and bridges
// device data to NATS.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semconnect/config"
	"github.com/c360/semconnect/connector"
	"github.com/c360/semconnect/connector/machine"
	"github.com/c360/semconnect/connectorregistry"
	"github.com/c360/semconnect/engine"
	"github.com/c360/semconnect/health"
	"github.com/c360/semconnect/heartbeat"
	"github.com/c360/semconnect/metric"
	"github.com/c360/semconnect/natsclient"
	"github.com/c360/semconnect/pkg/retry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semconnect"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, logger, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "connectors", cfg.EnabledConnectors())
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsRegistry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor(health.WithMetrics(metricsRegistry), health.WithSystemName(cfg.Platform.ID))

	stopHTTP, err := startHTTP(cfg, metricsRegistry, monitor, logger)
	if err != nil {
		return err
	}
	defer stopHTTP(cliCfg.ShutdownTimeout)

	natsClient, err := connectToNATS(ctx, cfg, monitor, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := natsClient.Close(closeCtx); err != nil {
			logger.Warn("Closing NATS connection failed", "error", err)
		}
	}()

	eng, err := setupEngine(cfg, cliCfg, natsClient, monitor, metricsRegistry, logger)
	if err != nil {
		return err
	}

	if err := eng.DeployAll(ctx, cfg); err != nil {
		_ = eng.Shutdown(context.Background())
		return fmt.Errorf("deploy connectors: %w", err)
	}
	if err := eng.StartAll(ctx); err != nil {
		// failed instances stay FAILED and are reported by the health endpoint
		logger.Warn("Not all connectors started", "error", err)
	}
	logger.Info("semconnect started", "platform", cfg.Platform.ID, "instances", eng.IDs())

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Heartbeat.Enabled {
		watcher, uninstall, err := startHeartbeat(cfg, natsClient, monitor, metricsRegistry, logger)
		if err != nil {
			_ = eng.Shutdown(context.Background())
			return err
		}
		defer uninstall()
		g.Go(func() error {
			watcher.Run(gctx, cfg.Heartbeat.Interval, func(deviceID string) {
				logger.Warn("Device heartbeat lost", "device", deviceID)
			})
			return nil
		})
	}
	g.Go(func() error {
		refreshHealth(gctx, eng, natsClient, monitor, cliCfg.HealthInterval)
		return nil
	})

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := eng.Shutdown(shutdownCtx)
	if err := g.Wait(); err != nil {
		shutdownErr = stderrors.Join(shutdownErr, err)
	}
	if shutdownErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutdownErr)
	}
	logger.Info("semconnect shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, *slog.Logger, bool, error) {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	cliCfg, err := parseFlags(fs, args)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil, nil, true, nil
		}
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp(fs)
		return nil, nil, true, nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)
	logger.Info("Starting semconnect",
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// loadConfig loads and validates the configuration file
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// startHTTP serves metrics and health. The returned function stops both.
func startHTTP(cfg *config.Config, registry *metric.MetricsRegistry, monitor *health.Monitor,
	logger *slog.Logger,
) (func(time.Duration), error) {
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path, registry)
		if err := metricsServer.Start(); err != nil {
			return nil, fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Metrics server listening", "address", metricsServer.Address())
	}

	var healthServer *http.Server
	if cfg.Health.Enabled {
		ln, err := net.Listen("tcp", cfg.Health.Addr)
		if err != nil {
			if metricsServer != nil {
				_ = metricsServer.Stop(time.Second)
			}
			return nil, fmt.Errorf("listen for health checks: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/health", monitor)
		healthServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := healthServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				logger.Error("Health server stopped", "error", err)
			}
		}()
		logger.Info("Health endpoint listening", "address", ln.Addr().String())
	}

	return func(timeout time.Duration) {
		if healthServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			_ = healthServer.Shutdown(ctx)
		}
		if metricsServer != nil {
			if err := metricsServer.Stop(timeout); err != nil {
				logger.Warn("Stopping metrics server failed", "error", err)
			}
		}
	}, nil
}

// connectToNATS connects the platform bus client, retrying until the
// server is reachable or ctx is done.
func connectToNATS(ctx context.Context, cfg *config.Config, monitor *health.Monitor,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(appName + "-" + cfg.Platform.ID),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTimeout(cfg.NATS.Timeout),
		natsclient.WithCircuitBreakerThreshold(cfg.NATS.CircuitThreshold),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			if healthy {
				monitor.UpdateHealthy("nats", "Connected")
			} else {
				monitor.UpdateUnhealthy("nats", "Disconnected")
			}
		}),
	}
	switch {
	case cfg.NATS.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	case cfg.NATS.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.NATS.URLs)
	policy := retry.Persistent()
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("NATS not reachable, retrying", "attempt", attempt, "delay", delay, "error", err)
	}
	if err := retry.Do(ctx, policy, func() error { return client.Connect(ctx) }); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	monitor.UpdateHealthy("nats", "Connected")
	return client, nil
}

func setupEngine(cfg *config.Config, cliCfg *CLIConfig, client *natsclient.Client, monitor *health.Monitor,
	registry *metric.MetricsRegistry, logger *slog.Logger,
) (*engine.Engine, error) {
	connectors := connector.NewRegistry()
	eng, err := engine.NewEngine(engine.Deps{
		Factory:  connector.NewFactory(connectors),
		Registry: connectors,
		Client:   client,
		Monitor:  monitor,
		Metrics:  registry,
		Logger:   logger,
		Platform: cfg.Platform.ID,
		Retry:    retry.DefaultConfig(),
	})
	if err != nil {
		return nil, err
	}

	var deps connectorregistry.Deps
	if !cliCfg.NoMachine {
		m, err := machine.New(logger)
		if err != nil {
			return nil, fmt.Errorf("create simulated machine: %w", err)
		}
		deps.Machine = m
	}
	if err := connectorregistry.Register(eng, deps); err != nil {
		return nil, fmt.Errorf("register connectors: %w", err)
	}
	logger.Info("Connector factories registered", "entries", eng.Factory().Names())
	return eng, nil
}

// startHeartbeat tracks device liveness from the heartbeat streams.
func startHeartbeat(cfg *config.Config, client *natsclient.Client, monitor *health.Monitor,
	registry *metric.MetricsRegistry, logger *slog.Logger,
) (*heartbeat.Watcher, func(), error) {
	watcher := heartbeat.NewWatcher(
		heartbeat.WithTimeout(cfg.Heartbeat.Timeout),
		heartbeat.WithLogger(logger),
		heartbeat.WithMetrics(registry),
		heartbeat.WithHealth(monitor),
	)
	transport := heartbeat.NewNATSTransport(client)
	if err := watcher.InstallInto(transport); err != nil {
		return nil, nil, fmt.Errorf("install heartbeat watcher: %w", err)
	}
	logger.Info("Heartbeat watcher installed", "timeout", cfg.Heartbeat.Timeout, "interval", cfg.Heartbeat.Interval)
	return watcher, func() {
		if err := watcher.UninstallFrom(transport); err != nil {
			logger.Debug("Uninstalling heartbeat watcher failed", "error", err)
		}
	}, nil
}

func refreshHealth(ctx context.Context, eng *engine.Engine, client *natsclient.Client, monitor *health.Monitor,
	interval time.Duration,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.RefreshHealth()
			reportBusHealth(client, monitor)
		}
	}
}

// reportBusHealth maps the bus client status onto the "nats" component.
func reportBusHealth(client *natsclient.Client, monitor *health.Monitor) {
	st := client.GetStatus()
	switch st.Status {
	case natsclient.StatusConnected:
		monitor.UpdateHealthy("nats", fmt.Sprintf("Connected, rtt %s", st.RTT))
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		monitor.UpdateDegraded("nats", fmt.Sprintf("%s, %d failures", st.Status, st.FailureCount))
	default:
		monitor.UpdateUnhealthy("nats", fmt.Sprintf("%s, %d failures", st.Status, st.FailureCount))
	}
}
