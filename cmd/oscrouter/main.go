// Package main is the entry point for oscrouter: it loads a route
// configuration, starts the Supervisor and its I/O workers, serves status,
// health, and Prometheus metrics over HTTP, and mirrors status updates to
// NATS when configured, until told to shut down.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/etcaddy/oscrouter/config"
	"github.com/etcaddy/oscrouter/eventbus"
	"github.com/etcaddy/oscrouter/health"
	"github.com/etcaddy/oscrouter/logfeed"
	"github.com/etcaddy/oscrouter/metric"
	"github.com/etcaddy/oscrouter/status"
	"github.com/etcaddy/oscrouter/supervisor"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("oscrouter exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()
	if cli.ShowVersion {
		fmt.Printf("oscrouter version %s (%s)\n", Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		printHelp()
		return nil
	}

	logger := setupLogger(cli.LogLevel, cli.LogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(cli.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	routes, err := cfg.Routes()
	if err != nil {
		return fmt.Errorf("parse routes: %w", err)
	}
	endpoints, err := cfg.Endpoints()
	if err != nil {
		return fmt.Errorf("parse endpoints: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()

	logs := logfeed.New(logger, cfg.Bootstrap.LogHistory, metricsRegistry)
	statusTbl := status.NewTable()
	monitor := health.NewMonitor()

	var publisher *eventbus.Publisher
	if cfg.Bootstrap.NATSUrl != "" {
		publisher, err = eventbus.NewPublisher(cfg.Bootstrap.NATSUrl, subjectOrDefault(cfg.Bootstrap.EventSubject))
		if err != nil {
			logger.Warn("eventbus unavailable, continuing without event mirroring", "error", err)
		} else {
			defer publisher.Close()
		}
	}

	sup := supervisor.New(logs, statusTbl, logger, metricsRegistry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sup.Configure(ctx, routes, endpoints); err != nil {
		return fmt.Errorf("configure supervisor: %w", err)
	}
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	logs.Infof("main", "oscrouter started with %d route(s), %d endpoint(s)", len(routes), len(endpoints))

	metricsPort := getEnvInt("OSCROUTER_METRICS_PORT", 9090)
	metricsServer := metric.NewServer(metricsPort, "/metrics", metricsRegistry)
	if err := metricsServer.Start(); err != nil {
		logger.Warn("metrics server failed to start", "error", err)
	} else {
		defer metricsServer.Stop()
	}

	statusAddr := cfg.Bootstrap.StatusAddr
	if statusAddr == "" {
		statusAddr = ":8080"
	}
	statusSrv := &http.Server{Addr: statusAddr, Handler: newStatusHandler(statusTbl, monitor, logs)}
	go func() {
		if err := statusSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("status server stopped", "error", err)
		}
	}()
	defer statusSrv.Close()

	stopMirror := make(chan struct{})
	defer close(stopMirror)
	go mirrorStatus(statusTbl, monitor, publisher, stopMirror)

	return waitForShutdown(sup, cli.ShutdownTimeout, logger)
}

func subjectOrDefault(s string) string {
	if s == "" {
		return "oscrouter"
	}
	return s
}

// mirrorStatus periodically copies the Status Table into the health
// Monitor (so /healthz reflects live worker state) and, when an eventbus
// Publisher is configured, republishes each entry for external observers.
// Each entry is first reduced to a health.WorkerHealth snapshot so the
// Monitor receives the same worker-health shape a transport worker would
// report directly, not a Connected bool reinterpreted inline.
func mirrorStatus(statusTbl *status.Table, monitor *health.Monitor, publisher *eventbus.Publisher, stop <-chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !statusTbl.Dirty() {
				continue
			}
			entries := statusTbl.Snapshot()
			for _, e := range entries {
				monitor.Update(e.Key, health.FromWorkerHealth(e.Key, workerHealthFromEntry(e)))
				if publisher != nil {
					_ = publisher.Publish("status."+e.Kind, e)
				}
			}
		}
	}
}

// workerHealthFromEntry reduces one Status Table row to the WorkerHealth
// shape health.FromWorkerHealth expects: healthy means connected with no
// errors recorded on the row so far (Errors is a running total that
// Snapshot does not reset).
func workerHealthFromEntry(e status.Entry) health.WorkerHealth {
	wh := health.WorkerHealth{
		Healthy:   e.Connected && e.Errors == 0,
		ErrCount:  int(e.Errors),
		LastCheck: time.Now(),
	}
	if e.Errors > 0 {
		wh.LastError = e.Description
	}
	return wh
}

func waitForShutdown(sup *supervisor.Supervisor, timeout time.Duration, logger *slog.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return sup.Stop(timeout)
}
