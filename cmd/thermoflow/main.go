package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ghalamif/thermoflow"
	"github.com/ghalamif/thermoflow/internal/adapters/bus/netbus"
	"github.com/ghalamif/thermoflow/internal/adapters/httpapi"
	"github.com/ghalamif/thermoflow/internal/adapters/observability"
	"github.com/ghalamif/thermoflow/internal/logging"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "hub":
		err = hubCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("thermoflow %s: %v", cmd, err)
	}
}

func loadConfig(path string) (*thermoflow.Config, error) {
	cfg, err := thermoflow.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logging.InitWriter(logging.Output(logging.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	}), level, cfg.Log.Format == "json")
	return cfg, nil
}

func runCommand(args []string) error {
	fs := pflag.NewFlagSet("run", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Path to configuration file (defaults only when empty)")
	services := fs.StringSlice("service", nil, "Services to run: producer, store, gateway (default all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	selected, err := thermoflow.ParseServices(strings.Join(*services, ","))
	if err != nil {
		return err
	}

	rt, err := thermoflow.NewRuntime(cfg, thermoflow.WithServices(selected...))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Component("cli").Info("starting services", "services", selected, "bus", cfg.Bus.Mode, "store", cfg.Store.Driver)
	return rt.Run(ctx)
}

func hubCommand(args []string) error {
	fs := pflag.NewFlagSet("hub", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Path to configuration file")
	addr := fs.String("addr", "", "Hub listen address (default bus.addr)")
	metricsAddr := fs.String("metrics-addr", "", "Metrics listen address (disabled when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		return err
	}
	if *addr == "" {
		*addr = cfg.Bus.Addr
	}

	reg := prometheus.NewRegistry()
	logger := logging.Component("hub")
	hub, err := netbus.Listen(*addr, cfg.Bus.MailboxLen, observability.NewPromObs(reg, logger))
	if err != nil {
		return err
	}
	logger.Info("netbus hub running", "addr", hub.Addr().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Serve(gctx) })
	if *metricsAddr != "" {
		srv := httpapi.NewServer(*metricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

func validateCommand(args []string) error {
	fs := pflag.NewFlagSet("validate", pflag.ExitOnError)
	cfgPath := fs.StringP("config", "c", "", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := thermoflow.LoadConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Printf("config %s looks good (bus=%s store=%s breaker threshold=%d cooldown=%s timeout=%s)\n",
		displayPath(*cfgPath), cfg.Bus.Mode, cfg.Store.Driver,
		cfg.Gateway.Breaker.FailureThreshold, cfg.Gateway.Breaker.Cooldown, cfg.Gateway.Breaker.CallTimeout)
	return nil
}

func displayPath(p string) string {
	if p == "" {
		return "<defaults>"
	}
	return p
}

func statsCommand(args []string) error {
	fs := pflag.NewFlagSet("stats", pflag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(*url); err != nil {
				slog.Error("stats poll failed", "error", err)
			}
		}
	}
}

var statsTargets = []string{
	"thermo_samples_published_total",
	"thermo_samples_persisted_total",
	"thermo_samples_dropped_total",
	"thermo_gateway_cache_served_total",
	"thermo_gateway_unavailable_total",
	"thermo_breaker_state",
}

func printMetricsSnapshot(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values, err := parseMetrics(resp.Body)
	if err != nil {
		return err
	}

	fmt.Printf("[%s] published=%.0f persisted=%.0f dropped=%.0f cache_served=%.0f unavailable=%.0f breaker=%s\n",
		time.Now().Format(time.RFC3339),
		values["thermo_samples_published_total"],
		values["thermo_samples_persisted_total"],
		values["thermo_samples_dropped_total"],
		values["thermo_gateway_cache_served_total"],
		values["thermo_gateway_unavailable_total"],
		breakerStateName(values["thermo_breaker_state"]),
	)
	return nil
}

// parseMetrics picks the unlabelled statsTargets samples out of a Prometheus
// text exposition.
func parseMetrics(r io.Reader) (map[string]float64, error) {
	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	return values, scanner.Err()
}

func breakerStateName(v float64) string {
	switch v {
	case 0:
		return "closed"
	case 1:
		return "open"
	case 2:
		return "half_open"
	default:
		return "unknown"
	}
}

func printUsage() {
	fmt.Printf(`thermoflow CLI

Usage:
  thermoflow <command> [flags]

Commands:
  run        Start producer, store and gateway services (all by default)
  hub        Run the TCP bus hub used when bus.mode is tcp
  validate   Load and validate a config file without starting anything
  stats      Poll the Prometheus metrics endpoint and print live counters

Examples:
  thermoflow run -c ./data/config.yaml
  thermoflow run -c ./data/config.yaml --service gateway
  thermoflow hub --addr 127.0.0.1:7400 --metrics-addr :9101
  thermoflow validate -c ./data/config.yaml
  thermoflow stats --url http://localhost:9100/metrics --interval 1s
`)
}
