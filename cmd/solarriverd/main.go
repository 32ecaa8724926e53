// Command solarriverd discovers a SolarRiver inverter on the local network,
// opens a session, and samples its status at a fixed interval, logging
// every sample at debug level and restarting the monitor loop after a
// failure. It is the thin driver around the inverter core; the textual
// renderer and database sink that a full monitoring tool would add around
// it are external collaborators.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/solarriver/inverter/clog"
	"github.com/solarriver/inverter/discovery"
	"github.com/solarriver/inverter/metrics"
	"github.com/solarriver/inverter/monitor"
	"github.com/solarriver/inverter/session"
	"github.com/solarriver/inverter/status"
)

var (
	interval          time.Duration
	interfaceIP       string
	keepAlivePeriod   time.Duration
	advertisements    int
	advertiseInterval time.Duration
	logLevel          string
	metricsAddr       string
)

var rootCmd = &cobra.Command{
	Use:   "solarriverd",
	Short: "Discover and monitor a SolarRiver inverter",
	Long: `solarriverd discovers a SolarRiver inverter over the broadcast-advertise
handshake, opens a session, and samples its status on a fixed cadence.

Examples:
  # Sample every second on the default interface
  solarriverd

  # Sample every 5 seconds, binding discovery to a specific interface
  solarriverd --interval 5s --interface-ip 192.168.1.50`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().DurationVar(&interval, "interval", 1*time.Second, "sampling interval")
	rootCmd.Flags().StringVar(&interfaceIP, "interface-ip", "", "interface to bind discovery sockets to (default: all interfaces)")
	rootCmd.Flags().DurationVar(&keepAlivePeriod, "keep-alive", 11*time.Second, "idle period before a keep-alive request is sent")
	rootCmd.Flags().IntVar(&advertisements, "advertisements", 10, "number of broadcast/accept rounds per discovery attempt")
	rootCmd.Flags().DurationVar(&advertiseInterval, "advertise-interval", 5*time.Second, "pacing between discovery broadcasts")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logrus.SetLevel(level)
	log := clog.NewLogger("solarriverd")

	registry := prometheus.NewRegistry()
	met := metrics.New(registry)
	if metricsAddr != "" {
		serveMetrics(metricsAddr, registry, log)
	}

	cfg := monitor.Config{
		Interval: interval,
		Discovery: discovery.Config{
			InterfaceIP:    interfaceIP,
			Advertisements: advertisements,
			Interval:       advertiseInterval,
		},
		Session: session.Config{
			KeepAlivePeriod: keepAlivePeriod,
		},
	}

	m := monitor.New(cfg, log, met)
	m.Subscribe(monitor.SinkFunc(func(sample *status.Sample) error {
		for _, name := range sample.Names() {
			v, _ := sample.Get(name)
			log.Debug("%s = %s", name, v.Text())
		}
		return nil
	}))
	m.OnLifecycle(func(ev monitor.Lifecycle) {
		switch ev.Kind {
		case monitor.Searching:
			logrus.Infof("searching for inverter")
		case monitor.Connected:
			logrus.Infof("connected to inverter at %s", ev.Addr)
		case monitor.Disconnected:
			if ev.Reason != nil {
				log.Warn("disconnected: %v", ev.Reason)
			} else {
				logrus.Infof("disconnected")
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logrus.Infof("shutdown signal received")
		cancel()
	}()

	for {
		err := m.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Error("monitor loop failed, restarting: %v", err)
		}
	}
}

func serveMetrics(addr string, registry *prometheus.Registry, log clog.Clog) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server: %v", err)
		}
	}()
	logrus.Infof("serving metrics on %s/metrics", addr)
}
