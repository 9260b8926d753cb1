// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command bpipe-run loads a TOML graph file, wires the named filters
// together, runs the graph until it completes or is interrupted, and
// reports any worker error on exit.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bpipe.dev/bpipe"
	"bpipe.dev/bpipe/bpconfig"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var graphPath string
	var pollInterval time.Duration
	var verbose bool
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "bpipe-run",
		Short: "Run a bpipe filter graph described by a TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), graphPath, pollInterval, verbose, metricsAddr)
		},
	}

	cmd.Flags().StringVarP(&graphPath, "graph", "g", "", "path to the graph TOML file (required)")
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 50*time.Millisecond, "how often to check whether every sink filter has stopped")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if non-empty, expose Prometheus /metrics on this address (e.g. :9090)")
	_ = cmd.MarkFlagRequired("graph")

	return cmd
}

func run(ctx context.Context, graphPath string, pollInterval time.Duration, verbose bool, metricsAddr string) error {
	log := newLogger(verbose)
	defer log.Sync() //nolint:errcheck

	cfg, err := bpconfig.Load(graphPath)
	if err != nil {
		return fmt.Errorf("bpipe-run: %w", err)
	}

	var metrics *bpipe.MetricsRegistry
	if metricsAddr != "" {
		metrics = bpipe.NewMetricsRegistry()
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
		log.Info("serving metrics", zap.String("addr", metricsAddr))
	}

	graph, err := bpconfig.Build(cfg, metrics)
	if err != nil {
		return fmt.Errorf("bpipe-run: %w", err)
	}

	log.Info("starting graph", zap.String("graph", graphPath), zap.Int("filters", len(cfg.Filters)))
	if err := graph.Start(); err != nil {
		return fmt.Errorf("bpipe-run: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigCh:
			log.Info("received signal, stopping graph", zap.String("signal", sig.String()))
			graph.Stop()
			return reportWorkerErrs(log, graph)
		case <-ctx.Done():
			graph.Stop()
			return reportWorkerErrs(log, graph)
		case <-ticker.C:
			if graphDone(graph, cfg) {
				log.Info("graph completed, stopping")
				graph.Stop()
				return reportWorkerErrs(log, graph)
			}
		}
	}
}

// graphDone reports whether every sink filter in cfg has stopped
// running on its own (a COMPLETE sentinel reached the end of the
// graph, or every sink latched a worker error).
func graphDone(graph *bpconfig.Graph, cfg *bpconfig.GraphConfig) bool {
	sawSink := false
	for _, spec := range cfg.Filters {
		if spec.Kind != "csvwriter" {
			continue
		}
		sawSink = true
		if n := graph.Node(spec.Name); n != nil && n.Running() {
			return false
		}
	}
	return sawSink
}

func reportWorkerErrs(log *zap.Logger, graph *bpconfig.Graph) error {
	errs := graph.WorkerErrs()
	if len(errs) == 0 {
		return nil
	}
	for name, werr := range errs {
		log.Error("filter worker error", zap.String("filter", name), zap.Error(werr))
	}
	return fmt.Errorf("bpipe-run: %d filter(s) reported an error", len(errs))
}

func newLogger(verbose bool) *zap.Logger {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
