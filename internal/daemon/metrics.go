package daemon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"git.home.luguber.info/inful/shopsync/internal/engine"
	"git.home.luguber.info/inful/shopsync/internal/logfields"
)

// Cycle outcome labels for the shopsync_cycle_outcomes_total counter.
const (
	outcomeOK        = "ok"
	outcomeDegraded  = "degraded"
	outcomeError     = "error"
	outcomeUnchanged = "unchanged"
)

var (
	registry = prom.NewRegistry()

	cycleOutcomes = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "shopsync",
		Name:      "cycle_outcomes_total",
		Help:      "Sync cycle outcomes by final status",
	}, []string{"outcome"})
	itemsProcessed = prom.NewCounter(prom.CounterOpts{
		Namespace: "shopsync",
		Name:      "items_processed_total",
		Help:      "Items classified and/or moved",
	})
	itemsSkipped = prom.NewCounter(prom.CounterOpts{
		Namespace: "shopsync",
		Name:      "items_skipped_total",
		Help:      "Items already organized, no API calls spent",
	})
	classifyDegraded = prom.NewCounter(prom.CounterOpts{
		Namespace: "shopsync",
		Name:      "classifications_degraded_total",
		Help:      "Items placed in the fallback category after classification failure",
	})
	duplicatesRemoved = prom.NewCounter(prom.CounterOpts{
		Namespace: "shopsync",
		Name:      "duplicates_removed_total",
		Help:      "Duplicate items deleted from the remote list",
	})
	mutationsApplied = prom.NewCounter(prom.CounterOpts{
		Namespace: "shopsync",
		Name:      "remote_mutations_total",
		Help:      "Remote mutations applied: moves, deletes, section creates",
	})
)

func init() {
	registry.MustRegister(cycleOutcomes, itemsProcessed, itemsSkipped,
		classifyDegraded, duplicatesRemoved, mutationsApplied)
}

// recordCycle updates counters after a cycle. res may be nil when the cycle
// failed or skipped before reconciliation ran.
func recordCycle(res *engine.CycleResult, outcome string) {
	cycleOutcomes.WithLabelValues(outcome).Inc()
	if res == nil {
		return
	}
	itemsProcessed.Add(float64(res.Processed))
	itemsSkipped.Add(float64(res.Skipped))
	classifyDegraded.Add(float64(res.Degraded))
	duplicatesRemoved.Add(float64(res.DuplicatesRemoved))
	mutationsApplied.Add(float64(res.MutationsApplied))
}

// StartMonitor serves /metrics and /healthz on addr until ctx is cancelled.
// It returns immediately; the listener runs in the background. A nil return
// with empty addr means monitoring is disabled.
func StartMonitor(ctx context.Context, addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Monitoring listener started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Monitoring listener failed", logfields.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}
