// Package metrics exposes acquisition and sync counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ReadingsAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "era_readings_acquired_total",
		Help: "Decoded readings appended to the local buffer",
	})
	DecodeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "era_decode_errors_total",
		Help: "Register map entries that could not be decoded, by kind",
	}, []string{"kind"})
	TransportErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "era_transport_errors_total",
		Help: "Failed fieldbus chunk reads",
	})
	RecordsUploaded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "era_records_uploaded_total",
		Help: "Records confirmed committed by the remote store",
	})
	RowsInserted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "era_rows_inserted_total",
		Help: "Rows the remote store actually inserted (conflicts excluded)",
	})
	RowsDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "era_rows_deleted_total",
		Help: "Local buffer rows deleted after confirmed upload",
	})
	SyncCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "era_sync_cycles_total",
		Help: "Sync cycles by outcome",
	}, []string{"outcome"})
	BufferBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "era_buffer_rows",
		Help: "Rows currently held in the local buffer",
	})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. Safe to call twice.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ReadingsAcquired, DecodeErrors, TransportErrors,
			RecordsUploaded, RowsInserted, RowsDeleted,
			SyncCycles, BufferBacklog,
		)
	})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[metrics] listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
