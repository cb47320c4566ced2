// Package metrics exposes the ingestion pipeline's Prometheus collectors.
//
// # Basic Usage
//
//	metrics.RecordsUpserted.WithLabelValues("lomba").Add(float64(n))
//
//	timer := metrics.NewTimer()
//	err := store.Upsert(ctx, table, key, rows)
//	metrics.BatchDuration.WithLabelValues("lomba").Observe(timer.Stop().Seconds())
//
// Collectors register with the default registry on package load; Server
// exposes them over HTTP for a long-running process.
package metrics

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	// RecordsReceived counts records handed to the pipeline.
	// Labels: table
	RecordsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_records_received_total",
			Help: "Records handed to the upsert pipeline",
		},
		[]string{"table"},
	)

	// RecordsDeduplicated counts records dropped by in-batch deduplication.
	// Labels: table, reason (duplicate/missing_key)
	RecordsDeduplicated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_records_deduplicated_total",
			Help: "Records removed before upsert",
		},
		[]string{"table", "reason"},
	)

	// RecordsUpserted counts records the store acknowledged.
	// Labels: table
	RecordsUpserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_records_upserted_total",
			Help: "Records written by successful batch upserts",
		},
		[]string{"table"},
	)

	// BatchesTotal counts batches by outcome.
	// Labels: table, status (success/failure)
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_batches_total",
			Help: "Upsert batches by outcome",
		},
		[]string{"table", "status"},
	)

	// BatchDuration observes the wall time of one batch upsert, retries
	// included.
	// Labels: table
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "infortic_batch_duration_seconds",
			Help: "Batch upsert duration including retries",
			Buckets: []float64{
				0.01, // 10ms - local store
				0.05,
				0.1,
				0.5, // 500ms - typical remote batch
				1,
				5,
				30, // 30s - retried batch
				120,
			},
		},
		[]string{"table"},
	)

	// RetryAttempts counts retries (attempts after the first).
	// Labels: operation
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_retry_attempts_total",
			Help: "Remote operation retries",
		},
		[]string{"operation"},
	)

	// RetryExhausted counts remote operations that gave up.
	// Labels: operation
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_retry_exhausted_total",
			Help: "Remote operations that failed after all attempts",
		},
		[]string{"operation"},
	)

	// CleanRuns counts table cleans by outcome.
	// Labels: table, status (success/failure/not_empty)
	CleanRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_clean_runs_total",
			Help: "Table clean invocations by outcome",
		},
		[]string{"table", "status"},
	)

	// HTTPRequests counts outbound HTTP requests.
	// Labels: method, host, status (HTTP status code or "error")
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_http_requests_total",
			Help: "Outbound HTTP requests",
		},
		[]string{"method", "host", "status"},
	)

	// DeadLetters counts records written to the dead-letter sink.
	// Labels: table
	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "infortic_dead_letter_records_total",
			Help: "Records of failed batches written to the dead-letter sink",
		},
		[]string{"table"},
	)
)

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// Server exposes the default registry on /metrics.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
	once   sync.Once
}

// NewServer creates a metrics server listening on addr.
func NewServer(addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("metrics server listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		err = s.srv.Shutdown(ctx)
	})
	return err
}
