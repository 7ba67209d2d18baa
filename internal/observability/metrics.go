package observability

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ledgerdesk/assistant-backend/internal/platform/envutil"
	"github.com/ledgerdesk/assistant-backend/internal/platform/logger"
)

// Metrics collects counters for the assistant backend. Every method is safe
// on a nil receiver so callers never guard on whether metrics are enabled.
type Metrics struct {
	apiRequests *CounterVec
	apiLatency  *HistogramVec
	apiInflight *Gauge

	scopeHits         *Counter
	scopeMisses       *Counter
	scopeWriteApplied *Counter
	scopeWriteStale   *Counter
	scopeClears       *Counter
	scopeErrors       *CounterVec
	scopeEvictions    *CounterVec
	scopeEntries      *Gauge
	scopeBytes        *Gauge

	reviewLogged      *Counter
	reviewCorrections *Counter
	reviewErrors      *CounterVec

	learningQueries *CounterVec
	learningLatency *HistogramVec

	sweeperRuns    *CounterVec
	sweeperDeleted *CounterVec

	pgStats   *GaugeVec
	redisUp   *Gauge
	redisPing *Gauge
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	v := strings.TrimSpace(os.Getenv("METRICS_ENABLED"))
	if v == "" {
		return false
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func Current() *Metrics {
	return instance
}

func scrapeInterval() time.Duration {
	return envutil.Duration("METRICS_SCRAPE_INTERVAL", 15*time.Second)
}

func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		if !Enabled() {
			if log != nil {
				log.Info("metrics disabled")
			}
			return
		}
		instance = &Metrics{
			apiRequests: NewCounterVec("assistant_api_requests_total", "API requests by method, route and status", []string{"method", "route", "status"}),
			apiLatency:  NewHistogramVec("assistant_api_latency_seconds", "API request latency", []string{"method", "route"}, nil),
			apiInflight: NewGauge("assistant_api_inflight", "In-flight API requests"),

			scopeHits:         NewCounter("assistant_scope_hits_total", "Scope cache lookups that returned a live entry"),
			scopeMisses:       NewCounter("assistant_scope_misses_total", "Scope cache lookups that found nothing usable"),
			scopeWriteApplied: NewCounter("assistant_scope_writes_applied_total", "Scope writes that won the sequence race"),
			scopeWriteStale:   NewCounter("assistant_scope_writes_stale_total", "Scope writes rejected as stale"),
			scopeClears:       NewCounter("assistant_scope_clears_total", "Scope clear requests"),
			scopeErrors:       NewCounterVec("assistant_scope_errors_total", "Scope store failures by operation", []string{"op"}),
			scopeEvictions:    NewCounterVec("assistant_scope_evictions_total", "Scope entries evicted by cause", []string{"cause"}),
			scopeEntries:      NewGauge("assistant_scope_entries", "Live scope cache entries"),
			scopeBytes:        NewGauge("assistant_scope_bytes", "Total serialized bytes held by the scope cache"),

			reviewLogged:      NewCounter("assistant_review_logged_total", "Exchanges logged to the review queue"),
			reviewCorrections: NewCounter("assistant_review_corrections_total", "Owner corrections saved"),
			reviewErrors:      NewCounterVec("assistant_review_errors_total", "Review store failures by operation", []string{"op"}),

			learningQueries: NewCounterVec("assistant_learning_queries_total", "Learning retrievals by outcome", []string{"outcome"}),
			learningLatency: NewHistogramVec("assistant_learning_latency_seconds", "Learning retrieval latency", nil, nil),

			sweeperRuns:    NewCounterVec("assistant_sweeper_runs_total", "Retention sweeps by job and status", []string{"job", "status"}),
			sweeperDeleted: NewCounterVec("assistant_sweeper_deleted_total", "Rows removed by retention sweeps", []string{"job"}),

			pgStats:   NewGaugeVec("assistant_pg_pool", "Database connection pool stats", []string{"stat"}),
			redisUp:   NewGauge("assistant_redis_up", "Redis reachability (1 up, 0 down)"),
			redisPing: NewGauge("assistant_redis_ping_seconds", "Latency of the last redis ping"),
		}
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.Inc(method, route, status)
	m.apiLatency.Observe(dur.Seconds(), method, route)
}

func (m *Metrics) APIInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) APIInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncScopeHit() {
	if m == nil {
		return
	}
	m.scopeHits.Inc()
}

func (m *Metrics) IncScopeMiss() {
	if m == nil {
		return
	}
	m.scopeMisses.Inc()
}

func (m *Metrics) IncScopeWrite(applied bool) {
	if m == nil {
		return
	}
	if applied {
		m.scopeWriteApplied.Inc()
	} else {
		m.scopeWriteStale.Inc()
	}
}

func (m *Metrics) IncScopeClear() {
	if m == nil {
		return
	}
	m.scopeClears.Inc()
}

func (m *Metrics) IncScopeError(op string) {
	if m == nil {
		return
	}
	m.scopeErrors.Inc(op)
}

func (m *Metrics) AddScopeEvictions(cause string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.scopeEvictions.Add(float64(n), cause)
}

func (m *Metrics) SetScopeUsage(entries, bytes int64) {
	if m == nil {
		return
	}
	m.scopeEntries.Set(float64(entries))
	m.scopeBytes.Set(float64(bytes))
}

func (m *Metrics) IncReviewLogged() {
	if m == nil {
		return
	}
	m.reviewLogged.Inc()
}

func (m *Metrics) IncReviewCorrection() {
	if m == nil {
		return
	}
	m.reviewCorrections.Inc()
}

func (m *Metrics) IncReviewError(op string) {
	if m == nil {
		return
	}
	m.reviewErrors.Inc(op)
}

func (m *Metrics) ObserveLearningQuery(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.learningQueries.Inc(outcome)
	m.learningLatency.Observe(dur.Seconds())
}

func (m *Metrics) ObserveSweep(job, status string, deleted int64) {
	if m == nil {
		return
	}
	m.sweeperRuns.Inc(job, status)
	if deleted > 0 {
		m.sweeperDeleted.Add(float64(deleted), job)
	}
}

func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           http.HandlerFunc(m.WriteHTTP),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func (m *Metrics) WriteHTTP(w http.ResponseWriter, r *http.Request) {
	if m == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	_ = m.WritePrometheus(w)
}

func (m *Metrics) WritePrometheus(w io.Writer) error {
	if m == nil {
		return nil
	}
	writers := []interface{ WritePrometheus(io.Writer) error }{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.scopeHits, m.scopeMisses, m.scopeWriteApplied, m.scopeWriteStale,
		m.scopeClears, m.scopeErrors, m.scopeEvictions, m.scopeEntries, m.scopeBytes,
		m.reviewLogged, m.reviewCorrections, m.reviewErrors,
		m.learningQueries, m.learningLatency,
		m.sweeperRuns, m.sweeperDeleted,
		m.pgStats, m.redisUp, m.redisPing,
	}
	for _, wr := range writers {
		if err := wr.WritePrometheus(w); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) StartPostgresCollector(ctx context.Context, log *logger.Logger, db *gorm.DB) {
	if m == nil || db == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sqlDB, err := db.DB()
				if err != nil {
					if log != nil {
						log.Warn("metrics: db stats unavailable", "error", err)
					}
					continue
				}
				stats := sqlDB.Stats()
				m.pgStats.Set(float64(stats.OpenConnections), "open_connections")
				m.pgStats.Set(float64(stats.InUse), "in_use")
				m.pgStats.Set(float64(stats.Idle), "idle")
				m.pgStats.Set(float64(stats.WaitCount), "wait_count")
				m.pgStats.Set(stats.WaitDuration.Seconds(), "wait_duration_seconds")
				m.pgStats.Set(float64(stats.MaxOpenConnections), "max_open_connections")
			}
		}
	}()
}

func (m *Metrics) StartRedisCollector(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	interval := scrapeInterval()
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = rdb.Close()
				return
			case <-ticker.C:
				start := time.Now()
				if err := rdb.Ping(ctx).Err(); err != nil {
					m.redisUp.Set(0)
					if log != nil {
						log.Warn("metrics: redis ping failed", "error", err)
					}
					continue
				}
				m.redisUp.Set(1)
				m.redisPing.Set(time.Since(start).Seconds())
			}
		}
	}()
}

// StartScopeUsageCollector refreshes the scope cache size gauges.
func (m *Metrics) StartScopeUsageCollector(ctx context.Context, log *logger.Logger, stats func(context.Context) (int64, int64, error)) {
	if m == nil || stats == nil {
		return
	}
	interval := scrapeInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				entries, bytes, err := stats(ctx)
				if err != nil {
					if log != nil {
						log.Warn("metrics: scope stats unavailable", "error", err)
					}
					continue
				}
				m.SetScopeUsage(entries, bytes)
			}
		}
	}()
}
