package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the stream core.
type Metrics struct {
	// Pipeline
	CandlesProcessed *prometheus.CounterVec // labels: phase
	PipelineStepDur  prometheus.Histogram
	DecisionsTotal   *prometheus.CounterVec // labels: regime
	OrderTransitions *prometheus.CounterVec // labels: to

	// Event distributor
	EventsBroadcast  prometheus.Counter
	EventsDropped    prometheus.Counter // evicted from the pending buffer
	PendingDepth     prometheus.Gauge
	ClientsConnected prometheus.Gauge
	ClientsDropped   prometheus.Counter // slow subscribers disconnected

	// Broker / execution
	BrokerRequests prometheus.Counter
	BrokerRetries  prometheus.Counter
	BrokerErrors   prometheus.Counter

	// Storage
	SQLiteCommitDur   prometheus.Histogram
	RedisWriteDur     prometheus.Histogram
	RedisBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips prometheus.Counter
}

// New builds all metrics and registers them on reg. A nil reg skips
// registration, which gives tests isolated, collision-free instances.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandlesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketflow_candles_processed_total",
			Help: "Candles run through a stream pipeline (by phase)",
		}, []string{"phase"}),
		PipelineStepDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketflow_pipeline_step_duration_seconds",
			Help:    "Per-candle pipeline processing latency",
			Buckets: []float64{0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketflow_decisions_total",
			Help: "Orders produced by the decision engine (by regime)",
		}, []string{"regime"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketflow_order_transitions_total",
			Help: "Order lifecycle transitions applied (by target status)",
		}, []string{"to"}),

		EventsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_events_broadcast_total",
			Help: "Events fanned out to at least one ready subscriber",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_events_dropped_total",
			Help: "Events evicted from the full pending buffer",
		}),
		PendingDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketflow_pending_buffer_depth",
			Help: "Events currently held for not-yet-ready subscribers",
		}),
		ClientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketflow_ws_clients",
			Help: "Connected WebSocket subscribers",
		}),
		ClientsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_ws_clients_dropped_total",
			Help: "Subscribers disconnected for not keeping up",
		}),

		BrokerRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_broker_requests_total",
			Help: "REST calls issued to the broker gateway",
		}),
		BrokerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_broker_retries_total",
			Help: "Broker calls retried after a transient failure",
		}),
		BrokerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_broker_errors_total",
			Help: "Broker calls that failed definitively",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketflow_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketflow_redis_write_duration_seconds",
			Help:    "Redis stream write latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "marketflow_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marketflow_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.CandlesProcessed,
			m.PipelineStepDur,
			m.DecisionsTotal,
			m.OrderTransitions,
			m.EventsBroadcast,
			m.EventsDropped,
			m.PendingDepth,
			m.ClientsConnected,
			m.ClientsDropped,
			m.BrokerRequests,
			m.BrokerRetries,
			m.BrokerErrors,
			m.SQLiteCommitDur,
			m.RedisWriteDur,
			m.RedisBreakerState,
			m.RedisBreakerTrips,
		)
	}

	return m
}

// HealthStatus represents the service health exposed on /healthz.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected bool
	SQLiteOK       bool
	LastCandleTime time.Time
	LivePhaseOK    bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetLastCandleTime(t time.Time) {
	h.mu.Lock()
	h.LastCandleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetLivePhaseOK(v bool) {
	h.mu.Lock()
	h.LivePhaseOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx ends.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.RedisConnected || !h.SQLiteOK || !h.LivePhaseOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	candleAge := ""
	if !h.LastCandleTime.IsZero() {
		candleAge = time.Since(h.LastCandleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		LivePhaseOK     bool    `json:"live_phase_ok"`
		LastCandleTime  string  `json:"last_candle_time"`
		CandleAge       string  `json:"candle_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		LivePhaseOK:     h.LivePhaseOK,
		LastCandleTime:  h.LastCandleTime.Format(time.RFC3339),
		CandleAge:       candleAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
