package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets   = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	commitDurationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
	bodySizeBuckets       = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds the service instruments. Every Record method is a no-op on a
// nil *Metrics, so callers never need to check.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Progression metrics
	ActionsTotal         *prometheus.CounterVec
	RejectionsTotal      *prometheus.CounterVec
	AdvancesTotal        *prometheus.CounterVec
	StartsTotal          *prometheus.CounterVec
	RepairsTotal         prometheus.Counter
	ExpirySweepsTotal    *prometheus.CounterVec
	CommitDuration       *prometheus.HistogramVec
	NotificationFailures prometheus.Counter

	// Reference metrics
	ReferenceFilesLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drill_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drill_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drill_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drill_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Progression
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drill_actions_total",
			Help: "Total number of committed actions by action type.",
		}, []string{"action_type"}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drill_rejections_total",
			Help: "Total number of rejected requests by operation and error code.",
		}, []string{"op", "code"}),
		AdvancesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drill_advances_total",
			Help: "Total number of step advances.",
		}, []string{"inserted", "forced"}),
		StartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drill_starts_total",
			Help: "Total number of exercise starts.",
		}, []string{"inserted"}),
		RepairsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drill_repairs_total",
			Help: "Total number of partially closed outlines repaired.",
		}),
		ExpirySweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "drill_expiry_sweeps_total",
			Help: "Total number of discovery expiry advances by result.",
		}, []string{"result"}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "drill_commit_duration_seconds",
			Help:    "Duration of the atomic guard and append unit in seconds.",
			Buckets: commitDurationBuckets,
		}, []string{"op"}),
		NotificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drill_notification_failures_total",
			Help: "Total number of failed live-update notifications.",
		}),

		// Reference
		ReferenceFilesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drill_reference_files_loaded",
			Help: "Number of loaded reference files.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Progression
		m.ActionsTotal,
		m.RejectionsTotal,
		m.AdvancesTotal,
		m.StartsTotal,
		m.RepairsTotal,
		m.ExpirySweepsTotal,
		m.CommitDuration,
		m.NotificationFailures,
		// Reference
		m.ReferenceFilesLoaded,
	)

	return m
}

func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

func (m *Metrics) RecordAction(actionType string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(actionType).Inc()
}

func (m *Metrics) RecordRejection(op, code string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(op, code).Inc()
}

// RecordAdvance labels by inserted and forced; a replay is inserted=false.
func (m *Metrics) RecordAdvance(inserted, forced bool) {
	if m == nil {
		return
	}
	m.AdvancesTotal.WithLabelValues(strconv.FormatBool(inserted), strconv.FormatBool(forced)).Inc()
}

func (m *Metrics) RecordStart(inserted bool) {
	if m == nil {
		return
	}
	m.StartsTotal.WithLabelValues(strconv.FormatBool(inserted)).Inc()
}

func (m *Metrics) RecordRepair() {
	if m == nil {
		return
	}
	m.RepairsTotal.Inc()
}

// RecordExpirySweep records one expiry advance attempt. result is one of
// advanced, skipped or failed.
func (m *Metrics) RecordExpirySweep(result string) {
	if m == nil {
		return
	}
	m.ExpirySweepsTotal.WithLabelValues(result).Inc()
}

// RecordCommit records the duration of an atomic commit unit.
func (m *Metrics) RecordCommit(op string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CommitDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func (m *Metrics) RecordNotificationFailure() {
	if m == nil {
		return
	}
	m.NotificationFailures.Inc()
}

func (m *Metrics) SetReferenceFilesLoaded(count float64) {
	if m == nil {
		return
	}
	m.ReferenceFilesLoaded.Set(count)
}

// MetricsMiddleware labels requests by chi route pattern rather than raw path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		reqSize := max(int(r.ContentLength), 0)
		m.RecordHTTPRequest(r.Method, routePattern(r), StatusOf(ww), time.Since(start), reqSize, ww.BytesWritten())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// StatusOf reports the status a wrapped writer sent, or 200 when the handler
// wrote nothing.
func StatusOf(ww middleware.WrapResponseWriter) int {
	if ww.Status() == 0 {
		return http.StatusOK
	}
	return ww.Status()
}

func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := strings.TrimSuffix(strings.Join(rctx.RoutePatterns, ""), "/*"); pattern != "" {
		return pattern
	}
	return r.URL.Path
}
