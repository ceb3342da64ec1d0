package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	appInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "videogateway",
			Subsystem: "app",
			Name:      "info",
			Help:      "Static app info for deployment verification.",
		},
		[]string{"service", "version"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "videogateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests processed.",
		},
		[]string{"method", "route", "code"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "videogateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "videogateway",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Calls made to the video provider.",
		},
		[]string{"operation", "result"},
	)

	cacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "videogateway",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Artifact cache lookups by variant and outcome.",
		},
		[]string{"variant", "result"},
	)

	trackerPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "videogateway",
			Subsystem: "tracker",
			Name:      "polls_total",
			Help:      "Job status polls by outcome.",
		},
		[]string{"result"},
	)
	trackerDownloadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "videogateway",
			Subsystem: "tracker",
			Name:      "download_duration_seconds",
			Help:      "Artifact download duration in seconds.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"result"},
	)
	trackerActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "videogateway",
			Subsystem: "tracker",
			Name:      "active_jobs",
			Help:      "Jobs currently tracked as in flight.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		appInfo,
		httpRequestsTotal, httpRequestDuration,
		upstreamRequestsTotal, cacheLookupsTotal,
		trackerPollsTotal, trackerDownloadDuration, trackerActiveJobs,
	)
}

// SetAppInfo publishes the service name and version.
func SetAppInfo(service, version string) {
	svc := strings.TrimSpace(service)
	if svc == "" {
		svc = "videogateway"
	}
	ver := strings.TrimSpace(version)
	if ver == "" {
		ver = "dev"
	}
	appInfo.WithLabelValues(svc, ver).Set(1)
}

// MetricsMiddleware records request count and latency. The route label is the
// chi route pattern so job ids do not blow up cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := routeLabel(r)
		code := strconv.Itoa(rec.code)
		httpRequestsTotal.WithLabelValues(r.Method, route, code).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.code = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

// RecordUpstream counts one provider call.
func RecordUpstream(operation string, err error) {
	upstreamRequestsTotal.WithLabelValues(operation, result(err)).Inc()
}

// RecordCacheLookup counts an artifact cache hit or miss.
func RecordCacheLookup(variant string, hit bool) {
	res := "miss"
	if hit {
		res = "hit"
	}
	cacheLookupsTotal.WithLabelValues(variant, res).Inc()
}

// RecordPoll counts one status poll.
func RecordPoll(err error) {
	trackerPollsTotal.WithLabelValues(result(err)).Inc()
}

// RecordDownload observes one artifact download.
func RecordDownload(start time.Time, err error) {
	trackerDownloadDuration.WithLabelValues(result(err)).Observe(time.Since(start).Seconds())
}

// SetActiveJobs publishes the size of the active job set.
func SetActiveJobs(n int) {
	trackerActiveJobs.Set(float64(n))
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
