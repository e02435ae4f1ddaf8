package observability

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// TrackerCollector bundles Prometheus metrics for the tracking session, the
// feed loader and the gRPC surface.
type TrackerCollector struct {
	gatherer prometheus.Gatherer

	Updates             prometheus.Counter
	FramesSkipped       prometheus.Counter
	UpdateDuration      prometheus.Histogram
	PropagationFailures *prometheus.CounterVec
	TrackedObjects      prometheus.Gauge
	OrbitBuilds         prometheus.Counter
	OrbitSegments       prometheus.Histogram
	FeedRecords         prometheus.Gauge

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewTrackerCollector registers tracker metrics against reg, defaulting to
// the global Prometheus registry when nil. Registering twice against the same
// registry returns the existing collectors.
func NewTrackerCollector(reg prometheus.Registerer) (*TrackerCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	updates, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_updates_total",
		Help: "Number of live position refreshes performed.",
	}), "tracker_updates_total")
	if err != nil {
		return nil, err
	}
	skipped, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_frames_skipped_total",
		Help: "Frame opportunities skipped by the refresh throttle.",
	}), "tracker_frames_skipped_total")
	if err != nil {
		return nil, err
	}
	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_update_duration_seconds",
		Help:    "Duration of one live position refresh.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "tracker_update_duration_seconds")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_propagation_failures_total",
		Help: "Per-object propagation failures, labeled by stage (init, sample, orbit).",
	}, []string{"stage"}), "tracker_propagation_failures_total")
	if err != nil {
		return nil, err
	}
	tracked, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_tracked_objects",
		Help: "Number of objects with a marker in the current session.",
	}), "tracker_tracked_objects")
	if err != nil {
		return nil, err
	}
	orbitBuilds, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tracker_orbit_builds_total",
		Help: "Number of orbit overlays built for selected objects.",
	}), "tracker_orbit_builds_total")
	if err != nil {
		return nil, err
	}
	orbitSegments, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tracker_orbit_segments",
		Help:    "Number of antimeridian-split segments per orbit overlay.",
		Buckets: []float64{1, 2, 3, 4, 6, 8},
	}), "tracker_orbit_segments")
	if err != nil {
		return nil, err
	}
	feedRecords, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracker_feed_records",
		Help: "Number of element records in the loaded feed.",
	}), "tracker_feed_records")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracker_rpc_requests_total",
		Help: "Total number of handled RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "tracker_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tracker_rpc_request_duration_seconds",
		Help:    "RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"service", "method"}), "tracker_rpc_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &TrackerCollector{
		gatherer:            gatherer,
		Updates:             updates,
		FramesSkipped:       skipped,
		UpdateDuration:      duration,
		PropagationFailures: failures,
		TrackedObjects:      tracked,
		OrbitBuilds:         orbitBuilds,
		OrbitSegments:       orbitSegments,
		FeedRecords:         feedRecords,
		RPCRequests:         requests,
		RPCDurations:        durations,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *TrackerCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveUpdate counts one refresh and records how long it took.
func (c *TrackerCollector) ObserveUpdate(d time.Duration) {
	if c == nil {
		return
	}
	c.Updates.Inc()
	c.UpdateDuration.Observe(d.Seconds())
}

// IncFramesSkipped counts a frame rejected by the throttle.
func (c *TrackerCollector) IncFramesSkipped() {
	if c == nil {
		return
	}
	c.FramesSkipped.Inc()
}

// IncPropagationFailure counts a per-object failure at stage.
func (c *TrackerCollector) IncPropagationFailure(stage string) {
	if c == nil {
		return
	}
	c.PropagationFailures.WithLabelValues(stage).Inc()
}

// SetTrackedObjects sets the marker count gauge.
func (c *TrackerCollector) SetTrackedObjects(n int) {
	if c == nil {
		return
	}
	c.TrackedObjects.Set(float64(n))
}

// ObserveOrbitBuild records one orbit overlay.
func (c *TrackerCollector) ObserveOrbitBuild(segments int) {
	if c == nil {
		return
	}
	c.OrbitBuilds.Inc()
	c.OrbitSegments.Observe(float64(segments))
}

// SetFeedRecords sets the loaded feed size gauge.
func (c *TrackerCollector) SetFeedRecords(n int) {
	if c == nil {
		return
	}
	c.FeedRecords.Set(float64(n))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *TrackerCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *TrackerCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}
