package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	MessagesReceived  prometheus.Counter
	MessagesDropped   *prometheus.CounterVec // stage label
	EndOfLineSkips    prometheus.Counter
	TripStopsRecorded prometheus.Counter

	FuzzyTripDuration prometheus.Histogram
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter

	HandleDuration prometheus.Histogram

	NATSConnected prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_messages_total",
			Help: "Total vehicle position messages received.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_messages_dropped_total",
			Help: "Total messages dropped, by pipeline stage.",
		}, []string{"stage"}),
		EndOfLineSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_end_of_line_skips_total",
			Help: "Total messages skipped because the vehicle was past its last stop.",
		}),
		TripStopsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_trip_stops_recorded_total",
			Help: "Total trip stop observations recorded.",
		}),
		FuzzyTripDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_fuzzy_trip_duration_seconds",
			Help:    "Duration of fuzzy trip lookups against the routing API.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_fuzzy_trip_cache_hits_total",
			Help: "Total fuzzy trip matches served from cache.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_fuzzy_trip_cache_misses_total",
			Help: "Total fuzzy trip lookups that missed the cache.",
		}),
		HandleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "recorder_handle_duration_seconds",
			Help:    "End-to-end duration of a message's pipeline run.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_nats_connected",
			Help: "1 if the feed connection is established, 0 otherwise.",
		}),
	}

	// Register
	reg.MustRegister(
		c.MessagesReceived, c.MessagesDropped, c.EndOfLineSkips, c.TripStopsRecorded,
		c.FuzzyTripDuration, c.CacheHits, c.CacheMisses,
		c.HandleDuration, c.NATSConnected,
	)

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// Histograms are in seconds; convert at the observation site.
func (c *Collector) ObserveFuzzyTrip(d time.Duration) { c.FuzzyTripDuration.Observe(d.Seconds()) }
func (c *Collector) ObserveHandle(d time.Duration)    { c.HandleDuration.Observe(d.Seconds()) }
