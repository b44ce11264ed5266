// Package recorder runs the per-message pipeline: parse the vehicle
// position event, resolve its identifiers against the routing API,
// materialize the referenced entities, and record the observation.
package recorder

import (
	"context"
	"log/slog"
	"time"

	"hsl-congestion-recorder/internal/hfp"
	"hsl-congestion-recorder/internal/metrics"
	"hsl-congestion-recorder/internal/store"
)

// Stage names used in drop logs and metrics labels.
const (
	stageParsePayload            = "parse_payload"
	stageNormalizeDeparture      = "normalize_departure"
	stageResolveRoutePattern     = "resolve_route_pattern"
	stageMaterializeRoutePattern = "materialize_route_pattern"
	stageMaterializeStop         = "materialize_stop"
	stageResolveTrip             = "resolve_trip"
	stageMaterializeTrip         = "materialize_trip"
	stageRecordTripStop          = "record_trip_stop"
)

type PatternResolver interface {
	RoutePatternID(ctx context.Context, dep hfp.Departure) (string, error)
}

type TripResolver interface {
	TripID(ctx context.Context, dep hfp.Departure) (string, error)
}

// Store is the persistence surface the pipeline needs. Ensure and Associate
// calls must be idempotent and safe under concurrent duplicate attempts.
type Store interface {
	EnsureRoutePattern(ctx context.Context, id string) error
	EnsureStop(ctx context.Context, id string) error
	EnsureTrip(ctx context.Context, id string) error
	AssociateStopWithRoutePattern(ctx context.Context, stopID, routePatternID string) error
	RecordTripStop(ctx context.Context, ts store.TripStop) error
}

// Dispatcher runs one message at a time through the pipeline stages in
// order, short-circuiting on the first failure. A failure aborts only the
// current message: it is logged with its stage and swallowed, never
// returned, so one bad message cannot take the consumer down. Messages are
// independent; callers may invoke HandleMessage concurrently.
type Dispatcher struct {
	patterns PatternResolver
	trips    TripResolver
	store    Store
	loc      *time.Location
	logger   *slog.Logger
	metrics  *metrics.Collector
}

func NewDispatcher(patterns PatternResolver, trips TripResolver, st Store, loc *time.Location, logger *slog.Logger, m *metrics.Collector) *Dispatcher {
	return &Dispatcher{
		patterns: patterns,
		trips:    trips,
		store:    st,
		loc:      loc,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
	}
}

func (d *Dispatcher) HandleMessage(ctx context.Context, topic string, body []byte) {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.MessagesReceived.Inc()
		defer func() { d.metrics.ObserveHandle(time.Since(start)) }()
	}

	t := hfp.ParseTopic(topic)
	if t.AtEndOfLine() {
		// Normal case, not a failure: nothing left to record for this trip.
		if d.metrics != nil {
			d.metrics.EndOfLineSkips.Inc()
		}
		return
	}

	payload, err := hfp.ParsePayload(body, t.EventType)
	if err != nil {
		d.drop(stageParsePayload, topic, err)
		return
	}

	seenAt, err := payload.SeenAt()
	if err != nil {
		d.drop(stageNormalizeDeparture, topic, err)
		return
	}
	dep, err := hfp.NewDeparture(t.RouteID, payload, seenAt, d.loc)
	if err != nil {
		d.drop(stageNormalizeDeparture, topic, err)
		return
	}

	routePatternID, err := d.patterns.RoutePatternID(ctx, dep)
	if err != nil {
		d.drop(stageResolveRoutePattern, topic, err)
		return
	}
	if err := d.store.EnsureRoutePattern(ctx, routePatternID); err != nil {
		d.drop(stageMaterializeRoutePattern, topic, err)
		return
	}

	stopID := hfp.GtfsID(t.NextStopID)
	if err := d.store.EnsureStop(ctx, stopID); err != nil {
		d.drop(stageMaterializeStop, topic, err)
		return
	}
	if err := d.store.AssociateStopWithRoutePattern(ctx, stopID, routePatternID); err != nil {
		d.drop(stageMaterializeStop, topic, err)
		return
	}

	tripID, err := d.trips.TripID(ctx, dep)
	if err != nil {
		d.drop(stageResolveTrip, topic, err)
		return
	}
	if err := d.store.EnsureTrip(ctx, tripID); err != nil {
		d.drop(stageMaterializeTrip, topic, err)
		return
	}

	obs := store.TripStop{
		TripID:    tripID,
		StopID:    stopID,
		SeenAt:    seenAt,
		DoorsOpen: bool(payload.DoorsOpen),
	}
	if err := d.store.RecordTripStop(ctx, obs); err != nil {
		d.drop(stageRecordTripStop, topic, err)
		return
	}

	if d.metrics != nil {
		d.metrics.TripStopsRecorded.Inc()
	}
	d.logger.Debug("trip stop recorded",
		"trip_id", tripID,
		"stop_id", stopID,
		"doors_open", bool(payload.DoorsOpen),
		"seen_at", seenAt,
	)
}

func (d *Dispatcher) drop(stage, topic string, err error) {
	if d.metrics != nil {
		d.metrics.MessagesDropped.WithLabelValues(stage).Inc()
	}
	d.logger.Error("message dropped", "stage", stage, "topic", topic, "error", err)
}
