package routing

import (
	"context"
	"errors"
	"fmt"

	"hsl-congestion-recorder/internal/hfp"
)

// RoutePatternResolver resolves a departure into the code of the route
// pattern its matched trip runs on.
type RoutePatternResolver struct {
	matcher TripMatcher
}

func NewRoutePatternResolver(m TripMatcher) *RoutePatternResolver {
	return &RoutePatternResolver{matcher: m}
}

func (r *RoutePatternResolver) RoutePatternID(ctx context.Context, dep hfp.Departure) (string, error) {
	match, found, err := r.matcher.FuzzyTrip(ctx, dep)
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	if !found {
		return "", notFound(ErrRoutePatternNotFound, dep)
	}
	if match.PatternCode == "" {
		return "", &UnavailableError{Err: errors.New("fuzzy trip match carries no pattern code")}
	}
	return match.PatternCode, nil
}

// TripResolver resolves a departure into the matched trip's GTFS id.
type TripResolver struct {
	matcher TripMatcher
}

func NewTripResolver(m TripMatcher) *TripResolver {
	return &TripResolver{matcher: m}
}

func (r *TripResolver) TripID(ctx context.Context, dep hfp.Departure) (string, error) {
	match, found, err := r.matcher.FuzzyTrip(ctx, dep)
	if err != nil {
		return "", &UnavailableError{Err: err}
	}
	if !found {
		return "", notFound(ErrTripNotFound, dep)
	}
	if match.TripGtfsID == "" {
		return "", &UnavailableError{Err: errors.New("fuzzy trip match carries no trip id")}
	}
	return match.TripGtfsID, nil
}

func notFound(kind error, dep hfp.Departure) error {
	return fmt.Errorf("%w: route %s direction %d date %s time %d",
		kind, dep.RouteGtfsID, dep.DirectionID, dep.Date, dep.Seconds)
}
