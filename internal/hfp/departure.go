package hfp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SecondsPerDay shifts departure times of trips whose service day extends
// past local midnight.
const SecondsPerDay = 24 * 3600

const operatingDayLayout = "2006-01-02"

// Departure identifies a scheduled departure in the routing API's terms. It
// is the lookup key for the fuzzy trip match.
type Departure struct {
	RouteGtfsID string
	DirectionID int
	// Date is the operating day, yyyy-mm-dd.
	Date string
	// Seconds is the departure time as seconds since midnight of the
	// operating day. Exceeds 86400 for departures observed past midnight.
	Seconds int
}

// NewDeparture normalizes the realtime feed's departure fields into the
// routing API's namespace: GTFS route id, 0-based direction, and a
// seconds-since-midnight value rolled over by a day when the vehicle was
// seen on the calendar day after its operating day.
func NewDeparture(routeID string, p Payload, seenAt time.Time, loc *time.Location) (Departure, error) {
	directionID, err := ConvertDirectionID(p.DirectionID)
	if err != nil {
		return Departure{}, err
	}

	seconds, err := DepartureSeconds(p.DepartureTime)
	if err != nil {
		return Departure{}, err
	}
	if RollsOverToNextDay(p.OperatingDay, seenAt, loc) {
		seconds += SecondsPerDay
	}

	return Departure{
		RouteGtfsID: GtfsID(routeID),
		DirectionID: directionID,
		Date:        p.OperatingDay,
		Seconds:     seconds,
	}, nil
}

// GtfsID maps a realtime feed identifier into the routing API's GTFS
// namespace. Applies to both route and stop ids.
func GtfsID(realtimeID string) string {
	return "HSL:" + realtimeID
}

// ConvertDirectionID translates the realtime feed's 1-based direction id to
// the routing API's 0-based convention.
func ConvertDirectionID(realtimeDirectionID string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(realtimeDirectionID))
	if err != nil {
		return 0, fmt.Errorf("convert direction id %q: %w", realtimeDirectionID, err)
	}
	return n - 1, nil
}

// DepartureSeconds converts a HH:MM or HH:MM:SS time of day to seconds since
// midnight.
func DepartureSeconds(departureTime string) (int, error) {
	parts := strings.Split(strings.TrimSpace(departureTime), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed departure time %q", departureTime)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed departure time %q: %w", departureTime, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed departure time %q: %w", departureTime, err)
	}
	s := 0
	if len(parts) == 3 {
		if s, err = strconv.Atoi(parts[2]); err != nil {
			return 0, fmt.Errorf("malformed departure time %q: %w", departureTime, err)
		}
	}
	return h*3600 + m*60 + s, nil
}

// RollsOverToNextDay reports whether the observation instant falls on the
// local calendar day after the operating day, meaning the trip's schedule
// entry lives past midnight of its nominal day.
func RollsOverToNextDay(operatingDay string, seenAt time.Time, loc *time.Location) bool {
	day, err := time.ParseInLocation(operatingDayLayout, operatingDay, loc)
	if err != nil {
		return false
	}
	local := seenAt.In(loc)
	seenDay := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return seenDay.After(day)
}
