// Package hfp parses vehicle position events from the HSL High-Frequency
// Positioning API (v2): the slash-delimited topic string and the event-keyed
// JSON payload, plus the departure-time normalization needed to match an
// event against the routing API's schedule data.
package hfp

import "strings"

// Topic field positions in an HFP v2 topic, e.g.
// /hfp/v2/journey/ongoing/vp/tram/0040/00416/1006/1/Arabia/19:25/1230109/...
// Index 0 is the empty segment before the leading slash.
const (
	topicEventTypeIndex  = 5
	topicRouteIDIndex    = 9
	topicNextStopIDIndex = 13
)

// EndOfLineStopID is the next-stop value published once a vehicle has passed
// the last stop of its pattern. Such events carry no upcoming stop to record.
const EndOfLineStopID = "EOL"

type Topic struct {
	EventType  string
	RouteID    string
	NextStopID string
}

// ParseTopic extracts the fields this pipeline uses from an HFP topic string.
// Field count is not validated: a short or malformed topic yields empty
// fields, which fail resolution downstream instead of here.
func ParseTopic(topic string) Topic {
	parts := strings.Split(topic, "/")
	return Topic{
		EventType:  fieldAt(parts, topicEventTypeIndex),
		RouteID:    fieldAt(parts, topicRouteIDIndex),
		NextStopID: fieldAt(parts, topicNextStopIDIndex),
	}
}

// AtEndOfLine reports whether the vehicle has no next stop to record.
func (t Topic) AtEndOfLine() bool {
	return t.NextStopID == EndOfLineStopID
}

func fieldAt(parts []string, i int) string {
	if i >= len(parts) {
		return ""
	}
	return parts[i]
}
