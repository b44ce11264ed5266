package hfp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Payload holds the event fields this pipeline reads from an HFP message
// body. Fields stay raw strings so that an absent or empty field is not a
// parse error; it surfaces later as a resolution failure for the message.
type Payload struct {
	// DirectionID is the realtime feed's 1-based direction id ("1" or "2").
	DirectionID string `json:"dir"`
	// SeenAtStop is the ISO timestamp the vehicle was observed, e.g.
	// "2018-04-05T17:25:00.000Z".
	SeenAtStop string `json:"tst"`
	// OperatingDay is the service day the departure belongs to (yyyy-mm-dd).
	// Night traffic keeps the previous day's date past midnight.
	OperatingDay string `json:"oday"`
	// DepartureTime is the scheduled departure time of day (HH:MM or HH:MM:SS).
	DepartureTime string `json:"start"`
	// DoorsOpen is the door status flag. Depending on vehicle hardware the
	// feed emits 0/1, a boolean, or null.
	DoorsOpen TruthyFlag `json:"drst"`
}

// ParsePayload decodes a message body and returns the sub-object keyed by the
// upper-cased event type. A missing key yields a zero Payload rather than an
// error; malformed JSON is a hard parse failure.
func ParsePayload(body []byte, eventType string) (Payload, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Payload{}, fmt.Errorf("parse vehicle position payload: %w", err)
	}

	raw, ok := envelope[strings.ToUpper(eventType)]
	if !ok {
		return Payload{}, nil
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("parse %q event payload: %w", eventType, err)
	}
	return p, nil
}

// SeenAt parses the observation timestamp.
func (p Payload) SeenAt() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, p.SeenAtStop)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse seen-at timestamp %q: %w", p.SeenAtStop, err)
	}
	return t, nil
}

// TruthyFlag is a boolean that tolerates the feed's loose encoding: numbers,
// booleans, and null all appear in the wild. null and absent mean false.
type TruthyFlag bool

func (f *TruthyFlag) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*f = false
	case bool:
		*f = TruthyFlag(val)
	case float64:
		*f = val != 0
	case string:
		*f = val != "" && val != "0" && val != "false"
	default:
		return fmt.Errorf("unsupported door status value %s", data)
	}
	return nil
}
