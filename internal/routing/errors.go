package routing

import (
	"errors"
	"fmt"
)

// Resolution failures come in two kinds the caller may want to tell apart:
// the routing API answered and knows no matching trip (terminal for the
// message), or the API could not be consulted at all.
var (
	ErrRoutePatternNotFound = errors.New("route pattern not found for departure")
	ErrTripNotFound         = errors.New("trip not found for departure")
)

// UnavailableError wraps any routing API failure that is not a definite
// no-match: network errors, non-200 responses, malformed bodies, GraphQL
// errors.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("routing API unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}
