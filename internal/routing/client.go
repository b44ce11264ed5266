// Package routing resolves departures against the Digitransit routing API,
// which answers fuzzy trip matches over a GraphQL endpoint.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"hsl-congestion-recorder/internal/hfp"
)

// TripMatch is the routing API's answer to a fuzzy trip query: the matched
// trip's GTFS id and the code of the route pattern it runs on.
type TripMatch struct {
	TripGtfsID  string `json:"tripGtfsId"`
	PatternCode string `json:"patternCode"`
}

// TripMatcher finds the scheduled trip best matching a departure. The second
// return value reports whether any trip matched; errors are reserved for
// failures to get an answer.
type TripMatcher interface {
	FuzzyTrip(ctx context.Context, dep hfp.Departure) (TripMatch, bool, error)
}

// ClientMetrics receives lookup timings. Implementations must be safe for
// concurrent use.
type ClientMetrics interface {
	FuzzyTripObserve(d time.Duration)
}

type Client struct {
	url        string
	httpClient *http.Client
	metrics    ClientMetrics
}

func NewClient(url string, m ClientMetrics) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		metrics: m,
	}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

type fuzzyTripData struct {
	FuzzyTrip *struct {
		GtfsID  string `json:"gtfsId"`
		Pattern *struct {
			Code string `json:"code"`
		} `json:"pattern"`
	} `json:"fuzzyTrip"`
}

// FuzzyTrip issues a single fuzzy trip query for the departure.
func (c *Client) FuzzyTrip(ctx context.Context, dep hfp.Departure) (TripMatch, bool, error) {
	query := fmt.Sprintf(
		`{ fuzzyTrip(route: %q, direction: %d, date: %q, time: %d) { gtfsId pattern { code } } }`,
		dep.RouteGtfsID, dep.DirectionID, dep.Date, dep.Seconds,
	)

	body, err := json.Marshal(graphQLRequest{Query: query})
	if err != nil {
		return TripMatch{}, false, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return TripMatch{}, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.FuzzyTripObserve(time.Since(start))
	}
	if err != nil {
		return TripMatch{}, false, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return TripMatch{}, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return TripMatch{}, false, fmt.Errorf("decoding response: %w", err)
	}
	if len(gqlResp.Errors) > 0 {
		return TripMatch{}, false, fmt.Errorf("GraphQL error: %s", gqlResp.Errors[0].Message)
	}

	var data fuzzyTripData
	if err := json.Unmarshal(gqlResp.Data, &data); err != nil {
		return TripMatch{}, false, fmt.Errorf("decoding fuzzy trip result: %w", err)
	}
	if data.FuzzyTrip == nil {
		return TripMatch{}, false, nil
	}

	match := TripMatch{TripGtfsID: data.FuzzyTrip.GtfsID}
	if data.FuzzyTrip.Pattern != nil {
		match.PatternCode = data.FuzzyTrip.Pattern.Code
	}
	return match, true, nil
}
