package recorder

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hsl-congestion-recorder/internal/hfp"
	"hsl-congestion-recorder/internal/routing"
	"hsl-congestion-recorder/internal/store"
)

const (
	testTopic    = "/hfp/v2/journey/ongoing/vp/tram/0040/00416/1006/1/Arabia/19:25/1230109/3/60;24/19/73/64"
	eolTopic     = "/hfp/v2/journey/ongoing/vp/tram/0040/00416/1006/1/Arabia/19:25/EOL/3/60;24/19/73/64"
	testBody     = `{"VP":{"dir":"1","oday":"2018-04-05","start":"19:25","tst":"2018-04-05T17:25:00.000Z","drst":1}}`
	testPattern  = "HSL:1006:0:01"
	testTrip     = "HSL:1006_20180405_To_2_1925"
	testStopGtfs = "HSL:1230109"
)

type fakeResolvers struct {
	mu         sync.Mutex
	patternID  string
	tripID     string
	patternErr error
	tripErr    error
	departures []hfp.Departure
}

func (f *fakeResolvers) RoutePatternID(_ context.Context, dep hfp.Departure) (string, error) {
	f.mu.Lock()
	f.departures = append(f.departures, dep)
	f.mu.Unlock()
	return f.patternID, f.patternErr
}

func (f *fakeResolvers) TripID(_ context.Context, dep hfp.Departure) (string, error) {
	return f.tripID, f.tripErr
}

// fakeStore mimics the repository's idempotent-create contract: it is safe
// under concurrent duplicate attempts and keeps at most one row per identity.
type fakeStore struct {
	mu            sync.Mutex
	routePatterns map[string]bool
	stops         map[string]bool
	trips         map[string]bool
	associations  map[string]bool
	observations  []store.TripStop

	failEnsureTrip bool
	failRecord     bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		routePatterns: make(map[string]bool),
		stops:         make(map[string]bool),
		trips:         make(map[string]bool),
		associations:  make(map[string]bool),
	}
}

func (f *fakeStore) EnsureRoutePattern(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routePatterns[id] = true
	return nil
}

func (f *fakeStore) EnsureStop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops[id] = true
	return nil
}

func (f *fakeStore) EnsureTrip(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEnsureTrip {
		return fmt.Errorf("create trips %q: connection reset", id)
	}
	f.trips[id] = true
	return nil
}

func (f *fakeStore) AssociateStopWithRoutePattern(_ context.Context, stopID, routePatternID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.associations[routePatternID+"|"+stopID] = true
	return nil
}

func (f *fakeStore) RecordTripStop(_ context.Context, ts store.TripStop) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRecord {
		return store.ErrCouldNotSaveTripStop
	}
	f.observations = append(f.observations, ts)
	return nil
}

func (f *fakeStore) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.routePatterns) + len(f.stops) + len(f.trips) + len(f.associations) + len(f.observations)
}

func newTestDispatcher(t *testing.T, res *fakeResolvers, st *fakeStore, logBuf *bytes.Buffer) *Dispatcher {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Helsinki")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(logBuf, nil))
	return NewDispatcher(res, res, st, loc, logger, nil)
}

func TestHandleMessageRecordsObservation(t *testing.T) {
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &bytes.Buffer{})

	d.HandleMessage(context.Background(), testTopic, []byte(testBody))

	assert.Equal(t, map[string]bool{testPattern: true}, st.routePatterns)
	assert.Equal(t, map[string]bool{testStopGtfs: true}, st.stops)
	assert.Equal(t, map[string]bool{testTrip: true}, st.trips)
	assert.Equal(t, map[string]bool{testPattern + "|" + testStopGtfs: true}, st.associations)

	require.Len(t, st.observations, 1)
	obs := st.observations[0]
	assert.Equal(t, testTrip, obs.TripID)
	assert.Equal(t, testStopGtfs, obs.StopID)
	assert.True(t, obs.DoorsOpen)
	assert.Equal(t, time.Date(2018, 4, 5, 17, 25, 0, 0, time.UTC), obs.SeenAt.UTC())
}

func TestHandleMessageEndOfLine(t *testing.T) {
	var logBuf bytes.Buffer
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &logBuf)

	d.HandleMessage(context.Background(), eolTopic, []byte(testBody))

	assert.Zero(t, st.mutationCount())
	assert.Empty(t, res.departures)
	assert.Empty(t, logBuf.String())
}

func TestHandleMessageReplayAppendsWithoutDuplicates(t *testing.T) {
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &bytes.Buffer{})

	d.HandleMessage(context.Background(), testTopic, []byte(testBody))
	d.HandleMessage(context.Background(), testTopic, []byte(testBody))

	assert.Len(t, st.routePatterns, 1)
	assert.Len(t, st.stops, 1)
	assert.Len(t, st.trips, 1)
	assert.Len(t, st.associations, 1)
	// Observations are append-only facts: every qualifying message adds one.
	assert.Len(t, st.observations, 2)
}

func TestHandleMessagePassesRolledOverSeconds(t *testing.T) {
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &bytes.Buffer{})

	// Departure 23:58 on the 5th, observed 00:30 local on the 6th.
	body := `{"VP":{"dir":"1","oday":"2018-04-05","start":"23:58","tst":"2018-04-05T21:30:00.000Z","drst":0}}`
	d.HandleMessage(context.Background(), testTopic, []byte(body))

	require.NotEmpty(t, res.departures)
	assert.Equal(t, 23*3600+58*60+hfp.SecondsPerDay, res.departures[0].Seconds)
}

func TestHandleMessageMalformedPayload(t *testing.T) {
	var logBuf bytes.Buffer
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &logBuf)

	d.HandleMessage(context.Background(), testTopic, []byte(`{"VP": oops`))

	assert.Zero(t, st.mutationCount())
	assert.Contains(t, logBuf.String(), "parse_payload")
}

func TestHandleMessageShortTopicDropsAtNormalize(t *testing.T) {
	var logBuf bytes.Buffer
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &logBuf)

	// Empty event type finds no payload key, so every field is absent.
	d.HandleMessage(context.Background(), "/hfp/v2", []byte(testBody))

	assert.Zero(t, st.mutationCount())
	assert.Contains(t, logBuf.String(), "normalize_departure")
}

func TestHandleMessageTripNotFoundKeepsEarlierMaterialization(t *testing.T) {
	var logBuf bytes.Buffer
	res := &fakeResolvers{
		patternID: testPattern,
		tripErr:   fmt.Errorf("%w: route HSL:1006", routing.ErrTripNotFound),
	}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &logBuf)

	d.HandleMessage(context.Background(), testTopic, []byte(testBody))

	// Partial side effects up to the failing stage are allowed; no rollback.
	assert.Len(t, st.routePatterns, 1)
	assert.Len(t, st.stops, 1)
	assert.Len(t, st.associations, 1)
	assert.Empty(t, st.trips)
	assert.Empty(t, st.observations)
	assert.Contains(t, logBuf.String(), "resolve_trip")
}

func TestHandleMessageResolverUnavailable(t *testing.T) {
	var logBuf bytes.Buffer
	res := &fakeResolvers{
		patternErr: &routing.UnavailableError{Err: fmt.Errorf("connection refused")},
	}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &logBuf)

	d.HandleMessage(context.Background(), testTopic, []byte(testBody))

	assert.Zero(t, st.mutationCount())
	assert.Contains(t, logBuf.String(), "resolve_route_pattern")
}

func TestHandleMessageStorageFailures(t *testing.T) {
	t.Run("materialize trip", func(t *testing.T) {
		var logBuf bytes.Buffer
		res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
		st := newFakeStore()
		st.failEnsureTrip = true
		d := newTestDispatcher(t, res, st, &logBuf)

		d.HandleMessage(context.Background(), testTopic, []byte(testBody))

		assert.Empty(t, st.observations)
		assert.Contains(t, logBuf.String(), "materialize_trip")
	})

	t.Run("record trip stop", func(t *testing.T) {
		var logBuf bytes.Buffer
		res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
		st := newFakeStore()
		st.failRecord = true
		d := newTestDispatcher(t, res, st, &logBuf)

		d.HandleMessage(context.Background(), testTopic, []byte(testBody))

		assert.Empty(t, st.observations)
		assert.Contains(t, logBuf.String(), "record_trip_stop")
	})
}

func TestHandleMessageConcurrentDuplicates(t *testing.T) {
	res := &fakeResolvers{patternID: testPattern, tripID: testTrip}
	st := newFakeStore()
	d := newTestDispatcher(t, res, st, &bytes.Buffer{})

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			d.HandleMessage(context.Background(), testTopic, []byte(testBody))
		}()
	}
	wg.Wait()

	// Racing creates for the same identities collapse to single rows; only
	// the observation log grows with every message.
	assert.Len(t, st.routePatterns, 1)
	assert.Len(t, st.stops, 1)
	assert.Len(t, st.trips, 1)
	assert.Len(t, st.associations, 1)
	assert.Len(t, st.observations, n)
}
