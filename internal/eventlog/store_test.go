package eventlog

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s, err := Open(Config{Driver: "sqlite", Path: ":memory:", StatsTTL: ttl}, clk)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { _ = s.Close() })
	return s, clk
}

func ptr(f float64) *float64 { return &f }

func TestRecordNormalizesSeverity(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	cases := map[string]string{"medium": "MEDIUM", "Low": "LOW", "High": "HIGH", "None": "HIGH", "bogus": "HIGH"}
	for in, want := range cases {
		id, err := s.Record(ctx, Entry{Confidence: 0.5, Severity: in, Zone: "Camera 1", EvidenceRef: "evidence/x.jpg", AlertSent: true})
		require.NoError(t, err)
		ev, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, ev.Severity, in)
	}
}

func TestRecordAndGet(t *testing.T) {
	s, clk := newTestStore(t, 0)
	ctx := context.Background()

	id, err := s.Record(ctx, Entry{
		Confidence:  0.87,
		Chaos:       1.3,
		Severity:    "HIGH",
		Zone:        "Camera 1",
		EvidenceRef: "evidence/fire_20260301_090000.jpg",
		AlertSent:   true,
		Latitude:    ptr(12.97),
		Longitude:   ptr(77.59),
		LocationURL: "https://maps.google.com/?q=12.97,77.59",
	})
	require.NoError(t, err)
	assert.NotZero(t, id)

	ev, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.87, ev.Confidence)
	assert.Equal(t, 1.3, ev.ChaosScore)
	assert.Equal(t, "evidence/fire_20260301_090000.jpg", ev.ImagePath)
	assert.True(t, ev.AlertSent)
	require.NotNil(t, ev.Latitude)
	assert.Equal(t, 12.97, *ev.Latitude)
	require.NotNil(t, ev.LocationURL)
	assert.True(t, clk.Now().Equal(ev.Timestamp))

	_, err = s.Get(ctx, id+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordWithoutLocation(t *testing.T) {
	s, _ := newTestStore(t, 0)
	id, err := s.Record(context.Background(), Entry{Confidence: 0.4, Severity: "LOW", Zone: "Camera 1"})
	require.NoError(t, err)
	ev, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, ev.Latitude)
	assert.Nil(t, ev.LocationURL)
}

func TestListNewestFirst(t *testing.T) {
	s, clk := newTestStore(t, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Record(ctx, Entry{Confidence: float64(i) / 10, Severity: "LOW", Zone: "Camera 1"})
		require.NoError(t, err)
		clk.Add(time.Minute)
	}

	events, err := s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, 0.2, events[0].Confidence)
	assert.Equal(t, 0.0, events[2].Confidence)

	events, err = s.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestStats(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalEvents)
	assert.Zero(t, st.AvgConfidence)
	assert.Equal(t, int64(0), st.SeverityCounts["HIGH"])

	for _, e := range []Entry{
		{Confidence: 0.4, Severity: "LOW"},
		{Confidence: 0.6, Severity: "HIGH"},
		{Confidence: 0.8, Severity: "HIGH"},
	} {
		e.Zone = "Camera 1"
		_, err := s.Record(ctx, e)
		require.NoError(t, err)
	}

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.TotalEvents)
	assert.Equal(t, int64(1), st.SeverityCounts["LOW"])
	assert.Equal(t, int64(0), st.SeverityCounts["MEDIUM"])
	assert.Equal(t, int64(2), st.SeverityCounts["HIGH"])
	assert.InDelta(t, 0.6, st.AvgConfidence, 1e-9)
}

func TestStatsCacheInvalidatedByRecord(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.TotalEvents)

	_, err = s.Record(ctx, Entry{Confidence: 0.9, Severity: "MEDIUM", Zone: "Camera 1"})
	require.NoError(t, err)

	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalEvents)
}

func TestStatsComputedBeforeRecordIsNotServed(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	ctx := context.Background()

	// a Stats call reads, then a Record commits before it caches its result
	gen := s.gen.Load()
	stale, err := s.computeStats(ctx)
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{Confidence: 0.8, Severity: "HIGH", Zone: "Camera 1"})
	require.NoError(t, err)
	s.cacheStats(gen, stale)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalEvents)

	// an entry stamped with an old generation is ignored even if stored
	s.cache.SetDefault(statsKey, cachedStats{gen: gen, stats: stale})
	st, err = s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.TotalEvents)
}

func TestExportCSV(t *testing.T) {
	s, _ := newTestStore(t, 0)
	ctx := context.Background()
	_, err := s.Record(ctx, Entry{Confidence: 0.912, Severity: "HIGH", Zone: "Camera 1", Latitude: ptr(12.971598), Longitude: ptr(77.594566)})
	require.NoError(t, err)
	_, err = s.Record(ctx, Entry{Confidence: 0.5, Severity: "LOW", Zone: "Camera 1"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, s.ExportCSV(ctx, &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Timestamp", "Severity", "Conf", "Location"}, rows[0])
	assert.Contains(t, [][]string{rows[1], rows[2]}, []string{"2026-03-01 09:00:00", "HIGH", "0.91", "12.9716, 77.5946"})
	assert.Contains(t, [][]string{rows[1], rows[2]}, []string{"2026-03-01 09:00:00", "LOW", "0.50", "N/A"})
}

func TestPingAndDriver(t *testing.T) {
	s, _ := newTestStore(t, 0)
	assert.NoError(t, s.Ping(context.Background()))
	assert.Equal(t, "sqlite", s.Driver())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, nil)
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	dsn := mysqlDSN(Config{Host: "db", Port: 3306, User: "root", Password: "p@ss"}, "fire_detection_db")
	assert.Contains(t, dsn, "root:p@ss@tcp(db:3306)/fire_detection_db")
	assert.Contains(t, dsn, "parseTime=true")
}
