package flaskcompat

import (
	"net/http"
	"strings"
	"testing"
)

func TestIndexPage(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET / status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("GET / content-type = %q", ct)
	}
	for _, needle := range []string{"<title>FlareSense Fire Monitor</title>", "/video_feed", "/api/status/stream"} {
		if !strings.Contains(string(body), needle) {
			t.Fatalf("GET / missing %q", needle)
		}
	}
}

func TestStatus(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/status status = %d", resp.StatusCode)
	}
	checkStatus(t, decodeObject(t, body))
}

func TestLocationUpdate(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodPost, "/api/location", map[string]any{"lat": 12.5, "lon": 77.25})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/location status = %d", resp.StatusCode)
	}
	out := decodeObject(t, body)
	if got := field[string](t, out, "status"); got != "updated" {
		t.Fatalf("status = %q", got)
	}
	if lat := field[float64](t, field[map[string]any](t, out, "location"), "lat"); lat != 12.5 {
		t.Fatalf("location.lat = %v", lat)
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/location", map[string]any{"lat": "north"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /api/location with bad lat status = %d", resp.StatusCode)
	}
}

func TestCameraToggle(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodPost, "/api/camera/toggle", map[string]any{"active": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/camera/toggle status = %d", resp.StatusCode)
	}
	out := decodeObject(t, body)
	if got := field[string](t, out, "status"); got != "success" {
		t.Fatalf("status = %q", got)
	}
	if !field[bool](t, out, "camera_active") {
		t.Fatal("camera_active = false after enabling")
	}

	resp, _ = srv.do(t, http.MethodPost, "/api/camera/toggle", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /api/camera/toggle without active status = %d", resp.StatusCode)
	}
}

func TestAnalytics(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodGet, "/api/analytics/stats", nil)
	if resp.StatusCode == http.StatusInternalServerError {
		t.Skipf("event log unavailable: %s", body)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/analytics/stats status = %d", resp.StatusCode)
	}
	out := decodeObject(t, body)
	stats := field[map[string]any](t, out, "stats")
	field[float64](t, stats, "total_events")
	field[float64](t, stats, "avg_confidence")
	field[map[string]any](t, stats, "severity_counts")
	for _, raw := range field[[]any](t, out, "events") {
		ev, ok := raw.(map[string]any)
		if !ok {
			t.Fatalf("event is %T", raw)
		}
		checkEvent(t, ev)
	}

	resp, body = srv.do(t, http.MethodGet, "/api/analytics/export", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/analytics/export status = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "flaresense_report.csv") {
		t.Fatalf("export disposition = %q", cd)
	}
	if !strings.HasPrefix(string(body), "Timestamp,Severity,Conf,Location") {
		t.Fatalf("export missing header row: %q", body)
	}
}

func TestEventNotFound(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodGet, "/api/event/4294967295", nil)
	if resp.StatusCode == http.StatusInternalServerError {
		t.Skipf("event log unavailable: %s", body)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("GET /api/event status = %d", resp.StatusCode)
	}
	if got := field[string](t, decodeObject(t, body), "error"); got != "Event not found" {
		t.Fatalf("error = %q", got)
	}
}

func TestWebRTCOfferRejectsEmptyBody(t *testing.T) {
	srv := dialServer(t)
	resp, body := srv.do(t, http.MethodPost, "/api/webrtc/offer", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("POST /api/webrtc/offer status = %d", resp.StatusCode)
	}
	if got := field[string](t, decodeObject(t, body), "error"); got != "Invalid offer data" {
		t.Fatalf("error = %q", got)
	}
}
