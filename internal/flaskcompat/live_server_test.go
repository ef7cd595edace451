package flaskcompat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL = "http://localhost:5000"
	requestTimeout = 2 * time.Second
	streamTimeout  = 3 * time.Second
)

// liveServer talks to a running instance at FLARESENSE_BASE_URL.
type liveServer struct {
	base   string
	client *http.Client
}

func dialServer(t *testing.T) *liveServer {
	t.Helper()
	base := os.Getenv("FLARESENSE_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	s := &liveServer{base: strings.TrimRight(base, "/"), client: &http.Client{Timeout: requestTimeout}}

	resp, err := s.client.Get(s.base + "/api/status")
	if err != nil {
		t.Skipf("no server at %s (set FLARESENSE_BASE_URL to run): %v", s.base, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		t.Skipf("server at %s is unhealthy: %d", s.base, resp.StatusCode)
	}
	return s
}

// do sends payload as JSON when it is non-nil and returns the whole body.
func (s *liveServer) do(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal %s payload: %v", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.base+path, body)
	if err != nil {
		t.Fatalf("build %s %s: %v", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s %s: %v", method, path, err)
	}
	return resp, data
}

// headers opens an endless stream just long enough to see its response headers.
func (s *liveServer) headers(t *testing.T, path string) *http.Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		t.Fatalf("build GET %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	_ = resp.Body.Close()
	return resp
}

// firstEvent reads one server-sent event and decodes its data as JSON.
func (s *liveServer) firstEvent(t *testing.T, path string) (map[string]any, http.Header) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), streamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
	if err != nil {
		t.Fatalf("build GET %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()

	var data strings.Builder
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" && data.Len() > 0 {
			return decodeObject(t, []byte(data.String())), resp.Header
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(v))
		}
	}
	t.Fatalf("no event on %s: %v", path, sc.Err())
	return nil, nil
}

func decodeObject(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, body)
	}
	return obj
}

// field asserts obj[key] decoded as T. JSON numbers are float64.
func field[T any](t *testing.T, obj map[string]any, key string) T {
	t.Helper()
	v, ok := obj[key].(T)
	if !ok {
		var zero T
		t.Fatalf("%s: want %T, got %T (%v)", key, zero, obj[key], obj[key])
	}
	return v
}

var severities = map[string]bool{"None": true, "Low": true, "Medium": true, "High": true}

func checkStatus(t *testing.T, st map[string]any) {
	t.Helper()
	field[float64](t, st, "confidence")
	field[float64](t, st, "count")
	field[string](t, st, "location")
	field[bool](t, st, "camera_active")

	if sev := field[string](t, st, "severity"); !severities[sev] {
		t.Fatalf("unexpected severity %q", sev)
	}
	if st["timestamp"] != nil {
		field[float64](t, st, "timestamp")
	}
	msg := field[string](t, st, "message")
	if !field[bool](t, st, "detected") && msg != "System Normal" {
		t.Fatalf("idle status message = %q", msg)
	}
}

func checkEvent(t *testing.T, ev map[string]any) {
	t.Helper()
	for _, key := range []string{"id", "confidence", "chaos_score"} {
		field[float64](t, ev, key)
	}
	for _, key := range []string{"timestamp", "severity", "zone", "image_path"} {
		field[string](t, ev, key)
	}
	field[bool](t, ev, "alert_sent")
}
