package webmonitor

import (
	"sync/atomic"

	"github.com/flaresense/detection-server/internal/confirm"
	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/pkg/types"
)

// Monitor is the shared operator state: published detection status, the
// last known GPS fix and the camera switch. Every field is safe to read
// from HTTP handlers while the frame loop writes.
type Monitor struct {
	label        string
	status       *confirm.StatusStore
	location     atomic.Pointer[types.Location]
	cameraActive atomic.Bool
}

// NewMonitor creates a Monitor with the camera switched on.
func NewMonitor(label string, status *confirm.StatusStore) *Monitor {
	if status == nil {
		status = confirm.NewStatusStore()
	}
	m := &Monitor{label: label, status: status}
	m.cameraActive.Store(true)
	return m
}

// Status returns the underlying status store.
func (m *Monitor) Status() *confirm.StatusStore {
	return m.status
}

// Snapshot returns the current status in its wire shape.
func (m *Monitor) Snapshot() StatusPayload {
	st := m.status.Load()
	p := StatusPayload{
		Detected:     st.Detected,
		Confidence:   st.Confidence,
		Location:     m.label,
		Severity:     st.Severity.String(),
		Count:        st.Count,
		Message:      st.Message,
		CameraActive: m.cameraActive.Load(),
	}
	if !st.LastDetection.IsZero() {
		ts := float64(st.LastDetection.UnixMilli()) / 1000
		p.Timestamp = &ts
	}
	return p
}

// Location returns the last GPS fix, or nil if none was posted.
func (m *Monitor) Location() *types.Location {
	return m.location.Load()
}

// SetLocation replaces the GPS fix.
func (m *Monitor) SetLocation(loc types.Location) {
	m.location.Store(&loc)
	logger.Info("Monitor", "Location updated: %v, %v", loc.Lat, loc.Lon)
}

// CameraActive reports the camera switch.
func (m *Monitor) CameraActive() bool {
	return m.cameraActive.Load()
}

// SetCameraActive flips the camera switch. The frame loop picks it up on its
// next iteration.
func (m *Monitor) SetCameraActive(active bool) {
	if m.cameraActive.Swap(active) != active {
		state := "OFF"
		if active {
			state = "ON"
		}
		logger.Info("Monitor", "Camera toggled %s", state)
	}
}
