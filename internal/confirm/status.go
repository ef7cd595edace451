package confirm

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/flaresense/detection-server/pkg/types"
)

// NormalMessage is shown while nothing is confirmed.
const NormalMessage = "System Normal"

// FrameStatus is the aggregate detection state exposed to observers.
type FrameStatus struct {
	Detected      bool
	Confidence    float64
	Severity      types.Severity
	Count         int
	Message       string
	Chaos         float64
	LastDetection time.Time // zero until the first confirmed frame
}

// NormalStatus is the baseline reported when no fire is confirmed.
func NormalStatus() FrameStatus {
	return FrameStatus{Severity: types.SeverityNone, Message: NormalMessage}
}

// AlertMessage formats the operator-facing line for a confirmed frame.
func AlertMessage(sev types.Severity, count int) string {
	if sev == types.SeverityHigh {
		return fmt.Sprintf("CRITICAL: %d FIRE(S) DETECTED!", count)
	}
	return fmt.Sprintf("Warning: %d Fire(s) Visible", count)
}

// StatusStore publishes FrameStatus snapshots from the frame loop to readers
// on other goroutines. Readers may observe a value one frame old.
type StatusStore struct {
	p atomic.Pointer[FrameStatus]
}

// NewStatusStore returns a store holding NormalStatus.
func NewStatusStore() *StatusStore {
	s := &StatusStore{}
	s.Store(NormalStatus())
	return s
}

// Load returns the latest snapshot by value.
func (s *StatusStore) Load() FrameStatus {
	if p := s.p.Load(); p != nil {
		return *p
	}
	return NormalStatus()
}

// Store replaces the snapshot. Only the frame loop writes.
func (s *StatusStore) Store(st FrameStatus) {
	s.p.Store(&st)
}

// tracker applies the grace window to per-frame results.
type tracker struct {
	grace   time.Duration
	current FrameStatus
}

func (t *tracker) apply(res Result, now time.Time) FrameStatus {
	if res.Detected {
		t.current = res.Status(now)
		return t.current
	}

	if !t.current.LastDetection.IsZero() && now.Sub(t.current.LastDetection) > t.grace {
		last := t.current.LastDetection
		t.current = NormalStatus()
		t.current.LastDetection = last
	}
	return t.current
}

// Status is the undebounced status of this frame alone: the confirmed
// aggregate when something was confirmed, NormalStatus otherwise.
func (r Result) Status(now time.Time) FrameStatus {
	if !r.Detected {
		return NormalStatus()
	}
	return FrameStatus{
		Detected:      true,
		Confidence:    r.MaxConfidence,
		Severity:      r.MaxSeverity,
		Count:         r.Confirmed,
		Message:       AlertMessage(r.MaxSeverity, r.Confirmed),
		Chaos:         r.Chaos,
		LastDetection: now,
	}
}
