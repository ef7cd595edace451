// Package alert rate-limits confirmed detections into alert triggers and
// fans each trigger out to the notification and persistence collaborators.
package alert

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/flaresense/detection-server/internal/confirm"
	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/pkg/types"
)

// DefaultCooldown is the minimum spacing between two fired alerts.
const DefaultCooldown = 60 * time.Second

const neverFired = math.MinInt64

// LocationSource supplies the latest operator GPS fix, nil when unknown.
type LocationSource interface {
	Location() *types.Location
}

// Trigger is one fired alert.
type Trigger struct {
	ID         uuid.UUID
	Severity   types.Severity
	Confidence float64
	Chaos      float64
	Count      int
	Location   *types.Location
	FiredAt    time.Time
}

// MapURL returns the map link for the trigger location.
func (t *Trigger) MapURL() string {
	return types.MapURL(t.Location)
}

// Gate is the cooldown state machine. OnFrameConfirmed is called from the
// frame loop only; LastAlert may be read from anywhere.
type Gate struct {
	cooldown  time.Duration
	clock     clock.Clock
	locations LocationSource
	lastAlert atomic.Int64 // unix nanos, neverFired until the first trigger
}

// NewGate creates a gate. A nil clock uses wall time; locations may be nil.
func NewGate(cooldown time.Duration, clk clock.Clock, locations LocationSource) *Gate {
	if clk == nil {
		clk = clock.New()
	}
	g := &Gate{cooldown: cooldown, clock: clk, locations: locations}
	g.lastAlert.Store(neverFired)
	return g
}

// OnFrameConfirmed returns a trigger when status carries a confirmed
// detection and the cooldown has elapsed, otherwise nil.
func (g *Gate) OnFrameConfirmed(status confirm.FrameStatus) *Trigger {
	if !status.Detected {
		return nil
	}

	now := g.clock.Now()
	last := g.lastAlert.Load()
	if last != neverFired && now.Sub(time.Unix(0, last)) <= g.cooldown {
		return nil
	}
	g.lastAlert.Store(now.UnixNano())

	t := &Trigger{
		ID:         uuid.New(),
		Severity:   status.Severity,
		Confidence: status.Confidence,
		Chaos:      status.Chaos,
		Count:      status.Count,
		FiredAt:    now,
	}
	if g.locations != nil {
		t.Location = g.locations.Location()
	}
	logger.Info("Alert", "Alert Triggered! Severity: %s (id=%s)", t.Severity, t.ID)
	return t
}

// LastAlert returns when the last trigger fired.
func (g *Gate) LastAlert() (time.Time, bool) {
	last := g.lastAlert.Load()
	if last == neverFired {
		return time.Time{}, false
	}
	return time.Unix(0, last), true
}
