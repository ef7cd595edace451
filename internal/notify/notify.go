// Package notify implements the outbound alert channels. Every channel is
// independent and optional; an unconfigured channel reports itself disabled.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flaresense/detection-server/pkg/types"
)

// ErrNotConfigured is returned by Send on a channel missing credentials.
var ErrNotConfigured = errors.New("notification channel not configured")

// Alert is the payload handed to every channel for one fired trigger.
type Alert struct {
	ID          string
	Severity    types.Severity
	Confidence  float64
	Chaos       float64
	Count       int
	Zone        string
	EvidenceRef string // empty until evidence capture finishes
	Location    *types.Location
	MapURL      string
	FiredAt     time.Time
}

// Channel is one notification sink.
type Channel interface {
	Name() string
	Enabled() bool
	Send(ctx context.Context, a Alert) error
}

// EvidenceConsumer is implemented by channels that attach the evidence image
// and must wait until it has been saved.
type EvidenceConsumer interface {
	NeedsEvidence() bool
}

// NeedsEvidence reports whether ch must run after evidence capture.
func NeedsEvidence(ch Channel) bool {
	ec, ok := ch.(EvidenceConsumer)
	return ok && ec.NeedsEvidence()
}

// Title is the subject line shared by text channels.
const Title = "🔥 FIRE ALERT DETECTED!"

// Summary renders a one-paragraph plain-text description of a.
func Summary(a Alert) string {
	msg := fmt.Sprintf("Fire detected at %s. Severity: %s. Confidence: %.2f. Time: %s.",
		a.Zone, a.Severity, a.Confidence, a.FiredAt.Format("2006-01-02 15:04:05"))
	if a.Location != nil {
		msg += " Location: " + a.MapURL
	}
	return msg
}
