// Package confirm turns raw detector boxes into confirmed fire verdicts by
// combining coverage grading with a motion liveness check.
package confirm

import (
	"image"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/pkg/types"
)

const (
	DefaultChaosThreshold     = 0.15
	DefaultMagnitudeThreshold = 0.3
	DefaultGraceWindow        = 3 * time.Second
)

// LivenessScorer measures region motion between two gray frames.
type LivenessScorer interface {
	Score(prev, curr *image.Gray, r image.Rectangle) (chaos, magnitude float64)
}

// Verdict is the per-box outcome of one confirmation cycle.
type Verdict struct {
	Box        types.DetectionBox // clamped to the frame
	Class      types.RegionClass
	Chaos      float64
	Magnitude  float64
	Severity   types.Severity
	Confidence float64 // zero when rejected
	Confirmed  bool
}

// Result aggregates one frame's verdicts.
type Result struct {
	Verdicts      []Verdict
	Detected      bool
	Confirmed     int
	MaxConfidence float64
	MaxSeverity   types.Severity
	Chaos         float64 // chaos of the last confirmed box
}

// Options tunes the decision boundaries.
type Options struct {
	ChaosThreshold     float64
	MagnitudeThreshold float64
	Classifier         Classifier
	GraceWindow        time.Duration
	// RequirePriorFrame rejects boxes seen before any previous frame exists
	// instead of accepting them on geometry alone.
	RequirePriorFrame bool
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		ChaosThreshold:     DefaultChaosThreshold,
		MagnitudeThreshold: DefaultMagnitudeThreshold,
		Classifier:         DefaultClassifier(),
		GraceWindow:        DefaultGraceWindow,
	}
}

// Engine runs the per-frame confirmation. It owns the previous gray frame
// and the debounced status, and must be driven from a single goroutine.
type Engine struct {
	scorer  LivenessScorer
	opts    Options
	clock   clock.Clock
	prev    *image.Gray
	tracker tracker
}

// NewEngine creates an engine. A nil clock uses wall time.
func NewEngine(scorer LivenessScorer, opts Options, clk clock.Clock) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		scorer:  scorer,
		opts:    opts,
		clock:   clk,
		tracker: tracker{grace: opts.GraceWindow, current: NormalStatus()},
	}
}

// Process confirms boxes against the previous frame, updates the debounced
// status, then makes frame the new previous frame.
func (e *Engine) Process(frame *types.Frame, boxes []types.DetectionBox) (FrameStatus, Result) {
	res := e.ConfirmFrame(e.prev, frame.Gray, boxes, frame.Width, frame.Height)
	status := e.tracker.apply(res, e.clock.Now())
	e.prev = frame.Gray
	return status, res
}

// Status returns the current debounced status.
func (e *Engine) Status() FrameStatus {
	return e.tracker.current
}

// Reset forgets the previous frame so liveness restarts from scratch.
func (e *Engine) Reset() {
	e.prev = nil
}

// ResetStatus drops the debounced status, grace window included.
func (e *Engine) ResetStatus() {
	e.tracker.current = NormalStatus()
}

// ConfirmFrame evaluates every box for one frame. prev may be nil on the
// first frame of a session.
func (e *Engine) ConfirmFrame(prev, curr *image.Gray, boxes []types.DetectionBox, width, height int) Result {
	res := Result{MaxSeverity: types.SeverityNone, Verdicts: make([]Verdict, 0, len(boxes))}

	for _, raw := range boxes {
		v := e.evaluate(prev, curr, raw, width, height)
		res.Verdicts = append(res.Verdicts, v)
		if !v.Confirmed {
			continue
		}

		res.Detected = true
		res.Confirmed++
		if v.Confidence > res.MaxConfidence {
			res.MaxConfidence = v.Confidence
		}
		if v.Severity > res.MaxSeverity {
			res.MaxSeverity = v.Severity
		}
		if v.Class == types.ClassRealFire {
			res.Chaos = v.Chaos
		}
	}
	return res
}

func (e *Engine) evaluate(prev, curr *image.Gray, raw types.DetectionBox, width, height int) Verdict {
	box := raw.Clamp(width, height)
	v := Verdict{
		Box:        box,
		Severity:   e.opts.Classifier.Classify(box, width, height),
		Confidence: box.Confidence,
	}

	if prev == nil {
		v.Class = types.ClassUnverified
		v.Confirmed = !e.opts.RequirePriorFrame
		if !v.Confirmed {
			v.Confidence = 0
		}
		return v
	}

	v.Chaos, v.Magnitude = e.scorer.Score(prev, curr, box.Rect())
	logger.Debug("Confirm", "Chaos=%.4f (Thresh=%.2f), Motion=%.4f (Thresh=%.2f)",
		v.Chaos, e.opts.ChaosThreshold, v.Magnitude, e.opts.MagnitudeThreshold)

	switch {
	case v.Magnitude < e.opts.MagnitudeThreshold:
		v.Class = types.ClassStatic
		v.Confidence = 0
	case v.Chaos < e.opts.ChaosThreshold:
		v.Class = types.ClassShaking
		v.Confidence = 0
	default:
		v.Class = types.ClassRealFire
		v.Confirmed = true
	}
	return v
}
