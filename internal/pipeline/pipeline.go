// Package pipeline runs the sequential frame loop: acquire, detect, confirm,
// gate, render and publish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/flaresense/detection-server/internal/alert"
	"github.com/flaresense/detection-server/internal/capture"
	"github.com/flaresense/detection-server/internal/confirm"
	"github.com/flaresense/detection-server/internal/detector"
	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/internal/overlay"
	"github.com/flaresense/detection-server/pkg/types"
)

const (
	DefaultPlaceholderInterval = 500 * time.Millisecond
	DefaultJPEGQuality         = 80
)

// FrameSink receives every encoded frame, e.g. the MJPEG broadcaster.
type FrameSink interface {
	Publish(jpeg []byte)
}

// CameraSwitch reports whether acquisition is enabled.
type CameraSwitch interface {
	CameraActive() bool
}

// Dispatcher hands a trigger to the notification fan-out without blocking.
type Dispatcher interface {
	Dispatch(t *alert.Trigger, frame image.Image)
}

// Observer receives per-cycle counts, e.g. for metrics.
type Observer interface {
	FrameProcessed(latency time.Duration)
	CaptureFailed()
	DetectFailed()
	ObserveVerdict(class types.RegionClass, confirmed bool)
	AlertFired()
	SetFireDetected(detected bool)
}

// Deps are the loop's collaborators. Sink, Camera, Dispatcher and Observer
// are optional.
type Deps struct {
	Source     capture.Source
	Detector   detector.Detector
	Engine     *confirm.Engine
	Status     *confirm.StatusStore
	Gate       *alert.Gate
	Dispatcher Dispatcher
	Sink       FrameSink
	Camera     CameraSwitch
	Observer   Observer
	Clock      clock.Clock
}

// Config tunes the loop.
type Config struct {
	PlaceholderInterval time.Duration
	JPEGQuality         int
}

// Pipeline is one frame loop. It is not safe for concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    Config
	opened bool
}

// New creates a pipeline with the source closed.
func New(deps Deps, cfg Config) *Pipeline {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Status == nil {
		deps.Status = confirm.NewStatusStore()
	}
	if cfg.PlaceholderInterval <= 0 {
		cfg.PlaceholderInterval = DefaultPlaceholderInterval
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}
	return &Pipeline{deps: deps, cfg: cfg}
}

// Run processes frames until ctx is cancelled or a frame cannot be acquired
// or detected. The source is released on return.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.release()

	logger.Info("Pipeline", "Frame loop started")
	for {
		if err := p.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("Pipeline", "Frame loop stopped")
				return nil
			}
			logger.Error("Pipeline", "Frame loop ended: %v", err)
			return err
		}
	}
}

// Step runs one iteration: a processed frame when the camera is on, one
// placeholder frame and a pause when it is off.
func (p *Pipeline) Step(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.deps.Camera != nil && !p.deps.Camera.CameraActive() {
		return p.idle(ctx)
	}

	if !p.opened {
		if err := p.deps.Source.Open(ctx); err != nil {
			p.observe(func(o Observer) { o.CaptureFailed() })
			return fmt.Errorf("open source: %w", err)
		}
		p.opened = true
		logger.Info("Pipeline", "Camera resource acquired")
	}

	frame, err := p.deps.Source.Read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.observe(func(o Observer) { o.CaptureFailed() })
		return fmt.Errorf("acquire frame: %w", err)
	}
	start := p.deps.Clock.Now()

	boxes, err := p.deps.Detector.Detect(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.observe(func(o Observer) { o.DetectFailed() })
		return fmt.Errorf("detect frame %d: %w", frame.FrameNum, err)
	}

	p.process(frame, boxes)
	p.observe(func(o Observer) { o.FrameProcessed(p.deps.Clock.Since(start)) })
	return nil
}

func (p *Pipeline) process(frame *types.Frame, boxes []types.DetectionBox) {
	status, res := p.deps.Engine.Process(frame, boxes)
	p.deps.Status.Store(status)

	p.observe(func(o Observer) {
		for _, v := range res.Verdicts {
			o.ObserveVerdict(v.Class, v.Confirmed)
		}
		o.SetFireDetected(status.Detected)
	})

	annotated := overlay.Annotate(frame.Color, res)

	// Only a frame that itself confirmed a fire may fire an alert, not one
	// carried by the grace window.
	if trig := p.deps.Gate.OnFrameConfirmed(res.Status(p.deps.Clock.Now())); trig != nil {
		p.observe(func(o Observer) { o.AlertFired() })
		if p.deps.Dispatcher != nil {
			p.deps.Dispatcher.Dispatch(trig, annotated)
		}
	}

	if p.deps.Sink == nil {
		return
	}
	data, err := overlay.EncodeJPEG(annotated, p.cfg.JPEGQuality)
	if err != nil {
		logger.Warn("Pipeline", "Failed to encode frame %d: %v", frame.FrameNum, err)
		return
	}
	p.deps.Sink.Publish(data)
}

// idle releases the camera and serves the placeholder.
func (p *Pipeline) idle(ctx context.Context) error {
	if p.opened {
		p.release()
		logger.Info("Pipeline", "Camera resource released (privacy mode)")
	}

	if p.deps.Sink != nil {
		if data, err := overlay.PlaceholderJPEG(); err == nil {
			p.deps.Sink.Publish(data)
		} else {
			logger.Warn("Pipeline", "Failed to render placeholder: %v", err)
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.deps.Clock.After(p.cfg.PlaceholderInterval):
		return nil
	}
}

// ResetStatus publishes the normal status and clears the engine's grace
// window. Call it between sessions, never while Run is active.
func (p *Pipeline) ResetStatus() {
	p.deps.Engine.ResetStatus()
	p.deps.Status.Store(confirm.NormalStatus())
	p.observe(func(o Observer) { o.SetFireDetected(false) })
}

func (p *Pipeline) release() {
	if !p.opened {
		return
	}
	p.opened = false
	if err := p.deps.Source.Close(); err != nil {
		logger.Warn("Pipeline", "Failed to release source: %v", err)
	}
	p.deps.Engine.Reset()
}

func (p *Pipeline) observe(fn func(Observer)) {
	if p.deps.Observer != nil {
		fn(p.deps.Observer)
	}
}
