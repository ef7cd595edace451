package alert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/flaresense/detection-server/internal/eventlog"
	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/internal/notify"
)

// DefaultTaskTimeout bounds each dispatched task.
const DefaultTaskTimeout = 30 * time.Second

// EvidenceSaver persists the triggering frame and returns a reference to it.
type EvidenceSaver interface {
	Save(img image.Image) (string, error)
}

// EventRecorder persists one fired alert.
type EventRecorder interface {
	Record(ctx context.Context, e eventlog.Entry) (uint, error)
}

// Observer receives dispatch outcomes, e.g. for metrics.
type Observer interface {
	TaskFailed(task string)
	EventRecorded()
}

// Dispatcher runs the side effects of a trigger as independent goroutines.
// Dispatch never blocks on them.
type Dispatcher struct {
	ctx      context.Context
	channels []notify.Channel
	evidence EvidenceSaver
	events   EventRecorder
	observer Observer
	zone     string
	timeout  time.Duration
	wg       sync.WaitGroup
}

// DispatcherConfig wires the collaborators. Evidence, Events and Observer are optional.
type DispatcherConfig struct {
	Channels    []notify.Channel
	Evidence    EvidenceSaver
	Events      EventRecorder
	Observer    Observer
	Zone        string
	TaskTimeout time.Duration
}

// NewDispatcher creates a dispatcher whose tasks are cancelled with ctx.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig) *Dispatcher {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	for _, ch := range cfg.Channels {
		state := "disabled"
		if ch.Enabled() {
			state = "enabled"
		}
		logger.Info("Alert", "Notification channel %s %s", ch.Name(), state)
	}
	return &Dispatcher{
		ctx:      ctx,
		channels: cfg.Channels,
		evidence: cfg.Evidence,
		events:   cfg.Events,
		observer: cfg.Observer,
		zone:     cfg.Zone,
		timeout:  cfg.TaskTimeout,
	}
}

// Dispatch starts every side effect of t. frame is the annotated image of
// the triggering cycle and must not be modified afterwards.
func (d *Dispatcher) Dispatch(t *Trigger, frame image.Image) {
	a := notify.Alert{
		ID:         t.ID.String(),
		Severity:   t.Severity,
		Confidence: t.Confidence,
		Chaos:      t.Chaos,
		Count:      t.Count,
		Zone:       d.zone,
		Location:   t.Location,
		MapURL:     t.MapURL(),
		FiredAt:    t.FiredAt,
	}

	var deferred []notify.Channel
	for _, ch := range d.channels {
		if !ch.Enabled() {
			logger.Debug("Alert", "Skipping %s: not configured", ch.Name())
			continue
		}
		if notify.NeedsEvidence(ch) {
			deferred = append(deferred, ch)
			continue
		}
		d.sendTo(ch, a)
	}

	d.spawn("evidence", func(ctx context.Context) error {
		var saveErr error
		if d.evidence != nil && frame != nil {
			a.EvidenceRef, saveErr = d.evidence.Save(frame)
		}
		for _, ch := range deferred {
			d.sendTo(ch, a)
		}
		d.record(a)
		return saveErr
	})
}

func (d *Dispatcher) sendTo(ch notify.Channel, a notify.Alert) {
	d.spawn(ch.Name(), func(ctx context.Context) error {
		return ch.Send(ctx, a)
	})
}

func (d *Dispatcher) record(a notify.Alert) {
	if d.events == nil {
		return
	}
	d.spawn("eventlog", func(ctx context.Context) error {
		entry := eventlog.Entry{
			Confidence:  a.Confidence,
			Chaos:       a.Chaos,
			Severity:    a.Severity.String(),
			Zone:        d.zone,
			EvidenceRef: a.EvidenceRef,
			AlertSent:   true,
			LocationURL: a.MapURL,
		}
		if a.Location != nil {
			lat, lon := a.Location.Lat, a.Location.Lon
			entry.Latitude, entry.Longitude = &lat, &lon
		}
		if _, err := d.events.Record(ctx, entry); err != nil {
			return err
		}
		if d.observer != nil {
			d.observer.EventRecorded()
		}
		return nil
	})
}

// spawn runs fn on its own goroutine with a timeout. Errors and panics are
// logged and never propagate.
func (d *Dispatcher) spawn(task string, fn func(ctx context.Context) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Alert", "Task %s panicked: %v", task, r)
				d.failed(task)
			}
		}()

		ctx, cancel := context.WithTimeout(d.ctx, d.timeout)
		defer cancel()

		err := fn(ctx)
		switch {
		case err == nil:
			logger.Debug("Alert", "Task %s done", task)
		case errors.Is(err, notify.ErrNotConfigured):
			logger.Debug("Alert", "Task %s skipped: %v", task, err)
		default:
			logger.Warn("Alert", "Task %s failed: %v", task, err)
			d.failed(task)
		}
	}()
}

func (d *Dispatcher) failed(task string) {
	if d.observer != nil {
		d.observer.TaskFailed(task)
	}
}

// Wait blocks until every dispatched task has returned or ctx is done.
// The frame loop never calls it.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("alert tasks still running: %w", ctx.Err())
	}
}
