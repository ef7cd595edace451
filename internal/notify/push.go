package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/flaresense/detection-server/internal/logger"
)

// PushChannel fans an alert out to shoutrrr service URLs
// (telegram://, ntfy://, discord://, generic://, ...).
type PushChannel struct {
	urls    []string
	timeout time.Duration

	mu     sync.Mutex
	sender *router.ServiceRouter
}

func NewPushChannel(urls []string, timeout time.Duration) *PushChannel {
	return &PushChannel{urls: slices.Clone(urls), timeout: timeout}
}

func (p *PushChannel) Name() string  { return "push" }
func (p *PushChannel) Enabled() bool { return len(p.urls) > 0 }

// Validate builds the router once so bad URLs surface at startup.
func (p *PushChannel) Validate() error {
	_, err := p.router()
	return err
}

func (p *PushChannel) Send(_ context.Context, a Alert) error {
	if !p.Enabled() {
		return ErrNotConfigured
	}
	sender, err := p.router()
	if err != nil {
		return err
	}

	params := stypes.Params{}
	params.SetTitle("FlareSense Fire Alert")
	for _, e := range sender.Send(Summary(a), &params) {
		if e != nil {
			return fmt.Errorf("push: %w", e)
		}
	}
	return nil
}

func (p *PushChannel) router() (*router.ServiceRouter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sender != nil {
		return p.sender, nil
	}
	sender, err := shoutrrr.CreateSender(p.urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid push url: %w", err)
	}
	if p.timeout > 0 {
		sender.Timeout = p.timeout
	}
	sender.SetLogger(logger.StdLogger("Push", logger.DEBUG))
	p.sender = sender
	return sender, nil
}
