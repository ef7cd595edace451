package notify

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/resend/resend-go/v2"
)

// EmailChannel sends the alert with the evidence image attached.
type EmailChannel struct {
	client *resend.Client
	from   string
	to     []string
	ready  bool
}

// NewEmailChannel builds the Resend-backed channel. httpClient may be nil.
func NewEmailChannel(apiKey, from string, to []string, httpClient *http.Client) *EmailChannel {
	var client *resend.Client
	if httpClient != nil {
		client = resend.NewCustomClient(httpClient, apiKey)
	} else {
		client = resend.NewClient(apiKey)
	}
	return &EmailChannel{
		client: client,
		from:   from,
		to:     to,
		ready:  apiKey != "" && from != "" && len(to) > 0,
	}
}

func (e *EmailChannel) Name() string        { return "email" }
func (e *EmailChannel) Enabled() bool       { return e.ready }
func (e *EmailChannel) NeedsEvidence() bool { return true }

func (e *EmailChannel) Send(ctx context.Context, a Alert) error {
	if !e.ready {
		return ErrNotConfigured
	}

	req := &resend.SendEmailRequest{
		From:    e.from,
		To:      e.to,
		Subject: Title,
		Html:    emailBody(a),
		Text:    "Fire detected. See attached image.\n\n" + Summary(a),
	}

	if a.EvidenceRef != "" {
		data, err := os.ReadFile(a.EvidenceRef)
		if err != nil {
			return fmt.Errorf("failed to read evidence %s: %w", a.EvidenceRef, err)
		}
		req.Attachments = []*resend.Attachment{{
			Content:  data,
			Filename: filepath.Base(a.EvidenceRef),
		}}
	}

	if _, err := e.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	return nil
}

func emailBody(a Alert) string {
	var b strings.Builder
	b.WriteString("<h2>Fire detected</h2>")
	fmt.Fprintf(&b, "<p>Zone: %s<br>Severity: %s<br>Confidence: %.2f<br>Time: %s</p>",
		html.EscapeString(a.Zone), a.Severity, a.Confidence, a.FiredAt.Format("2006-01-02 15:04:05"))
	if a.Location != nil {
		fmt.Fprintf(&b, `<p><a href="%s">View location on map</a></p>`, html.EscapeString(a.MapURL))
	}
	if a.EvidenceRef != "" {
		b.WriteString("<p>See attached image.</p>")
	}
	return b.String()
}
