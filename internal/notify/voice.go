package notify

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/flaresense/detection-server/pkg/types"
)

// VoiceChannel places a phone call through the Twilio REST API and reads
// the alert out with TwiML.
type VoiceChannel struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	to         string
	client     *http.Client
}

// NewVoiceChannel creates the channel. httpClient may be nil.
func NewVoiceChannel(baseURL, accountSID, authToken, from, to string, httpClient *http.Client) *VoiceChannel {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://api.twilio.com"
	}
	return &VoiceChannel{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		to:         to,
		client:     httpClient,
	}
}

func (v *VoiceChannel) Name() string { return "voice" }

func (v *VoiceChannel) Enabled() bool {
	return v.accountSID != "" && v.authToken != "" && v.from != "" && v.to != ""
}

// Send starts the call. Twilio answers 201 once the call is queued.
func (v *VoiceChannel) Send(ctx context.Context, a Alert) error {
	if !v.Enabled() {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", v.to)
	form.Set("From", v.from)
	form.Set("Twiml", VoiceTwiML(a.Severity.String(), a.MapURL))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", v.baseURL, url.PathEscape(v.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.SetBasicAuth(v.accountSID, v.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return fmt.Errorf("voice call request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("voice call rejected: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// VoiceTwiML renders the spoken message for a call.
func VoiceTwiML(severity, locationURL string) string {
	location := "location unavailable"
	if locationURL != "" && locationURL != types.NoLocationURL {
		location = "location sent to your email"
	}
	msg := fmt.Sprintf("Emergency. Fire detected. Severity %s. %s. Please respond immediately.", severity, location)

	var b strings.Builder
	b.WriteString("<Response><Say voice=\"alice\">")
	_ = xml.EscapeText(&b, []byte(msg))
	b.WriteString("</Say></Response>")
	return b.String()
}
