package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaresense/detection-server/pkg/types"
)

func sampleAlert() Alert {
	loc := &types.Location{Lat: 12.97, Lon: 77.59}
	return Alert{
		ID:         "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Severity:   types.SeverityHigh,
		Confidence: 0.82,
		Chaos:      1.4,
		Count:      2,
		Zone:       "Camera 1",
		Location:   loc,
		MapURL:     types.MapURL(loc),
		FiredAt:    time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestSummary(t *testing.T) {
	s := Summary(sampleAlert())
	assert.Contains(t, s, "Severity: High")
	assert.Contains(t, s, "Confidence: 0.82")
	assert.Contains(t, s, "https://maps.google.com/?q=12.97,77.59")

	a := sampleAlert()
	a.Location = nil
	assert.NotContains(t, Summary(a), "Location:")
}

func TestUnconfiguredChannelsAreSkipped(t *testing.T) {
	channels := []Channel{
		NewEmailChannel("", "", nil, nil),
		NewVoiceChannel("", "", "", "", "", nil),
		NewMQTTChannel("", "flaresense", "", "", "flaresense/alerts", 0),
		NewPushChannel(nil, time.Second),
		NewSoundChannel(false, "alarm.wav", nil),
	}
	for _, ch := range channels {
		assert.False(t, ch.Enabled(), ch.Name())
		assert.ErrorIs(t, ch.Send(context.Background(), sampleAlert()), ErrNotConfigured, ch.Name())
	}
}

func TestNeedsEvidence(t *testing.T) {
	assert.True(t, NeedsEvidence(NewEmailChannel("k", "a@b.c", []string{"d@e.f"}, nil)))
	assert.False(t, NeedsEvidence(NewVoiceChannel("", "AC1", "tok", "+1", "+2", nil)))
}

func TestVoiceChannelPlacesCall(t *testing.T) {
	mt := httpmock.NewMockTransport()
	client := &http.Client{Transport: mt}

	var form url.Values
	mt.RegisterResponder(http.MethodPost, "https://api.twilio.com/2010-04-01/Accounts/AC123/Calls.json",
		func(req *http.Request) (*http.Response, error) {
			user, pass, ok := req.BasicAuth()
			if !ok || user != "AC123" || pass != "secret" {
				return httpmock.NewStringResponse(http.StatusUnauthorized, `{"message":"auth"}`), nil
			}
			body, _ := io.ReadAll(req.Body)
			form, _ = url.ParseQuery(string(body))
			return httpmock.NewStringResponse(http.StatusCreated, `{"sid":"CA1","status":"queued"}`), nil
		})

	ch := NewVoiceChannel("", "AC123", "secret", "+15550000001", "+15550000002", client)
	require.True(t, ch.Enabled())
	require.NoError(t, ch.Send(context.Background(), sampleAlert()))

	assert.Equal(t, 1, mt.GetTotalCallCount())
	assert.Equal(t, "+15550000002", form.Get("To"))
	assert.Equal(t, "+15550000001", form.Get("From"))
	assert.Contains(t, form.Get("Twiml"), "Severity High")
	assert.Contains(t, form.Get("Twiml"), "location sent to your email")
}

func TestVoiceChannelRejected(t *testing.T) {
	mt := httpmock.NewMockTransport()
	mt.RegisterResponder(http.MethodPost, "=~/Calls.json$",
		httpmock.NewStringResponder(http.StatusBadRequest, `{"message":"invalid To"}`))

	ch := NewVoiceChannel("https://twilio.test/", "AC1", "tok", "+1", "+2", &http.Client{Transport: mt})
	err := ch.Send(context.Background(), sampleAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestVoiceTwiMLEscapes(t *testing.T) {
	twiml := VoiceTwiML("High <&>", types.NoLocationURL)
	assert.Contains(t, twiml, "High &lt;&amp;&gt;")
	assert.Contains(t, twiml, "location unavailable")
}

func TestEmailChannelAttachesEvidence(t *testing.T) {
	dir := t.TempDir()
	evidence := filepath.Join(dir, "fire_20260301_123000.jpg")
	require.NoError(t, os.WriteFile(evidence, []byte{0xff, 0xd8, 0xff, 0xd9}, 0o644))

	mt := httpmock.NewMockTransport()
	var payload map[string]any
	mt.RegisterResponder(http.MethodPost, "https://api.resend.com/emails",
		func(req *http.Request) (*http.Response, error) {
			_ = json.NewDecoder(req.Body).Decode(&payload)
			return httpmock.NewStringResponse(http.StatusOK, `{"id":"49a3999c-0ce1-4ea6-ab68-afcd6dc2e794"}`), nil
		})

	ch := NewEmailChannel("re_test", "alerts@flaresense.dev", []string{"ops@flaresense.dev"}, &http.Client{Transport: mt})
	a := sampleAlert()
	a.EvidenceRef = evidence
	require.NoError(t, ch.Send(context.Background(), a))

	require.Equal(t, 1, mt.GetTotalCallCount())
	assert.Equal(t, Title, payload["subject"])
	assert.Contains(t, payload["html"], "maps.google.com")
	attachments, ok := payload["attachments"].([]any)
	require.True(t, ok)
	require.Len(t, attachments, 1)
	assert.Equal(t, "fire_20260301_123000.jpg", attachments[0].(map[string]any)["filename"])
}

func TestEmailChannelMissingEvidence(t *testing.T) {
	ch := NewEmailChannel("re_test", "a@b.c", []string{"d@e.f"}, &http.Client{Transport: httpmock.NewMockTransport()})
	a := sampleAlert()
	a.EvidenceRef = filepath.Join(t.TempDir(), "gone.jpg")
	assert.Error(t, ch.Send(context.Background(), a))
}

func TestMQTTMessage(t *testing.T) {
	msg := alertMessage(sampleAlert())
	assert.Equal(t, "HIGH", msg.Severity)
	require.NotNil(t, msg.Latitude)
	assert.Equal(t, 12.97, *msg.Latitude)
	assert.Equal(t, int64(1772368200), msg.Timestamp)

	a := sampleAlert()
	a.Location = nil
	assert.Nil(t, alertMessage(a).Longitude)
}

func TestPushChannelRejectsBadURL(t *testing.T) {
	ch := NewPushChannel([]string{"not a url"}, time.Second)
	assert.True(t, ch.Enabled())
	assert.Error(t, ch.Validate())
}

type recordingPlayer struct {
	clips []*PCM
}

func (p *recordingPlayer) Play(_ context.Context, clip *PCM) error {
	p.clips = append(p.clips, clip)
	return nil
}

func writeWAV(t *testing.T, path string, samples []int) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Data:           samples,
		Format:         &audio.Format{SampleRate: 8000, NumChannels: 1},
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestSoundChannelDecodesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alarm.wav")
	writeWAV(t, path, []int{0, 1000, -1000, 32767})

	player := &recordingPlayer{}
	ch := NewSoundChannel(true, path, player)
	require.True(t, ch.Enabled())
	require.NoError(t, ch.Send(context.Background(), sampleAlert()))
	require.NoError(t, ch.Send(context.Background(), sampleAlert()))

	require.Len(t, player.clips, 2)
	assert.Same(t, player.clips[0], player.clips[1])
	clip := player.clips[0]
	assert.Equal(t, 8000, clip.SampleRate)
	assert.Equal(t, 1, clip.Channels)
	assert.Equal(t, []byte{0x00, 0x00, 0xe8, 0x03, 0x18, 0xfc, 0xff, 0x7f}, clip.Data)
}

func TestSoundChannelMissingFile(t *testing.T) {
	ch := NewSoundChannel(true, filepath.Join(t.TempDir(), "none.wav"), &recordingPlayer{})
	assert.Error(t, ch.Send(context.Background(), sampleAlert()))
}
