package webrtc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaresense/detection-server/internal/notify"
	"github.com/flaresense/detection-server/pkg/types"
)

func TestHandleOfferRejectsBadJSON(t *testing.T) {
	s := NewServer(nil, 2)
	_, err := s.HandleOffer(context.Background(), []byte("{"))
	require.Error(t, err)

	_, err = s.HandleOffer(context.Background(), []byte(`{"type":"offer","sdp":""}`))
	require.Error(t, err)
}

func TestHandleOfferClientLimit(t *testing.T) {
	s := NewServer(nil, 0)
	_, err := s.HandleOffer(context.Background(), []byte(`{"type":"offer","sdp":"v=0"}`))
	assert.ErrorIs(t, err, ErrTooManyClients)
	assert.False(t, s.Enabled())
}

func TestSendWithoutPeers(t *testing.T) {
	s := NewServer(nil, 4)
	assert.True(t, s.Enabled())
	assert.Equal(t, "webrtc", s.Name())
	assert.NoError(t, s.Send(context.Background(), notify.Alert{ID: "x"}))
	assert.Equal(t, 0, s.Broadcast([]byte("{}")))
	assert.NoError(t, s.Close())
}

func TestEncodeAlert(t *testing.T) {
	fired := time.Date(2026, 3, 1, 12, 30, 0, 500_000_000, time.UTC)
	data, err := encodeAlert(notify.Alert{
		ID:         "abc",
		Severity:   types.SeverityHigh,
		Confidence: 0.9,
		Count:      2,
		Zone:       "Camera 1",
		MapURL:     types.NoLocationURL,
		FiredAt:    fired,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "fire_alert", got["type"])
	assert.Equal(t, "High", got["severity"])
	assert.Equal(t, 2.0, got["count"])
	assert.Equal(t, 1772368200.5, got["timestamp"])
	assert.Equal(t, types.NoLocationURL, got["map_url"])
}
