package webmonitor

import (
	"github.com/flaresense/detection-server/internal/eventlog"
	"github.com/flaresense/detection-server/pkg/types"
)

// StatusPayload mirrors the JSON shape of the Flask /api/status endpoint.
type StatusPayload struct {
	Detected     bool     `json:"detected"`
	Confidence   float64  `json:"confidence"`
	Timestamp    *float64 `json:"timestamp"` // unix seconds of the last confirmed frame
	Location     string   `json:"location"`
	Severity     string   `json:"severity"`
	Count        int      `json:"count"`
	Message      string   `json:"message"`
	CameraActive bool     `json:"camera_active"`
}

func (p StatusPayload) fields() map[string]any {
	var ts any
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	return map[string]any{
		"detected":      p.Detected,
		"confidence":    p.Confidence,
		"timestamp":     ts,
		"location":      p.Location,
		"severity":      p.Severity,
		"count":         p.Count,
		"message":       p.Message,
		"camera_active": p.CameraActive,
	}
}

type locationRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

type locationResponse struct {
	Status   string         `json:"status"`
	Location types.Location `json:"location"`
}

type toggleRequest struct {
	Active *bool `json:"active" validate:"required"`
}

type toggleResponse struct {
	Status       string `json:"status"`
	CameraActive bool   `json:"camera_active"`
}

type analyticsResponse struct {
	Stats  eventlog.Stats       `json:"stats"`
	Events []eventlog.FireEvent `json:"events"`
}

type offerRequest struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}
