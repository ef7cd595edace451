// Package detector talks to the fire object-detection model. The model runs
// as a separate inference service; this package only ships frames to it and
// filters what comes back.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/flaresense/detection-server/pkg/types"
)

// Detector returns candidate boxes for one frame.
type Detector interface {
	Detect(ctx context.Context, frame *types.Frame) ([]types.DetectionBox, error)
}

// Filter keeps boxes labelled label (case-insensitive) whose confidence is
// strictly above minConfidence.
func Filter(boxes []types.DetectionBox, label string, minConfidence float64) []types.DetectionBox {
	out := boxes[:0:0]
	for _, b := range boxes {
		if strings.EqualFold(b.Label, label) && b.Confidence > minConfidence {
			out = append(out, b)
		}
	}
	return out
}

// response is the inference service payload.
type response struct {
	Detections []struct {
		X1         float64 `json:"x1"`
		Y1         float64 `json:"y1"`
		X2         float64 `json:"x2"`
		Y2         float64 `json:"y2"`
		Confidence float64 `json:"confidence"`
		Label      string  `json:"label"`
	} `json:"detections"`
}

// HTTPClient posts JPEG frames to an inference endpoint.
type HTTPClient struct {
	url           string
	client        *http.Client
	label         string
	minConfidence float64
	quality       int
}

// NewHTTPClient creates the long-lived detector handle.
func NewHTTPClient(url string, timeout time.Duration, label string, minConfidence float64) *HTTPClient {
	return &HTTPClient{
		url:           url,
		client:        &http.Client{Timeout: timeout},
		label:         label,
		minConfidence: minConfidence,
		quality:       85,
	}
}

// Detect implements Detector. Only boxes passing Filter are returned.
func (c *HTTPClient) Detect(ctx context.Context, frame *types.Frame) ([]types.DetectionBox, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Color, &jpeg.Options{Quality: c.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode inference response: %w", err)
	}

	boxes := make([]types.DetectionBox, 0, len(payload.Detections))
	for _, d := range payload.Detections {
		boxes = append(boxes, types.DetectionBox{
			X1:         int(math.Trunc(d.X1)),
			Y1:         int(math.Trunc(d.Y1)),
			X2:         int(math.Trunc(d.X2)),
			Y2:         int(math.Trunc(d.Y2)),
			Confidence: d.Confidence,
			Label:      d.Label,
		})
	}
	return Filter(boxes, c.label, c.minConfidence), nil
}
