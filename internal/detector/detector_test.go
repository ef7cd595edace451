package detector

import (
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaresense/detection-server/pkg/types"
)

func TestFilter(t *testing.T) {
	boxes := []types.DetectionBox{
		{Label: "fire", Confidence: 0.31},
		{Label: "Fire", Confidence: 0.9},
		{Label: "fire", Confidence: 0.30},
		{Label: "smoke", Confidence: 0.95},
	}
	got := Filter(boxes, "fire", 0.30)
	require.Len(t, got, 2)
	assert.Equal(t, 0.31, got[0].Confidence)
	assert.Equal(t, 0.9, got[1].Confidence)
	assert.Len(t, boxes, 4)
}

func TestHTTPClientDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "image/jpeg", r.Header.Get("Content-Type"))
		img, err := jpeg.Decode(r.Body)
		if assert.NoError(t, err) {
			assert.Equal(t, image.Rect(0, 0, 64, 48), img.Bounds())
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"detections":[
			{"x1":10.7,"y1":5.2,"x2":40.9,"y2":30.1,"confidence":0.82,"label":"fire"},
			{"x1":0,"y1":0,"x2":5,"y2":5,"confidence":0.25,"label":"fire"},
			{"x1":0,"y1":0,"x2":9,"y2":9,"confidence":0.99,"label":"person"}
		]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, "fire", 0.30)
	frame := types.NewFrame(image.NewRGBA(image.Rect(0, 0, 64, 48)), 1, time.Now())

	boxes, err := c.Detect(context.Background(), frame)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	assert.Equal(t, types.DetectionBox{X1: 10, Y1: 5, X2: 40, Y2: 30, Confidence: 0.82, Label: "fire"}, boxes[0])
}

func TestHTTPClientServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, "fire", 0.30)
	_, err := c.Detect(context.Background(), types.NewFrame(image.NewGray(image.Rect(0, 0, 8, 8)), 1, time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPClientBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, "fire", 0.30)
	_, err := c.Detect(context.Background(), types.NewFrame(image.NewGray(image.Rect(0, 0, 8, 8)), 1, time.Now()))
	assert.Error(t, err)
}
