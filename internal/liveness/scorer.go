// Package liveness separates burning regions from decoys by looking at how
// coherently a region moves between two consecutive frames.
package liveness

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/montanaflynn/stats"
)

const (
	// SampleSize is the side length regions are resized to before flow.
	SampleSize = 64
	// NoiseFloor drops vectors whose length is at or below it.
	NoiseFloor = 1.0
	// MinMotionPixels is the fewest surviving vectors that count as evidence.
	MinMotionPixels = 10
)

// Scorer computes (chaos, magnitude) for a region of two consecutive frames.
type Scorer struct {
	flow       FlowEstimator
	sampleSize int
	noiseFloor float64
	minPixels  int
}

// Option customizes a Scorer.
type Option func(*Scorer)

// WithFlowEstimator replaces the Farneback estimator.
func WithFlowEstimator(fe FlowEstimator) Option {
	return func(s *Scorer) { s.flow = fe }
}

// WithSampleSize overrides the crop resize target.
func WithSampleSize(n int) Option {
	return func(s *Scorer) { s.sampleSize = n }
}

// NewScorer returns a scorer using Farneback flow with default parameters.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{
		sampleSize: SampleSize,
		noiseFloor: NoiseFloor,
		minPixels:  MinMotionPixels,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.flow == nil {
		s.flow = NewFarneback(DefaultFarnebackParams())
	}
	return s
}

// Score extracts r from both frames and measures its motion. Degenerate or
// mismatched regions and regions with too little motion return (0, 0).
func (s *Scorer) Score(prev, curr *image.Gray, r image.Rectangle) (chaos, magnitude float64) {
	rp := r.Intersect(prev.Bounds())
	rc := r.Intersect(curr.Bounds())
	if rp.Empty() || rc.Empty() || rp.Size() != rc.Size() {
		return 0, 0
	}

	a := s.sample(prev, rp)
	b := s.sample(curr, rc)

	field := s.flow.Flow(a, b)
	if field == nil {
		return 0, 0
	}
	return s.polarStats(field)
}

// sample crops r and resizes it to sampleSize x sampleSize.
func (s *Scorer) sample(src *image.Gray, r image.Rectangle) *image.Gray {
	crop := imaging.Crop(src, r)
	return toGray(imaging.Resize(crop, s.sampleSize, s.sampleSize, imaging.Linear))
}

func (s *Scorer) polarStats(field *FlowField) (float64, float64) {
	angles := make(stats.Float64Data, 0, len(field.DX))
	mags := make(stats.Float64Data, 0, len(field.DX))
	for i := range field.DX {
		dx, dy := field.DX[i], field.DY[i]
		m := math.Hypot(dx, dy)
		if m <= s.noiseFloor {
			continue
		}
		mags = append(mags, m)
		angles = append(angles, Angle(dx, dy))
	}
	if len(mags) < s.minPixels {
		return 0, 0
	}

	chaos, err := stats.StandardDeviationPopulation(angles)
	if err != nil {
		return 0, 0
	}
	magnitude, err := stats.Mean(mags)
	if err != nil {
		return 0, 0
	}
	return chaos, magnitude
}

// Angle returns the direction of (dx, dy) in radians within [0, 2*pi).
// Angles are not unwrapped, so vectors straddling 0 read as widely spread.
func Angle(dx, dy float64) float64 {
	a := math.Atan2(dy, dx)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi {
		a = 0
	}
	return a
}
