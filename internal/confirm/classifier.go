package confirm

import "github.com/flaresense/detection-server/pkg/types"

const (
	DefaultMediumCoverage = 2.0
	DefaultHighCoverage   = 15.0
)

// Classifier grades a box by how much of the frame it covers.
type Classifier struct {
	MediumCoverage float64 // percent, strictly above grades Medium
	HighCoverage   float64 // percent, strictly above grades High
}

// DefaultClassifier uses the 2% / 15% boundaries.
func DefaultClassifier() Classifier {
	return Classifier{MediumCoverage: DefaultMediumCoverage, HighCoverage: DefaultHighCoverage}
}

// Coverage returns the box area as a percentage of the frame area.
func Coverage(box types.DetectionBox, frameWidth, frameHeight int) float64 {
	frameArea := frameWidth * frameHeight
	if frameArea <= 0 {
		return 0
	}
	return float64(box.Area()) * 100 / float64(frameArea)
}

// Classify returns the severity grade for box. A zero-area frame grades Low.
func (c Classifier) Classify(box types.DetectionBox, frameWidth, frameHeight int) types.Severity {
	coverage := Coverage(box, frameWidth, frameHeight)
	switch {
	case coverage > c.HighCoverage:
		return types.SeverityHigh
	case coverage > c.MediumCoverage:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}
