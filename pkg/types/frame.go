package types

import (
	"image"
	"image/draw"
	"time"
)

// Frame is one decoded camera frame with metadata
type Frame struct {
	Color     image.Image // Decoded color frame (display, evidence, geometry)
	Gray      *image.Gray // Luma plane used for optical flow
	Timestamp time.Time   // Frame capture timestamp
	FrameNum  uint64      // Sequential frame number
	Width     int         // Frame width
	Height    int         // Frame height
}

// NewFrame wraps a decoded image and derives its grayscale plane
func NewFrame(img image.Image, frameNum uint64, ts time.Time) *Frame {
	b := img.Bounds()
	return &Frame{
		Color:     img,
		Gray:      ToGray(img),
		Timestamp: ts,
		FrameNum:  frameNum,
		Width:     b.Dx(),
		Height:    b.Dy(),
	}
}

// ToGray converts img to an 8-bit luma image anchored at (0,0).
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// DetectionBox is one detector-reported candidate for a single frame
type DetectionBox struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Confidence float64 `json:"confidence"`
	Label      string  `json:"label"`
}

// Area returns the box area, zero for inverted boxes
func (b DetectionBox) Area() int {
	w, h := b.X2-b.X1, b.Y2-b.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Rect returns the box as an image rectangle
func (b DetectionBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// Clamp limits the box to [0,width) x [0,height) in the same way a
// slice bound would, so x2/y2 may equal width/height.
func (b DetectionBox) Clamp(width, height int) DetectionBox {
	b.X1 = clampInt(b.X1, 0, width)
	b.Y1 = clampInt(b.Y1, 0, height)
	b.X2 = clampInt(b.X2, 0, width)
	b.Y2 = clampInt(b.Y2, 0, height)
	return b
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
