// Package overlay renders confirmation verdicts onto frames for the live view
// and the evidence snapshot.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"

	"github.com/flaresense/detection-server/internal/confirm"
	"github.com/flaresense/detection-server/pkg/types"
)

const (
	fillAlpha   = 0.35
	borderWidth = 2
	labelPad    = 5

	PlaceholderWidth  = 640
	PlaceholderHeight = 480
	PlaceholderText   = "CAMERA OFF"
)

var (
	colorLow     = color.RGBA{0, 255, 0, 255}
	colorMedium  = color.RGBA{255, 165, 0, 255}
	colorHigh    = color.RGBA{255, 0, 0, 255}
	colorStatic  = color.RGBA{0, 0, 255, 255}
	colorShaking = color.RGBA{0, 165, 255, 255}
)

// BoxColor picks the drawing color for one verdict.
func BoxColor(v confirm.Verdict) color.RGBA {
	switch v.Class {
	case types.ClassStatic:
		return colorStatic
	case types.ClassShaking:
		return colorShaking
	}
	switch v.Severity {
	case types.SeverityHigh:
		return colorHigh
	case types.SeverityMedium:
		return colorMedium
	default:
		return colorLow
	}
}

// Label is the text drawn above a box, e.g. "HIGH 0.82" or "STATIC (FAKE) 0.00".
func Label(v confirm.Verdict) string {
	name := v.Severity.String()
	if v.Class.IsDecoy() {
		name = v.Class.String()
	}
	return fmt.Sprintf("%s %.2f", strings.ToUpper(name), v.Confidence)
}

// Annotate draws the verdicts on a copy of img. Boxes get a translucent fill
// only when the frame holds a confirmed fire.
func Annotate(img image.Image, res confirm.Result) image.Image {
	dc := gg.NewContextForImage(img)
	if len(res.Verdicts) == 0 {
		return dc.Image()
	}
	dc.SetFontFace(basicfont.Face7x13)
	ox, oy := float64(img.Bounds().Min.X), float64(img.Bounds().Min.Y)

	if res.Confirmed > 0 {
		for _, v := range res.Verdicts {
			c := BoxColor(v)
			r := v.Box.Rect()
			dc.DrawRectangle(float64(r.Min.X)-ox, float64(r.Min.Y)-oy, float64(r.Dx()), float64(r.Dy()))
			dc.SetRGBA255(int(c.R), int(c.G), int(c.B), int(math.Floor(fillAlpha*255)))
			dc.Fill()
		}
	}

	for _, v := range res.Verdicts {
		c := BoxColor(v)
		r := v.Box.Rect()
		x, y := float64(r.Min.X)-ox, float64(r.Min.Y)-oy

		text := Label(v)
		tw, th := dc.MeasureString(text)
		dc.SetColor(c)
		dc.DrawRectangle(x, y-th-2*labelPad, tw+2*labelPad, th+2*labelPad)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(text, x+labelPad, y-labelPad)

		dc.SetColor(c)
		dc.SetLineWidth(borderWidth)
		dc.DrawRectangle(x, y, float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()
	}
	return dc.Image()
}

// Placeholder renders the frame shown while the camera is switched off.
func Placeholder() image.Image {
	dc := gg.NewContext(PlaceholderWidth, PlaceholderHeight)
	dc.SetColor(color.Black)
	dc.Clear()
	dc.SetFontFace(basicfont.Face7x13)
	dc.SetColor(color.RGBA{100, 100, 100, 255})
	dc.DrawStringAnchored(PlaceholderText, PlaceholderWidth/2, PlaceholderHeight/2, 0.5, 0.5)
	return dc.Image()
}

// EncodeJPEG encodes img for the MJPEG stream.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var (
	placeholderOnce sync.Once
	placeholderJPEG []byte
	placeholderErr  error
)

// PlaceholderJPEG returns the encoded placeholder, rendered once.
func PlaceholderJPEG() ([]byte, error) {
	placeholderOnce.Do(func() {
		placeholderJPEG, placeholderErr = EncodeJPEG(Placeholder(), 75)
	})
	return placeholderJPEG, placeholderErr
}
