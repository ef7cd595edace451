package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaresense/detection-server/internal/confirm"
	"github.com/flaresense/detection-server/pkg/types"
)

func solid(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "HIGH 0.82", Label(confirm.Verdict{Class: types.ClassRealFire, Severity: types.SeverityHigh, Confidence: 0.82}))
	assert.Equal(t, "STATIC (FAKE) 0.00", Label(confirm.Verdict{Class: types.ClassStatic, Severity: types.SeverityLow}))
	assert.Equal(t, "SHAKING (FAKE) 0.00", Label(confirm.Verdict{Class: types.ClassShaking, Severity: types.SeverityMedium}))
	assert.Equal(t, "LOW 0.40", Label(confirm.Verdict{Class: types.ClassUnverified, Severity: types.SeverityLow, Confidence: 0.4}))
}

func TestBoxColor(t *testing.T) {
	assert.Equal(t, colorHigh, BoxColor(confirm.Verdict{Class: types.ClassRealFire, Severity: types.SeverityHigh}))
	assert.Equal(t, colorMedium, BoxColor(confirm.Verdict{Class: types.ClassRealFire, Severity: types.SeverityMedium}))
	assert.Equal(t, colorLow, BoxColor(confirm.Verdict{Class: types.ClassRealFire, Severity: types.SeverityLow}))
	assert.Equal(t, colorStatic, BoxColor(confirm.Verdict{Class: types.ClassStatic, Severity: types.SeverityHigh}))
	assert.Equal(t, colorShaking, BoxColor(confirm.Verdict{Class: types.ClassShaking, Severity: types.SeverityHigh}))
}

func TestAnnotateLeavesSourceUntouched(t *testing.T) {
	src := solid(100, 80, color.Black)
	res := confirm.Result{
		Verdicts: []confirm.Verdict{{
			Box:        types.DetectionBox{X1: 20, Y1: 30, X2: 60, Y2: 70},
			Class:      types.ClassRealFire,
			Severity:   types.SeverityHigh,
			Confidence: 0.9,
			Confirmed:  true,
		}},
		Confirmed: 1,
	}

	out := Annotate(src, res)
	require.Equal(t, src.Bounds(), out.Bounds())
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, src.RGBAAt(40, 50))

	// Inside the box the translucent red fill shows.
	r, g, b, _ := out.At(40, 50).RGBA()
	assert.Greater(t, r>>8, uint32(50))
	assert.Less(t, g>>8, uint32(10))
	assert.Less(t, b>>8, uint32(10))

	// Outside stays black.
	r, g, b, _ = out.At(90, 5).RGBA()
	assert.Zero(t, r|g|b)
}

func TestAnnotateDecoyHasNoFill(t *testing.T) {
	src := solid(100, 80, color.Black)
	res := confirm.Result{
		Verdicts: []confirm.Verdict{{
			Box:      types.DetectionBox{X1: 20, Y1: 30, X2: 60, Y2: 70},
			Class:    types.ClassStatic,
			Severity: types.SeverityHigh,
		}},
	}
	out := Annotate(src, res)
	r, g, b, _ := out.At(40, 50).RGBA()
	assert.Zero(t, r|g|b)
}

func TestPlaceholderJPEG(t *testing.T) {
	data, err := PlaceholderJPEG()
	require.NoError(t, err)
	again, err := PlaceholderJPEG()
	require.NoError(t, err)
	assert.Equal(t, &data[0], &again[0])

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, PlaceholderWidth, PlaceholderHeight), img.Bounds())
}
