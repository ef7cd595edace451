package evidence

import (
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 32, 24))
	for i := 0; i < 32; i++ {
		img.Set(i, i%24, color.RGBA{R: 255, A: 255})
	}
	return img
}

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 30, 5, 0, time.Local))
	s, err := NewStore(filepath.Join(t.TempDir(), "evidence"), 90, clk)
	require.NoError(t, err)
	return s, clk
}

func TestSaveNamesByTimestamp(t *testing.T) {
	s, _ := newTestStore(t)

	path, err := s.Save(testImage())
	require.NoError(t, err)
	assert.Equal(t, "fire_20260301_123005.jpg", filepath.Base(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 24), img.Bounds())
}

func TestSaveSameSecondDoesNotOverwrite(t *testing.T) {
	s, clk := newTestStore(t)

	first, err := s.Save(testImage())
	require.NoError(t, err)
	second, err := s.Save(testImage())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "fire_20260301_123005_1.jpg", filepath.Base(second))

	clk.Add(time.Second)
	third, err := s.Save(testImage())
	require.NoError(t, err)
	assert.Equal(t, "fire_20260301_123006.jpg", filepath.Base(third))
}

func TestOpen(t *testing.T) {
	s, _ := newTestStore(t)
	path, err := s.Save(testImage())
	require.NoError(t, err)

	for _, name := range []string{filepath.Base(path), path} {
		rc, info, err := s.Open(name)
		require.NoError(t, err, name)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		assert.Equal(t, info.Size(), int64(len(data)))
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"", "../secret.txt", "a/b.jpg", ".hidden"} {
		_, _, err := s.Open(name)
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
	_, _, err := s.Open("fire_19990101_000000.jpg")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
