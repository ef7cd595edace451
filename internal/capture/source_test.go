package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flaresense/detection-server/pkg/types"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}))
	return buf.Bytes()
}

func TestJPEGSplitter(t *testing.T) {
	a := encodeJPEG(t, 16, 8, color.RGBA{R: 255, A: 255})
	b := encodeJPEG(t, 32, 24, color.RGBA{B: 255, A: 255})

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x01}) // leading garbage
	stream.Write(a)
	stream.Write(b)

	split := NewJPEGSplitter(&stream)

	first, err := split.Next()
	require.NoError(t, err)
	assert.Equal(t, a, first)
	img, err := jpeg.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dx())

	second, err := split.Next()
	require.NoError(t, err)
	img, err = jpeg.Decode(bytes.NewReader(second))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	_, err = split.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestJPEGSplitterTruncated(t *testing.T) {
	a := encodeJPEG(t, 16, 8, color.White)
	split := NewJPEGSplitter(bytes.NewReader(a[:len(a)/2]))
	_, err := split.Next()
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// withThumbnail inserts an APP1 segment carrying a whole JPEG after SOI.
func withThumbnail(main, thumb []byte) []byte {
	payload := append([]byte("Exif\x00\x00"), thumb...)
	n := len(payload) + 2

	out := append([]byte{}, main[:2]...)
	out = append(out, 0xFF, 0xE1, byte(n>>8), byte(n))
	out = append(out, payload...)
	return append(out, main[2:]...)
}

func TestJPEGSplitterSkipsEmbeddedThumbnail(t *testing.T) {
	thumb := encodeJPEG(t, 8, 8, color.White)
	a := withThumbnail(encodeJPEG(t, 40, 30, color.RGBA{G: 255, A: 255}), thumb)
	b := encodeJPEG(t, 24, 16, color.Black)

	split := NewJPEGSplitter(bytes.NewReader(append(append([]byte{}, a...), b...)))

	first, err := split.Next()
	require.NoError(t, err)
	assert.Equal(t, a, first)
	img, err := jpeg.Decode(bytes.NewReader(first))
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())

	second, err := split.Next()
	require.NoError(t, err)
	assert.Equal(t, b, second)
}

func TestDecodeLoopKeepsNewest(t *testing.T) {
	var stream bytes.Buffer
	for i := 0; i < 3; i++ {
		stream.Write(encodeJPEG(t, 8+8*i, 8, color.Gray{Y: 128}))
	}

	s := NewFFmpegSource(Options{Input: "test"}, nil)
	out := make(chan *types.Frame, 1)
	s.decodeLoop(context.Background(), &stream, out)

	require.Len(t, out, 1)
	f := <-out
	assert.Equal(t, uint64(3), f.FrameNum)
	assert.Equal(t, 24, f.Width)
	assert.Equal(t, 8, f.Height)
	assert.NotNil(t, f.Gray)
}

func TestReadClosedSource(t *testing.T) {
	s := NewFFmpegSource(Options{Input: "test"}, nil)
	_, err := s.Read(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
	assert.NoError(t, s.Close())
}

func TestFFmpegArgs(t *testing.T) {
	s := NewFFmpegSource(Options{Input: "/dev/video0", Format: "v4l2", Width: 640, Height: 480, FPS: 15}, nil)
	in := s.inputArgs()
	assert.Equal(t, "v4l2", in["f"])
	assert.Equal(t, "640x480", in["video_size"])

	out := s.outputArgs()
	assert.Equal(t, "image2pipe", out["format"])
	assert.Equal(t, "mjpeg", out["vcodec"])
	assert.Equal(t, "640x480", out["s"])
	assert.Equal(t, "15", out["r"])

	rtsp := NewFFmpegSource(Options{Input: "rtsp://cam/stream", Width: 320, Height: 240, FPS: 10}, nil)
	assert.Empty(t, rtsp.inputArgs())
}
