// Package capture acquires camera frames through ffmpeg.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"strconv"
	"sync"

	"github.com/benbjohnson/clock"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/pkg/types"
)

// ErrNoFrame is returned when the source has no more frames to give.
var ErrNoFrame = errors.New("capture: no frame available")

// Source is a camera handle that can be released and re-acquired.
type Source interface {
	Open(ctx context.Context) error
	Read(ctx context.Context) (*types.Frame, error)
	Close() error
}

// Options describes the ffmpeg input.
type Options struct {
	Input  string
	Format string
	Width  int
	Height int
	FPS    int
}

// FFmpegSource runs ffmpeg with an MJPEG pipe output and decodes frames from it.
type FFmpegSource struct {
	opts  Options
	clock clock.Clock

	mu       sync.Mutex
	cancel   context.CancelFunc
	frames   chan *types.Frame
	done     chan struct{}
	runErr   error
	frameNum uint64
}

// NewFFmpegSource creates a closed source. Call Open to start capturing.
func NewFFmpegSource(opts Options, clk clock.Clock) *FFmpegSource {
	if clk == nil {
		clk = clock.New()
	}
	return &FFmpegSource{opts: opts, clock: clk}
}

func (s *FFmpegSource) inputArgs() ffmpeg.KwArgs {
	args := ffmpeg.KwArgs{}
	if s.opts.Format != "" {
		args["f"] = s.opts.Format
	}
	if s.opts.Format == "v4l2" {
		args["video_size"] = fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height)
		args["framerate"] = strconv.Itoa(s.opts.FPS)
	}
	return args
}

func (s *FFmpegSource) outputArgs() ffmpeg.KwArgs {
	return ffmpeg.KwArgs{
		"format": "image2pipe",
		"vcodec": "mjpeg",
		"s":      fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height),
		"r":      strconv.Itoa(s.opts.FPS),
		"q:v":    "3",
	}
}

// Open starts the ffmpeg process. Opening an open source is a no-op.
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	frames := make(chan *types.Frame, 1)
	done := make(chan struct{})

	stream := ffmpeg.Input(s.opts.Input, s.inputArgs()).Output("pipe:", s.outputArgs())
	stream.Context = runCtx

	var stderr bytes.Buffer
	go func() {
		err := stream.WithOutput(pw).WithErrorOutput(&stderr).Run()
		if err != nil && runCtx.Err() == nil {
			logger.Warn("Capture", "ffmpeg exited: %v: %s", err, lastLine(stderr.Bytes()))
		}
		s.mu.Lock()
		s.runErr = err
		s.mu.Unlock()
		pw.CloseWithError(io.EOF)
	}()

	go func() {
		defer close(done)
		defer close(frames)
		s.decodeLoop(runCtx, pr, frames)
	}()

	s.cancel = cancel
	s.frames = frames
	s.done = done
	s.runErr = nil
	logger.Info("Capture", "Opened %s (%dx%d @ %dfps)", s.opts.Input, s.opts.Width, s.opts.Height, s.opts.FPS)
	return nil
}

func (s *FFmpegSource) decodeLoop(ctx context.Context, r io.Reader, out chan *types.Frame) {
	split := NewJPEGSplitter(r)
	for {
		data, err := split.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug("Capture", "stream read ended: %v", err)
			}
			return
		}
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			logger.Debug("Capture", "dropping undecodable frame: %v", err)
			continue
		}

		s.mu.Lock()
		s.frameNum++
		num := s.frameNum
		s.mu.Unlock()

		frame := types.NewFrame(img, num, s.clock.Now())
		// Keep only the newest frame when the consumer falls behind.
		select {
		case <-out:
		default:
		}
		select {
		case out <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// Read blocks until the next frame. It returns ErrNoFrame when the source is
// closed or the stream ended.
func (s *FFmpegSource) Read(ctx context.Context) (*types.Frame, error) {
	s.mu.Lock()
	frames := s.frames
	s.mu.Unlock()
	if frames == nil {
		return nil, ErrNoFrame
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-frames:
		if !ok {
			s.mu.Lock()
			runErr := s.runErr
			s.mu.Unlock()
			if runErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrNoFrame, runErr)
			}
			return nil, ErrNoFrame
		}
		return f, nil
	}
}

// Close stops ffmpeg and releases the device.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.frames, s.done = nil, nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	logger.Info("Capture", "Released %s", s.opts.Input)
	return nil
}

func lastLine(b []byte) string {
	b = bytes.TrimRight(b, "\r\n")
	if i := bytes.LastIndexAny(b, "\r\n"); i >= 0 {
		b = b[i+1:]
	}
	return string(b)
}

// JPEGSplitter cuts a concatenated MJPEG byte stream into single JPEG images.
// It walks marker segments by their length fields, so payloads such as EXIF
// thumbnails never end an image early.
type JPEGSplitter struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

func NewJPEGSplitter(r io.Reader) *JPEGSplitter {
	return &JPEGSplitter{r: bufio.NewReaderSize(r, 64*1024)}
}

const (
	markerSOS = 0xDA
	markerEOI = 0xD9
)

// Next returns the next complete image. The returned slice is only valid
// until the following call.
func (j *JPEGSplitter) Next() ([]byte, error) {
	j.buf.Reset()

	// Seek to SOI (FF D8).
	var prev byte
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if prev == 0xFF && b == 0xD8 {
			break
		}
		prev = b
	}
	j.buf.Write([]byte{0xFF, 0xD8})

	marker, err := j.nextMarker()
	for {
		if err != nil {
			return nil, truncated(err)
		}
		j.buf.Write([]byte{0xFF, marker})

		switch {
		case marker == markerEOI:
			return j.buf.Bytes(), nil
		case standalone(marker):
			marker, err = j.nextMarker()
		case marker == markerSOS:
			if err = j.copySegment(); err == nil {
				marker, err = j.copyScan()
			}
		default:
			if err = j.copySegment(); err == nil {
				marker, err = j.nextMarker()
			}
		}
	}
}

// nextMarker skips to the next FF xx pair and returns xx.
func (j *JPEGSplitter) nextMarker() (byte, error) {
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			continue
		}
		for b == 0xFF {
			if b, err = j.r.ReadByte(); err != nil {
				return 0, err
			}
		}
		if b != 0x00 {
			return b, nil
		}
	}
}

// copySegment copies a length-prefixed segment body, length included.
func (j *JPEGSplitter) copySegment() error {
	var size [2]byte
	if _, err := io.ReadFull(j.r, size[:]); err != nil {
		return err
	}
	j.buf.Write(size[:])
	n := int64(size[0])<<8 | int64(size[1])
	if n < 2 {
		return fmt.Errorf("invalid jpeg segment length %d", n)
	}
	_, err := io.CopyN(&j.buf, j.r, n-2)
	return err
}

// copyScan copies entropy-coded data and returns the marker that ends it.
// Stuffed zeros and restart markers belong to the scan.
func (j *JPEGSplitter) copyScan() (byte, error) {
	for {
		b, err := j.r.ReadByte()
		if err != nil {
			return 0, err
		}
		if b != 0xFF {
			j.buf.WriteByte(b)
			continue
		}
		for b == 0xFF {
			if b, err = j.r.ReadByte(); err != nil {
				return 0, err
			}
		}
		if b == 0x00 || (b >= 0xD0 && b <= 0xD7) {
			j.buf.Write([]byte{0xFF, b})
			continue
		}
		return b, nil
	}
}

// standalone reports markers that carry no length field.
func standalone(m byte) bool {
	return m == 0x01 || (m >= 0xD0 && m <= 0xD7)
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
