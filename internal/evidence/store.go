// Package evidence persists the annotated frame of each fired alert.
package evidence

import (
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/flaresense/detection-server/internal/logger"
)

// ErrInvalidName is returned for names that would escape the store directory.
var ErrInvalidName = errors.New("invalid evidence name")

// Store writes evidence JPEGs as <dir>/fire_YYYYMMDD_HHMMSS.jpg.
type Store struct {
	dir     string
	quality int
	clock   clock.Clock
	mu      sync.Mutex
}

// NewStore creates dir if needed. A nil clock uses wall time.
func NewStore(dir string, quality int, clk clock.Clock) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Store{dir: dir, quality: quality, clock: clk}, nil
}

// Dir returns the storage directory.
func (s *Store) Dir() string {
	return s.dir
}

// Save encodes img and returns the path it was written to. Saves within the
// same second get a numeric suffix instead of overwriting.
func (s *Store) Save(img image.Image) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := "fire_" + s.clock.Now().Format("20060102_150405")
	path := filepath.Join(s.dir, base+".jpg")
	var f *os.File
	var err error
	for n := 1; ; n++ {
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("failed to create evidence file: %w", err)
		}
		path = filepath.Join(s.dir, fmt.Sprintf("%s_%d.jpg", base, n))
	}

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.quality}); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to encode evidence: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to write evidence: %w", err)
	}

	logger.Info("Evidence", "Saved %s", path)
	return path, nil
}

// Open returns the stored file called name for serving.
func (s *Store) Open(name string) (io.ReadSeekCloser, os.FileInfo, error) {
	name = strings.TrimPrefix(filepath.ToSlash(name), s.urlPrefix())
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, nil, ErrInvalidName
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrInvalidName
	}
	return f, info, nil
}

// urlPrefix lets callers pass either a bare file name or the stored path.
func (s *Store) urlPrefix() string {
	return filepath.ToSlash(filepath.Clean(s.dir)) + "/"
}
