package notify

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/wav"

	"github.com/flaresense/detection-server/internal/logger"
)

// PCM is a decoded clip as interleaved signed 16-bit little-endian samples.
type PCM struct {
	SampleRate int
	Channels   int
	Data       []byte
}

// LoadWAV decodes a 16, 24 or 32-bit WAV file into PCM.
func LoadWAV(path string) (*PCM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, errors.New("invalid WAV file format")
	}
	if decoder.NumChans != 1 && decoder.NumChans != 2 {
		return nil, fmt.Errorf("unsupported number of channels: %d", decoder.NumChans)
	}

	var shift uint
	switch decoder.BitDepth {
	case 16:
		shift = 0
	case 24:
		shift = 8
	case 32:
		shift = 16
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	data := make([]byte, len(buf.Data)*2)
	for i, s := range buf.Data {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(s>>shift)))
	}
	return &PCM{SampleRate: int(decoder.SampleRate), Channels: int(decoder.NumChans), Data: data}, nil
}

// Player plays a PCM clip to completion.
type Player interface {
	Play(ctx context.Context, clip *PCM) error
}

// MalgoPlayer plays through the default output device.
type MalgoPlayer struct{}

// Play blocks until the clip has been rendered or ctx is done.
func (MalgoPlayer) Play(ctx context.Context, clip *PCM) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("audio context init failed: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(clip.Channels)
	cfg.SampleRate = uint32(clip.SampleRate)

	done := make(chan struct{})
	var once sync.Once
	var offset int
	frameBytes := 2 * clip.Channels

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			n := copy(out, clip.Data[offset:])
			offset += n
			for i := n; i < len(out) && i < int(frameCount)*frameBytes; i++ {
				out[i] = 0
			}
			if offset >= len(clip.Data) {
				once.Do(func() { close(done) })
			}
		},
		Stop: func() {
			once.Do(func() { close(done) })
		},
	}

	device, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("playback device init failed: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("playback start failed: %w", err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	_ = device.Stop()
	return ctx.Err()
}

// SoundChannel sounds the local alarm.
type SoundChannel struct {
	enabled bool
	path    string
	player  Player

	mu   sync.Mutex
	clip *PCM
}

// NewSoundChannel creates the alarm channel. A nil player uses MalgoPlayer.
func NewSoundChannel(enabled bool, path string, player Player) *SoundChannel {
	if player == nil {
		player = MalgoPlayer{}
	}
	return &SoundChannel{enabled: enabled, path: path, player: player}
}

func (s *SoundChannel) Name() string  { return "sound" }
func (s *SoundChannel) Enabled() bool { return s.enabled && s.path != "" }

// Send plays the alarm clip once, decoding it on first use.
func (s *SoundChannel) Send(ctx context.Context, _ Alert) error {
	if !s.Enabled() {
		return ErrNotConfigured
	}
	clip, err := s.load()
	if err != nil {
		return err
	}
	logger.Debug("Sound", "Playing alarm %s (%d Hz, %d ch)", s.path, clip.SampleRate, clip.Channels)
	return s.player.Play(ctx, clip)
}

func (s *SoundChannel) load() (*PCM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clip != nil {
		return s.clip, nil
	}
	clip, err := LoadWAV(s.path)
	if err != nil {
		return nil, err
	}
	s.clip = clip
	return clip, nil
}
