// Package portaudio captures microphone audio through PortAudio.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/MrWong99/voxfill/pkg/audio"
	"github.com/MrWong99/voxfill/pkg/types"
)

const (
	DefaultSampleRate      = 16000
	DefaultFramesPerBuffer = 320 // 20 ms at 16 kHz
)

var _ audio.Source = (*Microphone)(nil)

// Config selects the capture device and format.
type Config struct {
	// Device is the input device name. Empty or "default" uses the system
	// default input.
	Device string

	SampleRate      int
	Channels        int
	FramesPerBuffer int
}

// Microphone is an audio.Source backed by a PortAudio input device.
type Microphone struct {
	cfg Config
}

// New returns a Microphone. No device is opened until Open is called.
func New(cfg Config) *Microphone {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return &Microphone{cfg: cfg}
}

// Open initialises PortAudio and starts a blocking input stream. A missing
// input device is reported as audio.ErrNoDevice.
func (m *Microphone) Open(ctx context.Context) (audio.Stream, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}

	buf := make([]int16, m.cfg.FramesPerBuffer*m.cfg.Channels)
	stream, err := m.openStream(buf)
	if err != nil {
		_ = pa.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("portaudio: start stream: %w", err)
	}

	s := &micStream{
		stream: stream,
		buf:    buf,
		format: audio.Format{SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels},
		frames: make(chan types.AudioFrame, 64),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.readLoop(ctx)

	slog.Info("portaudio: capture started", "device", m.deviceLabel(), "format", s.format)
	return s, nil
}

func (m *Microphone) deviceLabel() string {
	if m.cfg.Device == "" {
		return "default"
	}
	return m.cfg.Device
}

func (m *Microphone) openStream(buf []int16) (*pa.Stream, error) {
	if m.cfg.Device == "" || m.cfg.Device == "default" {
		dev, err := pa.DefaultInputDevice()
		if err != nil || dev == nil {
			return nil, fmt.Errorf("portaudio: default input: %w", errors.Join(err, audio.ErrNoDevice))
		}
		return openOn(dev, m.cfg, buf)
	}

	devices, err := pa.Devices()
	if err != nil {
		return nil, fmt.Errorf("portaudio: list devices: %w", err)
	}
	dev := findInput(devices, m.cfg.Device)
	if dev == nil {
		return nil, fmt.Errorf("portaudio: device %q: %w", m.cfg.Device, audio.ErrNoDevice)
	}
	return openOn(dev, m.cfg, buf)
}

func openOn(dev *pa.DeviceInfo, cfg Config, buf []int16) (*pa.Stream, error) {
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.FramesPerBuffer,
	}
	stream, err := pa.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open stream on %q: %w", dev.Name, err)
	}
	return stream, nil
}

// findInput returns the first device named name that has input channels.
func findInput(devices []*pa.DeviceInfo, name string) *pa.DeviceInfo {
	for _, d := range devices {
		if d != nil && d.Name == name && d.MaxInputChannels > 0 {
			return d
		}
	}
	return nil
}

type micStream struct {
	stream *pa.Stream
	buf    []int16
	format audio.Format
	frames chan types.AudioFrame

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func (s *micStream) Frames() <-chan types.AudioFrame { return s.frames }

func (s *micStream) Format() audio.Format { return s.format }

func (s *micStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = errors.Join(s.stream.Stop(), s.stream.Close(), pa.Terminate())
	})
	return err
}

// readLoop performs blocking reads until the stream is closed. Input overflow
// is not fatal; any other read error ends the stream.
func (s *micStream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.frames)

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		if err := s.stream.Read(); err != nil {
			if errors.Is(err, pa.InputOverflowed) {
				continue
			}
			slog.Warn("portaudio: read failed, stopping capture", "err", err)
			return
		}

		frame := types.AudioFrame{
			Data:       audio.Int16ToPCM(s.buf),
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  time.Since(start),
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		case <-ctx.Done():
			return
		default:
			// Consumer is behind; drop rather than stall the device.
		}
	}
}
