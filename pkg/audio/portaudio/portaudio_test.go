package portaudio

import (
	"testing"

	pa "github.com/gordonklaus/portaudio"
)

func TestNew_Defaults(t *testing.T) {
	m := New(Config{})
	if m.cfg.SampleRate != DefaultSampleRate {
		t.Errorf("SampleRate = %d, want %d", m.cfg.SampleRate, DefaultSampleRate)
	}
	if m.cfg.Channels != 1 {
		t.Errorf("Channels = %d, want 1", m.cfg.Channels)
	}
	if m.cfg.FramesPerBuffer != DefaultFramesPerBuffer {
		t.Errorf("FramesPerBuffer = %d, want %d", m.cfg.FramesPerBuffer, DefaultFramesPerBuffer)
	}
	if m.deviceLabel() != "default" {
		t.Errorf("deviceLabel = %q, want default", m.deviceLabel())
	}
}

func TestFindInput(t *testing.T) {
	devices := []*pa.DeviceInfo{
		{Name: "Speakers", MaxOutputChannels: 2},
		nil,
		{Name: "USB Mic", MaxInputChannels: 0},
		{Name: "USB Mic", MaxInputChannels: 1},
	}
	if d := findInput(devices, "USB Mic"); d != devices[3] {
		t.Errorf("findInput picked %+v, want the input-capable USB Mic", d)
	}
	if d := findInput(devices, "Speakers"); d != nil {
		t.Errorf("output-only device should not match, got %+v", d)
	}
	if d := findInput(devices, "missing"); d != nil {
		t.Errorf("expected nil for unknown device, got %+v", d)
	}
}
