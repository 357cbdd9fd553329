package audio

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/voxfill/pkg/types"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// Converter turns captured frames into the mono format a recognizer expects.
// Only mono targets are supported. Create one per stream.
type Converter struct {
	Target Format

	warnOnce sync.Once
	badOnce  sync.Once
}

// Convert down-mixes to mono and then resamples to the target rate. Frames
// already in the target format are returned unchanged. Frames with an odd
// byte count are dropped (nil Data).
func (c *Converter) Convert(frame types.AudioFrame) types.AudioFrame {
	if len(frame.Data)%2 != 0 {
		c.badOnce.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping frame", "bytes", len(frame.Data))
		})
		return types.AudioFrame{SampleRate: c.Target.SampleRate, Channels: 1, Timestamp: frame.Timestamp}
	}
	if frame.SampleRate == c.Target.SampleRate && frame.Channels == 1 {
		return frame
	}
	c.warnOnce.Do(func() {
		slog.Info("audio: converting capture format",
			"from", Format{frame.SampleRate, frame.Channels},
			"to", Format{c.Target.SampleRate, 1},
		)
	})

	pcm := ToMono(frame.Data, frame.Channels)
	pcm = ResampleMono16(pcm, frame.SampleRate, c.Target.SampleRate)
	return types.AudioFrame{
		Data:       pcm,
		SampleRate: c.Target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

// ConvertStream wraps in with a conversion goroutine. The returned channel is
// closed when in closes; empty frames are dropped.
func ConvertStream(in <-chan types.AudioFrame, target Format) <-chan types.AudioFrame {
	out := make(chan types.AudioFrame, cap(in))
	go func() {
		defer close(out)
		conv := Converter{Target: target}
		for frame := range in {
			converted := conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			out <- converted
		}
	}()
	return out
}

// ToMono averages interleaved 16-bit channels into one. Mono input is
// returned unchanged. The sum is clamped to the int16 range.
func ToMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		v := clamp16(sum / int32(channels))
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	n := len(pcm) / 2
	dst := int(int64(n) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	sample := func(i int) int16 { return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8 }

	out := make([]byte, dst*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < n {
			s1 = sample(idx + 1)
		}
		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// Int16ToPCM encodes samples as 16-bit little-endian bytes.
func Int16ToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func clamp16(v int32) int16 {
	return int16(min(max(v, -32768), 32767))
}
