package pacing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const bitDepth = 16

// Decode parses WAV audio into mono samples in [-1, 1].
func Decode(data []byte) ([]float64, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return nil, 0, errors.New("invalid wav payload")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, 0, errors.New("wav payload has no sample rate")
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(d.BitDepth)
	}
	if depth == 0 {
		depth = bitDepth
	}
	scale := math.Pow(2, float64(depth-1))

	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		mono[i] = sum / float64(channels) / scale
	}
	return mono, buf.Format.SampleRate, nil
}

// Encode writes mono samples as PCM16 WAV.
func Encode(samples []float64, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	// An empty data chunk does not round-trip through the decoder.
	if len(samples) == 0 {
		samples = []float64{0}
	}
	ints := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		ints[i] = int(math.Round(s * 32767))
	}

	ws := &seekBuffer{}
	enc := wav.NewEncoder(ws, sampleRate, bitDepth, 1, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           ints,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode pcm: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.Bytes(), nil
}

// Duration reports the playback length of WAV audio in seconds.
func Duration(data []byte) (float64, error) {
	samples, rate, err := Decode(data)
	if err != nil {
		return 0, err
	}
	return float64(len(samples)) / float64(rate), nil
}

// Silence returns PCM16 WAV silence of the requested length.
func Silence(durationSec float64, sampleRate int) ([]byte, error) {
	n := samplesFor(durationSec, sampleRate)
	return Encode(make([]float64, n), sampleRate)
}

// Concat joins WAV clips into one track at sampleRate.
func Concat(sampleRate int, clips ...[]byte) ([]byte, error) {
	var out []float64
	for i, c := range clips {
		samples, rate, err := Decode(c)
		if err != nil {
			return nil, fmt.Errorf("clip %d: %w", i, err)
		}
		out = append(out, resample(samples, rate, sampleRate)...)
	}
	return Encode(out, sampleRate)
}

func samplesFor(durationSec float64, sampleRate int) int {
	if durationSec <= 0 {
		return 0
	}
	return int(math.Round(durationSec * float64(sampleRate)))
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	end := s.pos + len(p)
	if end > len(s.buf) {
		if end > cap(s.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, s.buf)
			s.buf = grown
		} else {
			s.buf = s.buf[:end]
		}
	}
	copy(s.buf[s.pos:], p)
	s.pos = end
	return len(p), nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(s.pos) + offset
	case io.SeekEnd:
		abs = int64(len(s.buf)) + offset
	default:
		return 0, errors.New("seekBuffer: invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("seekBuffer: negative position")
	}
	s.pos = int(abs)
	return abs, nil
}

func (s *seekBuffer) Bytes() []byte { return s.buf }
