package state

import (
	"fmt"
	"io"
	"math"
	"os"

	wav "github.com/youpy/go-wav"
)

// LoadWaveform reads the first channel of a WAV file and resamples it to a
// single cycle of WaveSize samples, normalized to full scale.
func LoadWaveform(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf []float64
	r := wav.NewReader(f)
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		for _, sample := range samples {
			buf = append(buf, r.FloatValue(sample, 0))
		}
	}
	if len(buf) == 0 {
		return nil, invalidf("%s contains no samples", path)
	}
	wave := Resample(buf, WaveSize)
	var peak float64
	for _, v := range wave {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 0 {
		for i := range wave {
			wave[i] /= peak
		}
	}
	return wave, nil
}

// WriteWaveform writes wave as a 16 bit mono WAV file, repeating the cycle
// the given number of times.
func WriteWaveform(path string, wave []float64, cycles int, sampleRate uint32) error {
	if cycles < 1 {
		cycles = 1
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	const scale = 1<<15 - 1
	samples := make([]wav.Sample, 0, len(wave)*cycles)
	for c := 0; c < cycles; c++ {
		for _, v := range wave {
			n := int(math.Round(scale * math.Max(-1, math.Min(1, v))))
			samples = append(samples, wav.Sample{Values: [2]int{n, n}})
		}
	}
	w := wav.NewWriter(f, uint32(len(samples)), 1, sampleRate, 16)
	if err := w.WriteSamples(samples); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Resample stretches or shrinks src to n samples using linear interpolation.
func Resample(src []float64, n int) []float64 {
	dst := make([]float64, n)
	if len(src) == 1 {
		for i := range dst {
			dst[i] = src[0]
		}
		return dst
	}
	step := float64(len(src)) / float64(n)
	for i := range dst {
		pos := float64(i) * step
		k := int(pos)
		frac := pos - float64(k)
		next := k + 1
		if next >= len(src) {
			next = len(src) - 1
		}
		dst[i] = src[k]*(1-frac) + src[next]*frac
	}
	return dst
}
