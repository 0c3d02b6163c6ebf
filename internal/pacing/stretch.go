package pacing

import "math"

const (
	minStretch = 0.5
	maxStretch = 2.0

	frameSec = 0.025
)

// resample converts samples between rates with linear interpolation.
func resample(in []float64, from, to int) []float64 {
	if from == to || len(in) == 0 || from <= 0 || to <= 0 {
		return in
	}
	n := int(math.Round(float64(len(in)) * float64(to) / float64(from)))
	if n < 1 {
		n = 1
	}
	out := make([]float64, n)
	step := float64(from) / float64(to)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

// wsola time-stretches in by ratio (output length / input length) without
// shifting pitch. Frames are taken near their nominal input position at the
// offset whose waveform best continues the previously emitted frame.
func wsola(in []float64, ratio float64, sampleRate int) []float64 {
	outLen := int(math.Round(float64(len(in)) * ratio))
	frame := int(frameSec * float64(sampleRate))
	if frame%2 == 1 {
		frame++
	}
	if frame < 16 || len(in) < 2*frame || outLen < frame {
		return nil
	}
	hop := frame / 2
	tol := frame / 4
	window := hann(frame)

	out := make([]float64, outLen+frame)
	norm := make([]float64, outLen+frame)
	maxPos := len(in) - frame

	prev := 0
	for k := 0; k*hop < outLen; k++ {
		nominal := int(float64(k*hop) / ratio)
		pos := clampInt(nominal, 0, maxPos)
		if k > 0 {
			pos = bestOffset(in, prev+hop, nominal, tol, hop, maxPos)
		}

		base := k * hop
		for i := 0; i < frame; i++ {
			out[base+i] += in[pos+i] * window[i]
			norm[base+i] += window[i]
		}
		prev = pos
	}

	for i := range out {
		if norm[i] > 1e-6 {
			out[i] /= norm[i]
		}
	}
	return out[:outLen]
}

// bestOffset searches [nominal-tol, nominal+tol] for the frame start whose
// first overlap samples correlate best with the natural continuation at ref.
func bestOffset(in []float64, ref, nominal, tol, overlap, maxPos int) int {
	ref = clampInt(ref, 0, maxPos)
	lo := clampInt(nominal-tol, 0, maxPos)
	hi := clampInt(nominal+tol, 0, maxPos)

	best := clampInt(nominal, lo, hi)
	bestScore := math.Inf(-1)
	for cand := lo; cand <= hi; cand++ {
		var score float64
		for i := 0; i < overlap; i++ {
			score += in[cand+i] * in[ref+i]
		}
		if score > bestScore {
			bestScore = score
			best = cand
		}
	}
	return best
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// fit trims or pads with trailing silence to exactly n samples.
func fit(in []float64, n int) []float64 {
	if len(in) >= n {
		return in[:n]
	}
	out := make([]float64, n)
	copy(out, in)
	return out
}

func clampInt(v, lo, hi int) int {
	if hi < lo {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
