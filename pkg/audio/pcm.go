package audio

import (
	"encoding/binary"
	"math"
)

// sample reads the i-th int16 sample from pcm.
func sample(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
}

// putSample writes v as the i-th int16 sample of pcm.
func putSample(pcm []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(v))
}

// clamp16 saturates v into the int16 range.
func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// RMS returns the root-mean-square level of pcm normalised to [0, 1].
// Silence and empty input yield 0; full-scale square waves yield 1.
// The result is never NaN or negative.
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(sample(pcm, i)) / 32768
		sum += v * v
	}
	level := math.Sqrt(sum / float64(n))
	if math.IsNaN(level) || level < 0 {
		return 0
	}
	return min(level, 1)
}

// Silence returns n bytes of zeroed PCM.
func Silence(n int) []byte {
	return make([]byte, n)
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	n := len(pcm) / BytesPerSample
	out := make([]byte, n*2*BytesPerSample)
	for i := range n {
		v := sample(pcm, i)
		putSample(out, 2*i, v)
		putSample(out, 2*i+1, v)
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	n := len(pcm) / (2 * BytesPerSample)
	out := make([]byte, n*BytesPerSample)
	for i := range n {
		l, r := int32(sample(pcm, 2*i)), int32(sample(pcm, 2*i+1))
		putSample(out, i, clamp16((l+r)/2))
	}
	return out
}

// ResampleMono16 converts mono PCM from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	src := len(pcm) / BytesPerSample
	dst := int(int64(src) * int64(dstRate) / int64(srcRate))
	if dst == 0 {
		return nil
	}

	out := make([]byte, dst*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range dst {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := sample(pcm, idx)
		s1 := s0
		if idx+1 < src {
			s1 = sample(pcm, idx+1)
		}
		putSample(out, i, int16(float64(s0)*(1-frac)+float64(s1)*frac))
	}
	return out
}

// Convert rewrites pcm from one format into another, mixing channels down or
// up and resampling as needed. Only mono and stereo layouts are supported;
// other channel counts are returned unchanged.
func Convert(pcm []byte, from, to Format) []byte {
	if from == to {
		return pcm
	}
	mono := pcm
	switch from.Channels {
	case 1:
	case 2:
		mono = StereoToMono(pcm)
	default:
		return pcm
	}
	mono = ResampleMono16(mono, from.SampleRate, to.SampleRate)
	if to.Channels == 2 {
		return MonoToStereo(mono)
	}
	return mono
}
