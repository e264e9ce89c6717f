package media

import "encoding/binary"

// PCM helpers for the voice path. The browser side speaks 48 kHz stereo
// Opus; the voice service speaks 24 kHz mono PCM16 little-endian. These
// functions convert between the two.

// DecodePCM16 interprets b as little-endian 16-bit samples. A trailing
// odd byte is ignored.
func DecodePCM16(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[2*i:]))
	}
	return out
}

// EncodePCM16 renders samples as little-endian bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

// ResampleLinear converts mono PCM between sample rates by linear
// interpolation. Good enough for speech; anything fancier belongs in
// the codec, not here.
func ResampleLinear(in []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(in) == 0 || srcRate <= 0 || dstRate <= 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if outLen <= 0 {
		return nil
	}
	out := make([]int16, outLen)
	if outLen == 1 {
		out[0] = in[0]
		return out
	}
	step := float64(len(in)-1) / float64(outLen-1)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}

// DownmixStereo averages interleaved stereo samples into mono.
func DownmixStereo(in []int16) []int16 {
	n := len(in) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16((int32(in[2*i]) + int32(in[2*i+1])) / 2)
	}
	return out
}

// UpmixMono duplicates mono samples into interleaved stereo.
func UpmixMono(in []int16) []int16 {
	out := make([]int16, 2*len(in))
	for i, s := range in {
		out[2*i] = s
		out[2*i+1] = s
	}
	return out
}
