package oto

import (
	"encoding/binary"
	"math"
)

// MonoToStereoFloat32LE encodes a mono buffer as interleaved stereo 32-bit
// little-endian floats, appending to dst. Samples are clamped to [-1, 1] and
// NaNs are silenced.
func MonoToStereoFloat32LE(mono []float32, dst []byte) []byte {
	for _, v := range mono {
		switch {
		case v != v:
			v = 0
		case v > 1:
			v = 1
		case v < -1:
			v = -1
		}
		bits := math.Float32bits(v)
		dst = binary.LittleEndian.AppendUint32(dst, bits)
		dst = binary.LittleEndian.AppendUint32(dst, bits)
	}
	return dst
}
