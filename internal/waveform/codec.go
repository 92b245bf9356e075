// Package waveform encodes fixed-width float64 sample arrays to and from
// the compact transport form used by the patient data exports: standard
// base64 over the little-endian byte image of the samples.
package waveform

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// Encode serializes samples into the transport form. Encode and Decode are
// exact inverses for every finite float64 sequence, including the empty one.
func Encode(samples []float64) string {
	buf := make([]byte, 8*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// Decode is the inverse of Encode. Malformed input (invalid base64, or a
// payload that is not a whole number of float64 values) yields an empty
// slice rather than an error: corruption in one channel must not abort
// retrieval of the rest of a snapshot.
func Decode(blob string) []float64 {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil || len(raw)%8 != 0 {
		return []float64{}
	}
	samples := make([]float64, len(raw)/8)
	for i := range samples {
		samples[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return samples
}
