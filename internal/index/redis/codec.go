package redis

import (
	"encoding/binary"
	"math"
)

// vectorToBytes encodes a float32 vector as the little-endian binary
// blob RediSearch expects for FLOAT32 vector fields.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector decodes a little-endian FLOAT32 blob.
func bytesToVector(b string) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32([]byte(b[i*4 : i*4+4])))
	}
	return v
}
