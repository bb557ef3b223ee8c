package statistics

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// hllPrecision is the register-index bit width.
const hllPrecision = 8
const hllRegisters = 1 << hllPrecision

// HyperLogLog is an 8-bit-precision approximate distinct counter keyed on a
// 64-bit hash of the value. Hashing uses github.com/cespare/xxhash/v2,
// deliberately distinct from the join/radix operators' murmur3 hash so the two
// concerns don't share a hash family.
type HyperLogLog struct {
	registers [hllRegisters]uint8
}

// NewHyperLogLog returns a fresh, empty estimator.
func NewHyperLogLog() *HyperLogLog {
	return &HyperLogLog{}
}

// ObserveInt64 records one occurrence of an INT64/INT32/DECIMAL/DATE/BOOL
// value (all reduced to their int64 representation).
func (h *HyperLogLog) ObserveInt64(v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.observe(xxhash.Sum64(buf[:]))
}

// ObserveBytes records one occurrence of a CHAR value's raw bytes.
func (h *HyperLogLog) ObserveBytes(b []byte) {
	h.observe(xxhash.Sum64(b))
}

func (h *HyperLogLog) observe(hash uint64) {
	idx := hash >> (64 - hllPrecision)
	rest := hash<<hllPrecision | (1 << (hllPrecision - 1))
	rank := uint8(bits.LeadingZeros64(rest) + 1)
	if rank > h.registers[idx] {
		h.registers[idx] = rank
	}
}

// Estimate returns the approximate distinct count, using the standard HLL
// bias-corrected harmonic-mean estimator with small-range (linear counting)
// correction; no large-range correction is applied.
func (h *HyperLogLog) Estimate() uint64 {
	m := float64(hllRegisters)
	sum := 0.0
	zeros := 0
	for _, r := range h.registers {
		sum += 1.0 / math.Pow(2, float64(r))
		if r == 0 {
			zeros++
		}
	}
	alpha := 0.7213 / (1 + 1.079/m)
	raw := alpha * m * m / sum

	switch {
	case raw <= 2.5*m && zeros > 0:
		return uint64(m * math.Log(m/float64(zeros)))
	default:
		return uint64(raw)
	}
}
