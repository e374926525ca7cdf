// Package fingerprint holds the fixed-width binary codes that records are compared by.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"math/bits"
)

// WordBits is the width of one fingerprint word.
const WordBits = 64

// Fingerprint packs bits into 64-bit words: bit i lives in word i/64 at position i%64.
type Fingerprint []uint64

// Words returns the number of words needed to hold n bits.
func Words(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + WordBits - 1) / WordBits
}

// New returns a zeroed fingerprint wide enough for n bits.
func New(n int) Fingerprint {
	return make(Fingerprint, Words(n))
}

// Set turns bit i on.
func (f Fingerprint) Set(i int) {
	f[i/WordBits] |= 1 << (uint(i) % WordBits)
}

// Bit reports whether bit i is on.
func (f Fingerprint) Bit(i int) bool {
	w := i / WordBits
	if w >= len(f) {
		return false
	}
	return f[w]&(1<<(uint(i)%WordBits)) != 0
}

// Bits returns the storage width in bits.
func (f Fingerprint) Bits() int { return len(f) * WordBits }

// Equal reports whether both fingerprints have identical words.
func (f Fingerprint) Equal(o Fingerprint) bool {
	if len(f) != len(o) {
		return false
	}
	for i := range f {
		if f[i] != o[i] {
			return false
		}
	}
	return true
}

// String renders the words as little-endian hex.
func (f Fingerprint) String() string {
	buf := make([]byte, len(f)*8)
	for i, w := range f {
		binary.LittleEndian.PutUint64(buf[i*8:], w)
	}
	return hex.EncodeToString(buf)
}

// Hamming counts differing bits. Missing words on the shorter side count as zero.
func Hamming(a, b Fingerprint) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	d := 0
	for i := range b {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	for _, w := range a[len(b):] {
		d += bits.OnesCount64(w)
	}
	return d
}

// Score maps a distance to similarity in [0,1]: 1 - distance/totalBits.
func Score(distance, totalBits int) float64 {
	if totalBits <= 0 {
		return 0
	}
	return 1 - float64(distance)/float64(totalBits)
}
