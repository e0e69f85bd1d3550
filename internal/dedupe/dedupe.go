// Package dedupe suppresses duplicate capture submissions. Instrumented apps
// resend events after crashes and timeouts; the guard remembers recent
// fingerprints so a resend does not become a second stored event.
//
// The filter is probabilistic: a false positive drops a genuinely new event
// on rare occasions, which is acceptable for behavioral aggregates, while a
// duplicate that slips past is still caught by the store's primary key.
package dedupe

import (
	"math"
	"sync"

	"github.com/spaolacci/murmur3"
)

// Guard is a bloom-filter duplicate detector. It is safe for concurrent use.
type Guard struct {
	mu        sync.RWMutex
	bits      []uint64
	numBits   uint64
	numHashes uint64
	count     uint64
}

// NewGuard creates a guard sized for the expected number of events with the
// target false positive rate.
func NewGuard(expectedEvents int, targetFPR float64) *Guard {
	if expectedEvents <= 0 {
		expectedEvents = 10000
	}
	if targetFPR <= 0 || targetFPR >= 1 {
		targetFPR = 0.001
	}

	numBits, numHashes := optimalParameters(expectedEvents, targetFPR)
	numWords := (numBits + 63) / 64

	return &Guard{
		bits:      make([]uint64, numWords),
		numBits:   uint64(numWords * 64),
		numHashes: uint64(numHashes),
	}
}

// optimalParameters derives bit and hash counts from the standard bloom
// filter formulas: m = -n*ln(p)/ln(2)^2, k = (m/n)*ln(2).
func optimalParameters(expectedItems int, targetFPR float64) (numBits, numHashes int) {
	n := float64(expectedItems)
	ln2 := math.Ln2

	m := -n * math.Log(targetFPR) / (ln2 * ln2)
	numBits = int(math.Ceil(m))

	k := (m / n) * ln2
	numHashes = int(math.Ceil(k))

	if numBits < 64 {
		numBits = 64
	}
	if numHashes < 1 {
		numHashes = 1
	}
	return numBits, numHashes
}

// Seen reports whether the fingerprint may have been remembered before.
// False means definitely new.
func (g *Guard) Seen(fingerprint []byte) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	h1, h2 := hash128(fingerprint)
	for i := uint64(0); i < g.numHashes; i++ {
		pos := (h1 + i*h2) % g.numBits
		if g.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Remember records a fingerprint.
func (g *Guard) Remember(fingerprint []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h1, h2 := hash128(fingerprint)
	for i := uint64(0); i < g.numHashes; i++ {
		pos := (h1 + i*h2) % g.numBits
		g.bits[pos/64] |= 1 << (pos % 64)
	}
	g.count++
}

// Check atomically tests and records a fingerprint, returning true if it was
// already present. Callers use this instead of Seen+Remember so two
// concurrent submissions of the same event cannot both pass.
func (g *Guard) Check(fingerprint []byte) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	h1, h2 := hash128(fingerprint)
	seen := true
	for i := uint64(0); i < g.numHashes; i++ {
		pos := (h1 + i*h2) % g.numBits
		word, bit := pos/64, uint64(1)<<(pos%64)
		if g.bits[word]&bit == 0 {
			seen = false
		}
		g.bits[word] |= bit
	}
	if !seen {
		g.count++
	}
	return seen
}

// Count returns the number of distinct fingerprints remembered.
func (g *Guard) Count() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// FalsePositiveRate estimates the current false positive rate from the fill
// ratio: (1 - e^(-k*n/m))^k.
func (g *Guard) FalsePositiveRate() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.count == 0 {
		return 0
	}
	k := float64(g.numHashes)
	n := float64(g.count)
	m := float64(g.numBits)
	return math.Pow(1-math.Exp(-k*n/m), k)
}

// Reset clears the guard. The retention manager calls this after a purge so
// old fingerprints do not suppress future captures.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i := range g.bits {
		g.bits[i] = 0
	}
	g.count = 0
}

// hash128 computes a murmur3 128-bit hash split into two 64-bit values for
// double hashing: h(i) = h1 + i*h2.
func hash128(item []byte) (uint64, uint64) {
	h := murmur3.New128()
	h.Write(item)
	return h.Sum128()
}
