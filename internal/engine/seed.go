// CLAUDE:SUMMARY Randomness & commitment source — session seeds, SHA3-256 seed commitments, deterministic per-turn draw values
package engine

import (
	crand "crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const seedSize = 32

// Domain-separation labels for the SHA3 derivations. Changing either one
// invalidates every published commitment.
const (
	labelSeedCommit = "hidesis/seed-commit/v1"
	labelTurnDraw   = "hidesis/turn-draw/v1"
)

// newSeed generates a session-scoped secret seed using crypto/rand.
func newSeed() ([]byte, error) {
	seed := make([]byte, seedSize)
	if _, err := crand.Read(seed); err != nil {
		return nil, fmt.Errorf("read random seed: %w", err)
	}
	return seed, nil
}

// kdf hashes a label with the given parts, SHA3-256. Label-prefixed so the
// commitment and the turn draws can never collide.
func kdf(label string, parts ...[]byte) [32]byte {
	buf := make([]byte, 0, len(label)+seedSize+8)
	buf = append(buf, label...)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return sha3.Sum256(buf)
}

// seedCommitment returns the hex one-way commitment published at session
// start. The seed itself never leaves the engine.
func seedCommitment(seed []byte) string {
	sum := kdf(labelSeedCommit, seed)
	return hex.EncodeToString(sum[:])
}

// turnUnit deterministically derives the draw value for a turn, uniform in
// [0,1). Pure in (seed, index): replaying the same inputs always yields the
// same value, which is what makes commit responses safe to re-deliver.
func turnUnit(seed []byte, index int) float64 {
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], uint64(index))
	sum := kdf(labelTurnDraw, seed, idx[:])
	// Keep 53 bits so the quotient is exact; a full 64-bit numerator can
	// round up to 1.0 and escape the half-open interval.
	u := binary.BigEndian.Uint64(sum[:8]) >> 11
	return float64(u) / (1 << 53)
}
