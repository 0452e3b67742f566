package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const (
	SnapshotHashSeed = "PerpAMM:snapshot:v1"
	QuoteChainSeed   = "PerpAMM:quotes:v1"
)

// SnapshotDigest is a stable key for one computation:
// SHA-256(seed || operation || 0x00 || json(input)). Map keys are sorted by
// encoding/json, so equal snapshots always hash equally.
func SnapshotDigest(operation string, input interface{}) ([32]byte, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return [32]byte{}, fmt.Errorf("marshal %s input: %w", operation, err)
	}
	hasher := sha256.New()
	hasher.Write([]byte(SnapshotHashSeed))
	hasher.Write([]byte(operation))
	hasher.Write([]byte{0})
	hasher.Write(payload)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	return hash, nil
}

// QuoteChain links persisted quotes:
// hash[N] = SHA-256(prev_hash || sequence || quote_digest).
// Not thread-safe; owned by the quote log worker.
type QuoteChain struct {
	prevHash [32]byte
	sequence int64
}

func NewQuoteChain() *QuoteChain {
	return &QuoteChain{
		prevHash: sha256.Sum256([]byte(QuoteChainSeed)),
	}
}

// ResumeQuoteChain continues a chain from the last persisted link.
func ResumeQuoteChain(prevHash [32]byte, sequence int64) *QuoteChain {
	return &QuoteChain{prevHash: prevHash, sequence: sequence}
}

// Next appends one quote and returns its sequence and chained hash.
func (c *QuoteChain) Next(quoteDigest [32]byte) (int64, [32]byte) {
	c.sequence++

	hasher := sha256.New()
	hasher.Write(c.prevHash[:])

	// sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(c.sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(quoteDigest[:])

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	c.prevHash = hash
	return c.sequence, hash
}

// Tip returns the last hash and sequence.
func (c *QuoteChain) Tip() ([32]byte, int64) {
	return c.prevHash, c.sequence
}

func HexDigest(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
