package engine

import (
	"crypto/sha256"
	"encoding/binary"

	"SynthVault/internal/ledger"
)

const GenesisHashSeed = "SynthVault:genesis:v1"

// StateHasher computes deterministic ledger state hashes
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher initializes with genesis hash
func NewStateHasher() *StateHasher {
	genesis := sha256.Sum256([]byte(GenesisHashSeed))
	return &StateHasher{
		prevHash: genesis,
	}
}

// ComputeHash calculates state_hash[N] = SHA-256(prev_hash || sequence || state_digest)
func (h *StateHasher) ComputeHash(sequence int64, stateDigest []byte) [32]byte {
	hasher := sha256.New()

	// Write prev_hash (32 bytes)
	hasher.Write(h.prevHash[:])

	// Write sequence (8 bytes LE)
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	// Write state digest
	hasher.Write(stateDigest)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))

	// Update prev_hash for next iteration
	h.prevHash = hash

	return hash
}

// GetPrevHash returns current chain tip
func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash restores the chain tip during snapshot restore.
func (h *StateHasher) SetPrevHash(hash [32]byte) {
	h.prevHash = hash
}

// ComputeStateDigest builds the canonical byte encoding of the full ledger
// state: every nonzero collateral record followed by every nonzero debt
// record, in the ledger's deterministic sort order.
func ComputeStateDigest(led *ledger.Ledger) []byte {
	collateral := led.CollateralEntries()
	debts := led.DebtEntries()

	digest := make([]byte, 0, (len(collateral)+len(debts))*64)

	for _, e := range collateral {
		digest = append(digest, e.User[:]...)
		digest = append(digest, byte(len(e.AssetID)))
		digest = append(digest, []byte(e.AssetID)...)
		digest = appendBig(digest, e.Amount.Bytes())
	}
	for _, d := range debts {
		digest = append(digest, d.User[:]...)
		digest = appendBig(digest, d.Amount.Bytes())
	}

	return digest
}

// appendBig writes a length-prefixed big-endian magnitude.
func appendBig(buf, mag []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(mag)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, mag...)
}
