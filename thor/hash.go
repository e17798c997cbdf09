package thor

import "crypto/sha256"

// Blake2b256-grade content hashing is overkill for Sorcha's contract, which
// is pinned to SHA-256 by spec §3 ("payload_hash (SHA-256 over canonical
// payload bytes)"); this helper is the single place that invariant is
// enforced so every caller (tx_id derivation, payload hashing, docket id,
// merkle leaves) goes through the same primitive.

// SHA256 hashes b and returns the digest as a Bytes32.
func SHA256(b ...[]byte) Bytes32 {
	h := sha256.New()
	for _, part := range b {
		h.Write(part) //nolint:errcheck // sha256.digest.Write never errors
	}
	var out Bytes32
	copy(out[:], h.Sum(nil))
	return out
}

// MerkleRoot computes a standard binary merkle root over the given
// ordered leaves. An empty leaf set roots to the zero hash (the genesis
// docket's merkle root, since genesis carries no transactions).
func MerkleRoot(leaves []Bytes32) Bytes32 {
	if len(leaves) == 0 {
		return Bytes32{}
	}
	level := make([]Bytes32, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		var next []Bytes32
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, SHA256(level[i][:], level[i+1][:]))
			} else {
				// odd node carries forward, paired with itself
				next = append(next, SHA256(level[i][:], level[i][:]))
			}
		}
		level = next
	}
	return level[0]
}
