package validator

import (
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/thor"
	"golang.org/x/crypto/ed25519"
)

// ErrUnsupportedAlgorithm rejects an algorithm string outside the
// supported set (spec §4.7 step 2: "algorithm supported").
var ErrUnsupportedAlgorithm = errors.New("validator: unsupported algorithm")

const (
	AlgorithmED25519   = "ED25519"
	AlgorithmSECP256K1 = "SECP256K1"
)

// SupportedAlgorithm reports whether algorithm is one this pipeline can
// verify.
func SupportedAlgorithm(algorithm string) bool {
	return algorithm == AlgorithmED25519 || algorithm == AlgorithmSECP256K1
}

// VerifySignature checks signature over message using publicKey under the
// declared algorithm (spec §4.7 step 4: "Verify signature over ASCII
// '{tx_id}:{payload_hash}' using public_key for the declared algorithm").
func VerifySignature(algorithm string, publicKey, message, signature []byte) error {
	switch algorithm {
	case AlgorithmED25519:
		if len(publicKey) != ed25519.PublicKeySize {
			return errors.New("validator: invalid ed25519 public key length")
		}
		if !ed25519.Verify(publicKey, message, signature) {
			return errors.New("validator: ed25519 signature verification failed")
		}
		return nil
	case AlgorithmSECP256K1:
		digest := thor.SHA256(message)
		if !crypto.VerifySignature(publicKey, digest[:], signature) {
			return errors.New("validator: secp256k1 signature verification failed")
		}
		return nil
	default:
		return ErrUnsupportedAlgorithm
	}
}
