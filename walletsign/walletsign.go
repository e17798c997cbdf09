// Package walletsign is the consumed interface onto wallet custody (spec
// §1: "key storage, envelope encryption, mnemonic generation, OS keystore
// integration"): a single "sign these bytes with this wallet" RPC (spec
// §6). Key storage and custody never enter this repository; the
// Validator Pipeline never sees private key material (spec §6).
package walletsign

import "context"

// Signature is the result of a Sign call (spec §6: "sign(wallet_address,
// bytes, is_pre_hashed) -> {signature, public_key, algorithm}").
type Signature struct {
	Signature []byte
	PublicKey []byte
	Algorithm string
}

// Client is the consumed wallet-signing RPC.
type Client interface {
	// Sign requests a signature over message from walletAddress's custody
	// service. isPreHashed tells the custody side whether message is
	// already a digest (spec §9 Open Question 1: kept as a general
	// capability for non-genesis callers that pre-hash client-side; the
	// genesis control transaction itself is signed under the ordinary
	// "{tx_id}:{payload_hash}" contract, not this path).
	Sign(ctx context.Context, walletAddress string, message []byte, isPreHashed bool) (Signature, error)
}
