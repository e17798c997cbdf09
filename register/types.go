// Package register implements the Register Store (spec §4.8): the
// per-register append-only log of transactions and dockets, the height
// counter, and register lifecycle metadata. It is the exclusive owner of
// Transaction, Docket, and Register state (spec §3).
package register

import (
	"time"

	"github.com/sorchaledger/sorcha/thor"
)

// Status is a register's lifecycle state. Transitions out of Deleted are
// never permitted (spec §3 invariant).
type Status string

const (
	StatusCreated   Status = "Created"
	StatusOnline    Status = "Online"
	StatusSuspended Status = "Suspended"
	StatusDeleted   Status = "Deleted"
)

// Register is the per-tenant append-only log's metadata (spec §3).
type Register struct {
	RegisterID thor.RegisterID
	Name       string // <= 38 chars
	TenantID   string
	Status     Status
	Height     uint64 // count of committed dockets; only ever advances
	IsPublic   bool
	CreatedAt  time.Time
}

// GENESIS is the sentinel blueprint_id for control transactions (spec §3).
const GENESIS = "genesis"

// Transaction is a signed action submission (spec §3). The signature
// contract is immutable and covers the ASCII bytes of
// "{tx_id}:{payload_hash}" — this string MUST be produced identically by
// every signer and verifier in the system (spec §3, §8 property 3).
type Transaction struct {
	TxID                  thor.Bytes32
	RegisterID            thor.RegisterID
	BlueprintID           string // identifies the workflow template; may be GENESIS
	ActionID              string // identifies the specific action within BlueprintID invoked by this tx
	PreviousTransactionID *thor.Bytes32
	PayloadHash           thor.Bytes32
	Payloads              map[thor.Address][]byte // per-recipient opaque ciphertext
	SenderWallet          thor.Address
	Signature             []byte
	PublicKey             []byte
	Algorithm             string // e.g. "ED25519"
	SubmittedAt           time.Time
}

// SigningMessage returns the exact ASCII bytes the signature in this
// transaction must cover: "{tx_id}:{payload_hash}". Every signer and
// verifier in the system calls this single function so the contract can
// never drift between sign and verify call sites (spec §3).
func SigningMessage(txID, payloadHash thor.Bytes32) []byte {
	return []byte(txID.String() + ":" + payloadHash.String())
}

// VerifiedTransaction is a Transaction that has passed the full pipeline
// (spec §3).
type VerifiedTransaction struct {
	Transaction
	VerifiedAt         time.Time
	BlueprintSnapshotID string
}

// Docket is an ordered, signed batch of verified transactions committed to
// a register under quorum (spec §3).
type Docket struct {
	DocketID         thor.Bytes32
	RegisterID       thor.RegisterID
	DocketVersion    uint64 // 0 == genesis
	TxIDs            []thor.Bytes32
	PreviousDocketID thor.Bytes32
	MerkleRoot       thor.Bytes32
	BuiltAt          time.Time
	ApprovalSet      []Approval
	CommittedAt      time.Time
}

// Approval is one validator's signature over a docket header, collected
// by the Consensus Engine (spec §4.7).
type Approval struct {
	ValidatorWallet thor.Address
	Signature       []byte
}

// HeaderBytes returns the canonical bytes hashed to produce DocketID: the
// register id, version, previous docket id, and merkle root, in that
// fixed order (spec §4.7: "docket_id = SHA-256 of the canonical docket
// header").
func (d *Docket) HeaderBytes() []byte {
	buf := make([]byte, 0, 16+8+32+32)
	buf = append(buf, d.RegisterID[:]...)
	var v [8]byte
	putUint64(v[:], d.DocketVersion)
	buf = append(buf, v[:]...)
	buf = append(buf, d.PreviousDocketID[:]...)
	buf = append(buf, d.MerkleRoot[:]...)
	return buf
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (56 - 8*i))
	}
}

// ComputeDocketID derives DocketID from the docket header (RegisterID,
// DocketVersion, PreviousDocketID, MerkleRoot must already be set).
func (d *Docket) ComputeDocketID() thor.Bytes32 {
	return thor.SHA256(d.HeaderBytes())
}
