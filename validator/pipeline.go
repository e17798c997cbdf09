// Package validator implements the Validator Pipeline (spec §4.7): the
// heart of consensus. One Pipeline per validator process, per-register
// state inside: admission, structural/hash/signature/schema/conformance
// validation, the verified queue, the docket builder, the consensus
// engine, and commit.
package validator

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/blueprint"
	"github.com/sorchaledger/sorcha/eventsink"
	"github.com/sorchaledger/sorcha/identity"
	"github.com/sorchaledger/sorcha/metrics"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

var logger = log.New("pkg", "validator")

// ErrBusy signals pipeline backpressure (admission pool at capacity); it
// is the one internal sentinel Redact maps to VAL_BUSY rather than
// VAL_UNAVAILABLE (spec §7).
var ErrBusy = errors.New("validator: pipeline applying backpressure")

// RegisterStore is the subset of register.Store the pipeline writes
// through on commit and reads for structural checks (spec §4.7, §4.8).
type RegisterStore interface {
	Get(id thor.RegisterID) (*register.Register, error)
	PutTransaction(id thor.RegisterID, tx *register.Transaction) error
	GetTransaction(id thor.RegisterID, txID thor.Bytes32) (*register.Transaction, error)
	AppendDocket(id thor.RegisterID, d *register.Docket) error
	GetDocketByVersion(id thor.RegisterID, version uint64) (*register.Docket, error)
}

// BlueprintSource is the subset blueprint.Cache exposes.
type BlueprintSource interface {
	GetPublished(blueprintID string) (*blueprint.Blueprint, error)
}

// Options configures a Pipeline (spec §6 configuration table).
type Options struct {
	UnverifiedPoolSoftCap   int
	MaxTransactionSizeBytes int
	DocketBuildInterval     time.Duration
	MaxDocketSize           int
	MaxRetries              int
	AutoApproveWhenEmpty    bool
}

// verifiedEntry is one transaction waiting in a register's verified
// queue, ordered by VerifiedAt (spec §4.7 step 8: "FIFO by verification
// completion time").
type verifiedEntry struct {
	tx         register.VerifiedTransaction
	verifiedAt time.Time
}

// instanceState tracks, per (register_id, sender_wallet), the last
// committed transaction id for blueprint-conformance step 7c.
type instanceState struct {
	mu   sync.Mutex
	last map[thor.RegisterID]map[thor.Address]thor.Bytes32
}

func newInstanceState() *instanceState {
	return &instanceState{last: make(map[thor.RegisterID]map[thor.Address]thor.Bytes32)}
}

func (s *instanceState) lastFor(registerID thor.RegisterID, wallet thor.Address) (thor.Bytes32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.last[registerID]
	if !ok {
		return thor.Bytes32{}, false
	}
	v, ok := m[wallet]
	return v, ok
}

func (s *instanceState) record(registerID thor.RegisterID, wallet thor.Address, txID thor.Bytes32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.last[registerID]
	if !ok {
		m = make(map[thor.Address]thor.Bytes32)
		s.last[registerID] = m
	}
	m[wallet] = txID
}

// Notifier is the subset of the replication engine commit() gossips a
// newly committed docket through (spec §4.6, §4.7: "on every docket
// commit, the engine gossips a lightweight notice"). Nil by default; a
// node that runs without replication (e.g. a single-validator test
// harness) simply never calls it.
type Notifier interface {
	NotifyCommit(ctx context.Context, registerID thor.RegisterID, d *register.Docket)
}

// Pipeline is the Validator Pipeline (spec §4.7).
type Pipeline struct {
	store     RegisterStore
	blueprint BlueprintSource
	identity  identity.Service
	sink      eventsink.Sink
	metrics   *metrics.Registry
	notifier  Notifier
	opts      Options

	pool      *unverifiedPool
	instances *instanceState

	verifiedMu sync.Mutex
	verified   map[thor.RegisterID][]verifiedEntry

	poison   *poisonQueue
	attempts *attemptTracker
}

// New creates a Pipeline wired against its dependencies.
func New(store RegisterStore, bp BlueprintSource, idsvc identity.Service, sink eventsink.Sink, m *metrics.Registry, opts Options) *Pipeline {
	return &Pipeline{
		store:     store,
		blueprint: bp,
		identity:  idsvc,
		sink:      sink,
		metrics:   m,
		opts:      opts,
		pool:      newUnverifiedPool(opts.UnverifiedPoolSoftCap),
		instances: newInstanceState(),
		verified:  make(map[thor.RegisterID][]verifiedEntry),
		poison:    newPoisonQueue(256),
		attempts:  newAttemptTracker(),
	}
}

// SetNotifier wires a replication engine (or any Notifier) into the
// pipeline so commit() gossips every newly committed docket. Call once
// during composition, before RunDocketBuilder starts.
func (p *Pipeline) SetNotifier(n Notifier) {
	p.notifier = n
}

// Submit runs a single submission through admission and the full
// validation pipeline (spec §4.7 steps 1-8), returning the reached state
// and, on failure, a *ValidationError suitable for crossing the RPC
// boundary unredacted.
func (p *Pipeline) Submit(tx *register.Transaction) (State, *ValidationError) {
	tx.SubmittedAt = time.Now().UTC()

	if err := p.pool.admit(tx); err != nil {
		if err == ErrPoolFull {
			p.recordRejection(CodeBusy)
			return StateRejected, Redact(ErrBusy)
		}
		// duplicate submissions are rejected structurally, not via the
		// backpressure path: the caller already has a pending copy.
		p.recordRejection(CodeStructInvalid)
		return StateRejected, newValErr(CodeStructInvalid, "duplicate tx_id", err)
	}

	if ve := p.validateStructure(tx); ve != nil {
		p.pool.remove(tx.RegisterID, tx.TxID)
		p.recordRejection(ve.Code)
		return StateRejected, ve
	}

	if ve := p.validateHash(tx); ve != nil {
		p.pool.remove(tx.RegisterID, tx.TxID)
		p.recordRejection(ve.Code)
		return StateRejected, ve
	}

	if ve := p.validateSignature(tx); ve != nil {
		p.pool.remove(tx.RegisterID, tx.TxID)
		p.recordRejection(ve.Code)
		return StateRejected, ve
	}

	bp, ve := p.lookupBlueprint(tx)
	if ve != nil {
		p.pool.remove(tx.RegisterID, tx.TxID)
		p.recordRejection(ve.Code)
		return StateRejected, ve
	}

	snapshotID := ""
	if bp != nil {
		snapshotID = bp.BlueprintID
		if ve := p.validateSchema(tx, bp); ve != nil {
			p.pool.remove(tx.RegisterID, tx.TxID)
			p.recordRejection(ve.Code)
			return StateRejected, ve
		}
		if ve := p.validateConformance(tx, bp); ve != nil {
			p.pool.remove(tx.RegisterID, tx.TxID)
			p.recordRejection(ve.Code)
			return StateRejected, ve
		}
	}

	p.pool.remove(tx.RegisterID, tx.TxID)
	if err := p.store.PutTransaction(tx.RegisterID, tx); err != nil {
		return StateUnverified, Redact(err)
	}
	p.sink.Emit(eventsink.KindTransactionSubmitted, tx.TxID.String(), tx)

	vt := register.VerifiedTransaction{Transaction: *tx, VerifiedAt: time.Now().UTC(), BlueprintSnapshotID: snapshotID}
	p.promote(vt)
	return StateVerified, nil
}

func (p *Pipeline) recordRejection(code Code) {
	if p.metrics != nil {
		p.metrics.TransactionsRejected.WithLabelValues(string(code)).Inc()
	}
}

// validateStructure is pipeline step 2 (spec §4.7).
func (p *Pipeline) validateStructure(tx *register.Transaction) *ValidationError {
	if tx.TxID.IsZero() {
		return newValErr(CodeStructInvalid, "tx_id is required", nil)
	}
	if tx.RegisterID.IsZero() {
		return newValErr(CodeStructInvalid, "register_id is required", nil)
	}
	if tx.SenderWallet.IsZero() {
		return newValErr(CodeStructInvalid, "sender_wallet is required", nil)
	}
	if len(tx.Signature) == 0 || len(tx.PublicKey) == 0 {
		return newValErr(CodeStructInvalid, "signature and public_key are required", nil)
	}
	if !SupportedAlgorithm(tx.Algorithm) {
		return newValErr(CodeStructInvalid, "unsupported algorithm: "+tx.Algorithm, ErrUnsupportedAlgorithm)
	}
	if p.opts.MaxTransactionSizeBytes > 0 {
		size := 0
		for _, payload := range tx.Payloads {
			size += len(payload)
		}
		if size > p.opts.MaxTransactionSizeBytes {
			return newValErr(CodeStructInvalid, "transaction exceeds max_transaction_size_bytes", nil)
		}
	}
	if _, err := p.store.Get(tx.RegisterID); err != nil {
		return newValErr(CodeStructInvalid, "unknown register_id", err)
	}
	return nil
}

// validateHash is pipeline step 3 (spec §4.7).
func (p *Pipeline) validateHash(tx *register.Transaction) *ValidationError {
	computed := canonicalPayloadHash(tx.Payloads)
	if computed != tx.PayloadHash {
		return newValErr(CodeHashMismatch, "payload_hash does not match recomputed hash", nil)
	}
	return nil
}

// canonicalPayloadHash hashes the per-recipient payload bytes in
// canonical wallet-key order (spec §4.7 step 3, step 6's "canonical
// wallet-key ordering").
func canonicalPayloadHash(payloads map[thor.Address][]byte) thor.Bytes32 {
	keys := make([]thor.Address, 0, len(payloads))
	for k := range payloads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	var chunks [][]byte
	for _, k := range keys {
		addr := k
		chunks = append(chunks, addr[:], payloads[k])
	}
	return thor.SHA256(chunks...)
}

// validateSignature is pipeline step 4 (spec §4.7).
func (p *Pipeline) validateSignature(tx *register.Transaction) *ValidationError {
	msg := register.SigningMessage(tx.TxID, tx.PayloadHash)
	if err := VerifySignature(tx.Algorithm, tx.PublicKey, msg, tx.Signature); err != nil {
		return newValErr(CodeSigMismatch, "signature verification failed", err)
	}
	return nil
}

// lookupBlueprint is pipeline step 5. The genesis sentinel skips
// blueprint-bound checks (steps 6-7) but returns (nil, nil) rather than
// an error (spec §4.7 step 5).
func (p *Pipeline) lookupBlueprint(tx *register.Transaction) (*blueprint.Blueprint, *ValidationError) {
	if tx.BlueprintID == register.GENESIS {
		return nil, nil
	}
	bp, err := p.blueprint.GetPublished(tx.BlueprintID)
	if err != nil {
		return nil, newValErr(CodeUnknownBP, "blueprint not found", err)
	}
	return bp, nil
}

// canonicalDisclosure extracts the sender-wallet disclosure: the first
// present entry under canonical wallet-key ordering (spec §4.7 step 6).
func canonicalDisclosure(payloads map[thor.Address][]byte) []byte {
	keys := make([]thor.Address, 0, len(payloads))
	for k := range payloads {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	if len(keys) == 0 {
		return nil
	}
	return payloads[keys[0]]
}

// validateSchema is pipeline step 6 (spec §4.7). The disclosure bytes are
// decoded as a flat field-presence map; full schema-language evaluation
// is a blueprint-authoring concern outside this repository's scope (see
// package blueprint).
func (p *Pipeline) validateSchema(tx *register.Transaction, bp *blueprint.Blueprint) *ValidationError {
	disclosure := canonicalDisclosure(tx.Payloads)
	fields, err := decodeDisclosureFields(disclosure)
	if err != nil {
		return newValErr(CodeSchemaViolation, "disclosure payload is not well-formed", err)
	}
	if err := blueprint.ValidateAction(bp, tx.ActionID, fields); err != nil {
		return newValErr(CodeSchemaViolation, err.Error(), err)
	}
	return nil
}

// validateConformance is pipeline step 7 (spec §4.7): action permitted
// from current state, sender authorised, previous_transaction_id chains
// correctly.
func (p *Pipeline) validateConformance(tx *register.Transaction, bp *blueprint.Blueprint) *ValidationError {
	action, ok := bp.Actions[tx.ActionID]
	if !ok {
		return newValErr(CodeActionNotPermitted, "action not declared on blueprint", nil)
	}

	reg, err := p.store.Get(tx.RegisterID)
	if err != nil {
		return newValErr(CodeActionNotPermitted, "register lookup failed", err)
	}
	participantID, err := p.identity.ParticipantForWallet(context.Background(), tx.SenderWallet.String(), reg.TenantID)
	if err != nil || participantID == "" {
		return newValErr(CodeSenderNotAuthorised, "sender wallet is not linked to an authorised participant", err)
	}

	lastTx, hasLast := p.instances.lastFor(tx.RegisterID, tx.SenderWallet)
	switch {
	case tx.PreviousTransactionID == nil:
		if !action.StartingAction && hasLast {
			return newValErr(CodePrevTxMismatch, "previous_transaction_id required for non-starting action", nil)
		}
	case !hasLast || *tx.PreviousTransactionID != lastTx:
		return newValErr(CodePrevTxMismatch, "previous_transaction_id does not match participant's last committed tx", nil)
	}
	return nil
}

// promote appends vt to its register's verified queue (spec §4.7 step
// 8).
func (p *Pipeline) promote(vt register.VerifiedTransaction) {
	p.verifiedMu.Lock()
	p.verified[vt.RegisterID] = append(p.verified[vt.RegisterID], verifiedEntry{tx: vt, verifiedAt: vt.VerifiedAt})
	p.verifiedMu.Unlock()
	if p.metrics != nil {
		p.metrics.QueueDepth.WithLabelValues("verified").Set(float64(len(p.verified[vt.RegisterID])))
	}
}

// drainVerified removes and returns every verified transaction queued for
// registerID, ordered by VerifiedAt then lexicographic tx_id (spec §4.7
// docket builder: "ordered by verification time, ties broken by
// lexicographic tx_id").
func (p *Pipeline) drainVerified(registerID thor.RegisterID, max int) []register.VerifiedTransaction {
	p.verifiedMu.Lock()
	defer p.verifiedMu.Unlock()

	entries := p.verified[registerID]
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].verifiedAt.Equal(entries[j].verifiedAt) {
			return entries[i].verifiedAt.Before(entries[j].verifiedAt)
		}
		return entries[i].tx.TxID.String() < entries[j].tx.TxID.String()
	})

	n := len(entries)
	if max > 0 && n > max {
		n = max
	}
	out := make([]register.VerifiedTransaction, n)
	for i := 0; i < n; i++ {
		out[i] = entries[i].tx
	}
	p.verified[registerID] = entries[n:]
	return out
}

// verifiedDepth reports the current verified-queue length for a
// register, for metrics.
func (p *Pipeline) verifiedDepth(registerID thor.RegisterID) int {
	p.verifiedMu.Lock()
	defer p.verifiedMu.Unlock()
	return len(p.verified[registerID])
}
