package validator

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/p2p"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// approvalRequest/approvalResponse are the JSON wire payloads carried
// inside KindApprovalRequest/KindApprovalResponse envelopes. JSON, not
// RLP, for the same reason as every other higher-level payload in this
// repository: Docket carries time.Time fields go-ethereum's RLP codec
// cannot encode.
type approvalRequest struct {
	Docket *register.Docket
}

type approvalResponse struct {
	Approval register.Approval
	Declined bool
	Reason   string `json:",omitempty"`
}

func encodeApprovalRequest(d *register.Docket) ([]byte, error) {
	return json.Marshal(approvalRequest{Docket: d})
}

func decodeApprovalRequest(b []byte) (approvalRequest, error) {
	var r approvalRequest
	err := json.Unmarshal(b, &r)
	return r, err
}

func encodeApprovalResponse(r approvalResponse) ([]byte, error) {
	return json.Marshal(r)
}

func decodeApprovalResponse(b []byte) (approvalResponse, error) {
	var r approvalResponse
	err := json.Unmarshal(b, &r)
	return r, err
}

// Signer produces a validator's signature over an approval-round
// message; concretely backed by a walletsign.Client in the composition
// root.
type Signer func(ctx context.Context, message []byte) (signature []byte, err error)

// ApprovalTransport drives the Consensus Engine's per-peer approval round
// trips over the Connection Pool, and answers incoming approval requests
// from peers by signing the proposed docket header with this node's own
// validator key (spec §4.7: "collects signatures ... over a docket
// header").
type ApprovalTransport struct {
	pool         *p2p.Pool
	localWallet  thor.Address
	sign         Signer
	approveLocal func(d *register.Docket) bool

	mu      sync.Mutex
	waiters map[uint64]chan approvalResponse
	nextID  uint64
}

// NewApprovalTransport wires request/response handlers onto pool and
// returns the transport. approveLocal lets the composition root gate
// whether this node signs a peer's proposed docket (e.g. re-verifying it
// against local register state) before it returns its own signature;
// nil always approves.
func NewApprovalTransport(pool *p2p.Pool, localWallet thor.Address, sign Signer, approveLocal func(*register.Docket) bool) *ApprovalTransport {
	t := &ApprovalTransport{
		pool:         pool,
		localWallet:  localWallet,
		sign:         sign,
		approveLocal: approveLocal,
		waiters:      make(map[uint64]chan approvalResponse),
	}
	pool.RegisterStreamHandler(p2p.KindApprovalRequest, t.handleRequest)
	pool.RegisterStreamHandler(p2p.KindApprovalResponse, t.handleResponse)
	return t
}

// Request implements ApprovalRequester: ask peerID to approve docket and
// block for its signed response or ctx's deadline.
func (t *ApprovalTransport) Request(ctx context.Context, peerID string, docket *register.Docket) (register.Approval, error) {
	body, err := encodeApprovalRequest(docket)
	if err != nil {
		return register.Approval{}, err
	}

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	ch := make(chan approvalResponse, 1)
	t.waiters[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.waiters, id)
		t.mu.Unlock()
	}()

	if err := t.pool.Send(ctx, peerID, &p2p.Envelope{Kind: p2p.KindApprovalRequest, CorrelationID: id, Payload: body}); err != nil {
		return register.Approval{}, err
	}

	select {
	case resp := <-ch:
		if resp.Declined {
			return register.Approval{}, errors.Errorf("validator: peer %s declined approval: %s", peerID, resp.Reason)
		}
		return resp.Approval, nil
	case <-ctx.Done():
		return register.Approval{}, ctx.Err()
	}
}

func (t *ApprovalTransport) handleRequest(peerID string, e *p2p.Envelope) {
	req, err := decodeApprovalRequest(e.Payload)
	if err != nil {
		logger.Warn("validator: decode approval request failed", "peer_id", peerID, "err", err)
		return
	}

	if t.approveLocal != nil && !t.approveLocal(req.Docket) {
		t.respond(peerID, e.CorrelationID, approvalResponse{Declined: true, Reason: "local conformance check failed"})
		return
	}

	msg := req.Docket.HeaderBytes()
	sig, err := t.sign(context.Background(), msg)
	if err != nil {
		t.respond(peerID, e.CorrelationID, approvalResponse{Declined: true, Reason: err.Error()})
		return
	}

	t.respond(peerID, e.CorrelationID, approvalResponse{Approval: register.Approval{ValidatorWallet: t.localWallet, Signature: sig}})
}

func (t *ApprovalTransport) respond(peerID string, correlationID uint64, resp approvalResponse) {
	body, err := encodeApprovalResponse(resp)
	if err != nil {
		logger.Error("validator: encode approval response failed", "err", err)
		return
	}
	if err := t.pool.Send(context.Background(), peerID, &p2p.Envelope{Kind: p2p.KindApprovalResponse, CorrelationID: correlationID, Payload: body}); err != nil {
		logger.Warn("validator: approval response send failed", "peer_id", peerID, "err", err)
	}
}

func (t *ApprovalTransport) handleResponse(peerID string, e *p2p.Envelope) {
	resp, err := decodeApprovalResponse(e.Payload)
	if err != nil {
		logger.Warn("validator: decode approval response failed", "peer_id", peerID, "err", err)
		return
	}
	t.mu.Lock()
	ch, ok := t.waiters[e.CorrelationID]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}
