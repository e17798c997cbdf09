// Package quorum implements the Register Control-Record Quorum (spec
// §4.9): the attestation-based roster and majority-vote rules governing
// register membership and sensitive control operations.
package quorum

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sorchaledger/sorcha/thor"
)

// Role is an attestation's granted role.
type Role string

const (
	RoleOwner    Role = "Owner"
	RoleAdmin    Role = "Admin"
	RoleDesigner Role = "Designer"
	RoleAuditor  Role = "Auditor"
)

// IsVoting reports whether this role counts toward quorum (spec §3:
// "voting_members = {a : a.role ∈ {Owner, Admin}}").
func (r Role) IsVoting() bool {
	return r == RoleOwner || r == RoleAdmin
}

// MaxAttestations is the hard cap on attestations per register (spec §4.9).
const MaxAttestations = 25

// Attestation is a signed grant of a role over a register to a subject
// (spec §3).
type Attestation struct {
	Role      Role
	Subject   string // DID/URI
	PublicKey []byte
	Signature []byte
	Algorithm string
	GrantedAt time.Time
}

// ControlRecord governs register membership (spec §3, §4.9).
type ControlRecord struct {
	RegisterID   thor.RegisterID
	Name         string
	TenantID     string
	CreatedAt    time.Time
	Attestations []Attestation
}

var (
	// ErrAttestationCapExceeded rejects an add beyond MaxAttestations.
	ErrAttestationCapExceeded = errors.New("quorum: attestation cap exceeded")
	// ErrInsufficientSignatures rejects a roster mutation lacking quorum.
	ErrInsufficientSignatures = errors.New("quorum: insufficient signatures for quorum threshold")
	// ErrOwnerProtected rejects removing the sole Owner while transactions
	// remain on the register (spec §4.9).
	ErrOwnerProtected = errors.New("quorum: owner cannot be removed while register transactions remain")
)

// VotingMembers returns the subjects of every Owner/Admin attestation.
func (c *ControlRecord) VotingMembers() []string {
	var out []string
	for _, a := range c.Attestations {
		if a.Role.IsVoting() {
			out = append(out, a.Subject)
		}
	}
	return out
}

// QuorumThreshold computes floor((m-|exclude|)/2)+1 where m is the current
// voting-member count, per spec §3/§8 property 6. exclude names subjects
// removed from the count — used for self-revoke and removal operations
// where the target of the operation does not get to vote on their own
// removal.
func (c *ControlRecord) QuorumThreshold(exclude map[string]bool) int {
	m := 0
	for _, a := range c.Attestations {
		if !a.Role.IsVoting() {
			continue
		}
		if exclude[a.Subject] {
			continue
		}
		m++
	}
	return m/2 + 1
}

// Signature is one voting member's approval of a roster mutation.
type Signature struct {
	Subject   string
	Signature []byte
}

// countDistinctVotingSignatures counts how many of sigs are from distinct,
// currently-voting, non-excluded members.
func (c *ControlRecord) countDistinctVotingSignatures(sigs []Signature, exclude map[string]bool) int {
	voting := make(map[string]bool)
	for _, a := range c.Attestations {
		if a.Role.IsVoting() && !exclude[a.Subject] {
			voting[a.Subject] = true
		}
	}
	seen := make(map[string]bool)
	n := 0
	for _, s := range sigs {
		if voting[s.Subject] && !seen[s.Subject] {
			seen[s.Subject] = true
			n++
		}
	}
	return n
}

// checkQuorum verifies sigs carries at least QuorumThreshold(exclude)
// distinct voting-member signatures.
func (c *ControlRecord) checkQuorum(sigs []Signature, exclude map[string]bool) error {
	need := c.QuorumThreshold(exclude)
	got := c.countDistinctVotingSignatures(sigs, exclude)
	if got < need {
		return errors.Wrapf(ErrInsufficientSignatures, "need %d, got %d", need, got)
	}
	return nil
}

// AddAttestation adds a new attestation, requiring strict-majority
// signatures from the current voting members (spec §4.9: "All roster
// mutations ... require a signed request accompanied by signatures from a
// strict majority of the current voting members").
func (c *ControlRecord) AddAttestation(a Attestation, sigs []Signature) error {
	if len(c.Attestations) >= MaxAttestations {
		return ErrAttestationCapExceeded
	}
	if err := c.checkQuorum(sigs, nil); err != nil {
		return err
	}
	c.Attestations = append(c.Attestations, a)
	return nil
}

// RevokeAttestation removes the attestation held by subject. If the
// attestation being revoked is itself a voting member (self-revoke or a
// removal), the quorum threshold is computed excluding that subject from
// the denominator (spec §4.9, §3 derived quorum_threshold(exclude)).
func (c *ControlRecord) RevokeAttestation(subject string, sigs []Signature, hasOutstandingTransactions bool) error {
	idx := -1
	for i, a := range c.Attestations {
		if a.Subject == subject {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errors.New("quorum: attestation not found")
	}
	target := c.Attestations[idx]

	if target.Role == RoleOwner {
		if hasOutstandingTransactions {
			return ErrOwnerProtected
		}
	}

	exclude := map[string]bool{subject: true}
	if err := c.checkQuorum(sigs, exclude); err != nil {
		return err
	}

	c.Attestations = append(c.Attestations[:idx], c.Attestations[idx+1:]...)
	return nil
}

// TransferOwner reassigns the Owner role from the current Owner (subject
// excluded from its own vote) to newOwnerSubject, requiring a
// unanimous-minus-target vote of the remaining voting members (spec
// §4.9: "the Owner role transfers only by a unanimous-minus-target
// vote").
func (c *ControlRecord) TransferOwner(currentOwner, newOwnerSubject string, sigs []Signature) error {
	idx := -1
	for i, a := range c.Attestations {
		if a.Subject == currentOwner && a.Role == RoleOwner {
			idx = i
			break
		}
	}
	if idx == -1 {
		return errors.New("quorum: current owner attestation not found")
	}

	exclude := map[string]bool{currentOwner: true}
	voting := 0
	for _, a := range c.Attestations {
		if a.Role.IsVoting() && !exclude[a.Subject] {
			voting++
		}
	}
	got := c.countDistinctVotingSignatures(sigs, exclude)
	if got < voting {
		return errors.Wrapf(ErrInsufficientSignatures, "owner transfer needs unanimous-minus-target (%d), got %d", voting, got)
	}

	c.Attestations[idx].Role = RoleAdmin
	found := false
	for i, a := range c.Attestations {
		if a.Subject == newOwnerSubject {
			c.Attestations[i].Role = RoleOwner
			found = true
			break
		}
	}
	if !found {
		return errors.New("quorum: new owner must already hold an attestation to be promoted")
	}
	return nil
}
