// Package thor defines the identifier and hash types shared across every
// Sorcha component, mirroring the role the teacher's own `thor` package
// plays for vechain/thor: every other package imports this one, never the
// reverse.
package thor

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// Bytes32 is a 32-byte content hash: tx_id, docket_id, payload_hash, merkle root.
type Bytes32 [32]byte

// String renders the hash as a lower-case hex string without a prefix.
func (b Bytes32) String() string {
	return hex.EncodeToString(b[:])
}

// IsZero reports whether b is the all-zero hash.
func (b Bytes32) IsZero() bool {
	return b == Bytes32{}
}

// Bytes returns a copy of the underlying bytes.
func (b Bytes32) Bytes() []byte {
	cp := make([]byte, 32)
	copy(cp, b[:])
	return cp
}

// ParseBytes32 parses a 64-character hex string into a Bytes32.
func ParseBytes32(s string) (Bytes32, error) {
	s = strings.TrimPrefix(s, "0x")
	var h Bytes32
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != 32 {
		return h, errors.New("thor: invalid length for Bytes32")
	}
	copy(h[:], b)
	return h, nil
}

// MarshalJSON renders the hash as a quoted hex string rather than a raw
// byte array, so persisted/wire JSON stays readable.
func (b Bytes32) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// UnmarshalJSON parses the quoted hex form produced by MarshalJSON.
func (b *Bytes32) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*b = Bytes32{}
		return nil
	}
	h, err := ParseBytes32(s)
	if err != nil {
		return err
	}
	*b = h
	return nil
}

// BytesToBytes32 copies b (left-padded with zeros, or truncated) into a Bytes32.
func BytesToBytes32(b []byte) Bytes32 {
	var h Bytes32
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	copy(h[32-len(b):], b)
	return h
}

// RegisterID is the hex(32-char) identifier of a register; it is a 16-byte
// value serialised as 32 hex characters per spec §3.
type RegisterID [16]byte

// String renders the register id as 32 lower-case hex characters.
func (r RegisterID) String() string {
	return hex.EncodeToString(r[:])
}

// IsZero reports whether r is unset.
func (r RegisterID) IsZero() bool {
	return r == RegisterID{}
}

// MarshalJSON renders the id as a quoted hex string.
func (r RegisterID) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// UnmarshalJSON parses the quoted hex form produced by MarshalJSON.
func (r *RegisterID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*r = RegisterID{}
		return nil
	}
	id, err := ParseRegisterID(s)
	if err != nil {
		return err
	}
	*r = id
	return nil
}

// ParseRegisterID parses a 32-character hex string into a RegisterID.
func ParseRegisterID(s string) (RegisterID, error) {
	s = strings.TrimPrefix(s, "0x")
	var r RegisterID
	b, err := hex.DecodeString(s)
	if err != nil {
		return r, err
	}
	if len(b) != 16 {
		return r, errors.New("thor: invalid length for RegisterID, want 32 hex chars")
	}
	copy(r[:], b)
	return r, nil
}

// Address identifies a wallet (sender, recipient, attestation subject) by
// its public-key derived address. Sorcha treats it as an opaque
// fixed-width identifier; wallet custody and key material live outside
// this repo's scope (spec §1).
type Address [20]byte

// String renders the address as "0x"-prefixed lower-case hex, the format
// used on the wire and in event payloads.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether a is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalJSON renders the address in its "0x"-prefixed wire form.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// MarshalText implements encoding.TextMarshaler so Address can serve as a
// JSON map key (register.Transaction.Payloads is keyed by Address).
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextMarshaler's counterpart.
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// UnmarshalJSON parses the "0x"-prefixed form produced by MarshalJSON.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	addr, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = addr
	return nil
}

// ParseAddress parses a "0x"-optional 40-character hex string.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, err
	}
	if len(b) != 20 {
		return a, errors.New("thor: invalid length for Address")
	}
	copy(a[:], b)
	return a, nil
}
