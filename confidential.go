// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

// Package confidential implements a confidential computation engine:
// a runtime that lets an application hold opaque ciphertext handles,
// perform homomorphic arithmetic, comparison and selection on them,
// enforce which principals may ever obtain a plaintext, and validate
// that externally supplied ciphertexts are well-formed and attributable
// to their submitter.
//
// The engine is built from four cooperating parts:
//   - a handle Registry that maps opaque identifiers to evaluator
//     references and tracks provenance,
//   - an access-control Ledger of per-handle decryption grants with
//     persistent and call-scoped (transient) lifetimes,
//   - a proof-carrying input Validator that admits external ciphertexts,
//   - a Machine exposing typed homomorphic operations and the single
//     ciphertext-to-plaintext exit point.
//
// The cryptographic scheme itself is an external collaborator behind the
// Backend interface; the engine never inspects ciphertext bytes.
package confidential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/luxfi/ids"
)

// UintType identifies the plaintext domain of an encrypted value: a
// boolean or a bounded unsigned integer of a fixed bit width.
type UintType uint8

const (
	Bool UintType = iota
	Uint8
	Uint16
	Uint32
	Uint64
)

// NumBits returns the plaintext bit width of the type.
func (t UintType) NumBits() int {
	switch t {
	case Bool:
		return 1
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Uint32:
		return 32
	case Uint64:
		return 64
	default:
		return 0
	}
}

// Valid reports whether t is a known type.
func (t UintType) Valid() bool {
	return t <= Uint64
}

// Numeric reports whether t is an integer type (not a boolean).
func (t UintType) Numeric() bool {
	return t.Valid() && t != Bool
}

// Mask reduces v modulo 2^W for the type's width W. All arithmetic in
// the engine wraps around rather than saturating.
func (t UintType) Mask(v uint64) uint64 {
	bits := t.NumBits()
	if bits == 0 || bits >= 64 {
		return v
	}
	return v & ((1 << bits) - 1)
}

func (t UintType) String() string {
	switch t {
	case Bool:
		return "ebool"
	case Uint8:
		return "euint8"
	case Uint16:
		return "euint16"
	case Uint32:
		return "euint32"
	case Uint64:
		return "euint64"
	default:
		return "unknown"
	}
}

// Wider returns the wider of two numeric types. Mixed-width operations
// are defined modulo the bit width of the wider operand.
func Wider(a, b UintType) UintType {
	if b > a {
		return b
	}
	return a
}

// PrincipalLen is the byte length of a Principal.
const PrincipalLen = 20

// Principal is an address-like identifier for an external actor, or for
// the engine itself (see Self). The zero value is not a valid recipient.
type Principal [PrincipalLen]byte

// Self is the reserved principal representing the engine. Grants to Self
// authorize the engine's own narrow decryptions (e.g. a comparison bit);
// they never authorize an external caller.
var Self = func() Principal {
	var p Principal
	sum := sha256.Sum256([]byte("confidential.principal.self"))
	copy(p[:], sum[:PrincipalLen])
	return p
}()

// PrincipalFromBytes converts a byte slice to a Principal.
func PrincipalFromBytes(b []byte) (Principal, error) {
	var p Principal
	if len(b) != PrincipalLen {
		return p, fmt.Errorf("%w: principal must be %d bytes, got %d", ErrInvalidRecipient, PrincipalLen, len(b))
	}
	copy(p[:], b)
	return p, nil
}

// PrincipalFromString parses a 0x-prefixed hex principal.
func PrincipalFromString(s string) (Principal, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	return PrincipalFromBytes(b)
}

// IsZero reports whether p is the zero principal.
func (p Principal) IsZero() bool {
	return p == Principal{}
}

func (p Principal) String() string {
	return "0x" + hex.EncodeToString(p[:])
}

// MarshalText implements encoding.TextMarshaler.
func (p Principal) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Principal) UnmarshalText(b []byte) error {
	parsed, err := PrincipalFromString(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Handle is an opaque, comparable identifier for an encrypted value.
// Handles are minted by the Registry and never contain plaintext or
// ciphertext bytes; a result of a homomorphic operation is always a new
// handle, never a mutation of an input.
type Handle ids.ID

func (h Handle) String() string {
	return ids.ID(h).String()
}

// IsZero reports whether h is the zero handle, which no registry ever
// issues.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(b []byte) error {
	id, err := ids.FromString(string(b))
	if err != nil {
		return err
	}
	*h = Handle(id)
	return nil
}
