// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

// Ref is an evaluator-internal reference to a ciphertext. Refs are
// meaningful only to the Backend that issued them; the engine treats
// them as opaque and exposes Handles instead.
type Ref uint64

// OpCode tags a homomorphic operation for the evaluator.
type OpCode uint8

const (
	OpAdd OpCode = iota
	OpSub
	OpMul
	OpMin
	OpMax
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpSelect
)

func (op OpCode) String() string {
	switch op {
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpEq:
		return "eq"
	case OpNe:
		return "ne"
	case OpLt:
		return "lt"
	case OpLe:
		return "le"
	case OpGt:
		return "gt"
	case OpGe:
		return "ge"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpSelect:
		return "select"
	default:
		return "unknown"
	}
}

// Comparison reports whether the operation produces a boolean result.
func (op OpCode) Comparison() bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	}
	return false
}

// Backend is the external ciphertext evaluator the engine computes
// through. Given refs and an operation tag it returns a new ref; given a
// ref it returns plaintext. The engine never inspects ciphertext bytes
// and never caches plaintexts on the backend's behalf.
//
// Backend calls are blocking and non-cancellable from the engine's
// perspective; a backend failure aborts the enclosing call.
type Backend interface {
	// Parse structurally validates externally submitted ciphertext
	// material of the given type and imports it, returning a ref.
	Parse(material []byte, t UintType) (Ref, error)

	// EncryptTrivial imports a public constant (e.g. an initial zero)
	// as a ciphertext of the given type.
	EncryptTrivial(value uint64, t UintType) (Ref, error)

	// Apply evaluates op over the argument refs in the plaintext domain
	// of t and returns a ref to the fresh result. Inputs are never
	// mutated.
	Apply(op OpCode, t UintType, args ...Ref) (Ref, error)

	// Decrypt recovers the plaintext behind ref. Access control is the
	// engine's responsibility, not the backend's.
	Decrypt(ref Ref) (uint64, error)
}
