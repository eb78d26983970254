// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import (
	"fmt"
	"sync"

	"github.com/luxfi/log"
)

// Machine is the homomorphic operation facade: typed wrappers that
// resolve input handles, invoke the evaluator, register results and
// gate the single exit from ciphertext-space to plaintext-space. No
// operation ever mutates an input handle.
type Machine struct {
	backend  Backend
	registry *Registry
	ledger   *Ledger
	log      log.Logger

	// callMu serializes top-level calls: the engine follows a
	// single-writer-per-call model and performs no internal threading.
	callMu sync.Mutex
}

// NewMachine creates a machine over the given evaluator backend. The
// logger may be nil.
func NewMachine(backend Backend, logger log.Logger) *Machine {
	return &Machine{
		backend:  backend,
		registry: NewRegistry(),
		ledger:   NewLedger(),
		log:      logger,
	}
}

// Registry returns the machine's handle registry.
func (m *Machine) Registry() *Registry { return m.registry }

// Ledger returns the machine's access-control ledger.
func (m *Machine) Ledger() *Ledger { return m.ledger }

// EncryptTrivial imports a public constant as a fresh handle. The
// handle starts, like every handle, with zero grants.
func (m *Machine) EncryptTrivial(value uint64, t UintType) (Handle, error) {
	ref, err := m.backend.EncryptTrivial(value, t)
	if err != nil {
		return Handle{}, fmt.Errorf("trivial encrypt: %w", err)
	}
	return m.registry.Create(ref, t, Provenance{Creator: Self, Op: "trivial"}), nil
}

// Add returns a + b modulo the width of the wider operand.
func (m *Machine) Add(a, b Handle) (Handle, error) { return m.arith(OpAdd, a, b) }

// Sub returns a - b with underflow wrapping around.
func (m *Machine) Sub(a, b Handle) (Handle, error) { return m.arith(OpSub, a, b) }

// Mul returns a * b modulo the width of the wider operand.
func (m *Machine) Mul(a, b Handle) (Handle, error) { return m.arith(OpMul, a, b) }

// Min returns the smaller of a and b.
func (m *Machine) Min(a, b Handle) (Handle, error) { return m.arith(OpMin, a, b) }

// Max returns the larger of a and b.
func (m *Machine) Max(a, b Handle) (Handle, error) { return m.arith(OpMax, a, b) }

// Eq returns an encrypted boolean a == b.
func (m *Machine) Eq(a, b Handle) (Handle, error) { return m.compare(OpEq, a, b) }

// Ne returns an encrypted boolean a != b.
func (m *Machine) Ne(a, b Handle) (Handle, error) { return m.compare(OpNe, a, b) }

// Lt returns an encrypted boolean a < b.
func (m *Machine) Lt(a, b Handle) (Handle, error) { return m.compare(OpLt, a, b) }

// Le returns an encrypted boolean a <= b.
func (m *Machine) Le(a, b Handle) (Handle, error) { return m.compare(OpLe, a, b) }

// Gt returns an encrypted boolean a > b.
func (m *Machine) Gt(a, b Handle) (Handle, error) { return m.compare(OpGt, a, b) }

// Ge returns an encrypted boolean a >= b.
func (m *Machine) Ge(a, b Handle) (Handle, error) { return m.compare(OpGe, a, b) }

// And returns the conjunction of two encrypted booleans.
func (m *Machine) And(a, b Handle) (Handle, error) { return m.boolean(OpAnd, a, b) }

// Or returns the disjunction of two encrypted booleans.
func (m *Machine) Or(a, b Handle) (Handle, error) { return m.boolean(OpOr, a, b) }

// Select returns ifTrue when cond holds and ifFalse otherwise. Both
// branches are evaluated unconditionally; this is the only sanctioned
// way to branch on encrypted data. Decrypting a condition to pick a
// code path is not a substitute, since it exposes the condition.
func (m *Machine) Select(cond, ifTrue, ifFalse Handle) (Handle, error) {
	condRef, condType, err := m.registry.Resolve(cond)
	if err != nil {
		return Handle{}, err
	}
	if condType != Bool {
		return Handle{}, fmt.Errorf("%w: select condition must be %s, got %s", ErrTypeMismatch, Bool, condType)
	}
	aRef, aType, err := m.registry.Resolve(ifTrue)
	if err != nil {
		return Handle{}, err
	}
	bRef, bType, err := m.registry.Resolve(ifFalse)
	if err != nil {
		return Handle{}, err
	}
	if aType.Numeric() != bType.Numeric() {
		return Handle{}, fmt.Errorf("%w: select branches %s and %s", ErrTypeMismatch, aType, bType)
	}

	t := Wider(aType, bType)
	ref, err := m.backend.Apply(OpSelect, t, condRef, aRef, bRef)
	if err != nil {
		return Handle{}, fmt.Errorf("select: %w", err)
	}
	return m.registry.Create(ref, t, Provenance{Creator: Self, Op: OpSelect.String()}), nil
}

// Decrypt is the single exit point from ciphertext-space. It succeeds
// only when the ledger holds a grant for the requester on the handle.
func (m *Machine) Decrypt(h Handle, requester Principal) (uint64, error) {
	ref, _, err := m.registry.Resolve(h)
	if err != nil {
		return 0, err
	}
	if !m.ledger.CanDecrypt(h, requester) {
		if m.log != nil {
			m.log.Debug("decrypt denied",
				log.Stringer("handle", h),
				log.Stringer("requester", requester),
			)
		}
		return 0, ErrAccessDenied
	}

	value, err := m.backend.Decrypt(ref)
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}
	return value, nil
}

// DecryptBool decrypts a boolean handle.
func (m *Machine) DecryptBool(h Handle, requester Principal) (bool, error) {
	_, t, err := m.registry.Resolve(h)
	if err != nil {
		return false, err
	}
	if t != Bool {
		return false, fmt.Errorf("%w: %s is not %s", ErrTypeMismatch, t, Bool)
	}
	v, err := m.Decrypt(h, requester)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Grant authorizes p to decrypt h. The handle must exist.
func (m *Machine) Grant(h Handle, p Principal, scope Scope) error {
	if _, _, err := m.registry.Resolve(h); err != nil {
		return err
	}
	return m.ledger.Grant(h, p, scope)
}

// Revoke removes p's grants on h.
func (m *Machine) Revoke(h Handle, p Principal) error {
	if _, _, err := m.registry.Resolve(h); err != nil {
		return err
	}
	m.ledger.Revoke(h, p)
	return nil
}

// arith evaluates a numeric operation modulo the wider operand's width.
func (m *Machine) arith(op OpCode, a, b Handle) (Handle, error) {
	aRef, aType, bRef, bType, err := m.resolvePair(a, b)
	if err != nil {
		return Handle{}, err
	}
	if !aType.Numeric() || !bType.Numeric() {
		return Handle{}, fmt.Errorf("%w: %s needs integer operands, got %s and %s", ErrTypeMismatch, op, aType, bType)
	}
	return m.apply(op, Wider(aType, bType), aRef, bRef)
}

// compare evaluates an ordering operation, producing a boolean handle.
// Eq and Ne additionally accept boolean operand pairs.
func (m *Machine) compare(op OpCode, a, b Handle) (Handle, error) {
	aRef, aType, bRef, bType, err := m.resolvePair(a, b)
	if err != nil {
		return Handle{}, err
	}
	bothBool := aType == Bool && bType == Bool
	if bothBool && op != OpEq && op != OpNe {
		return Handle{}, fmt.Errorf("%w: %s is not defined on booleans", ErrTypeMismatch, op)
	}
	if !bothBool && (!aType.Numeric() || !bType.Numeric()) {
		return Handle{}, fmt.Errorf("%w: %s on %s and %s", ErrTypeMismatch, op, aType, bType)
	}
	return m.apply(op, Wider(aType, bType), aRef, bRef)
}

func (m *Machine) boolean(op OpCode, a, b Handle) (Handle, error) {
	aRef, aType, bRef, bType, err := m.resolvePair(a, b)
	if err != nil {
		return Handle{}, err
	}
	if aType != Bool || bType != Bool {
		return Handle{}, fmt.Errorf("%w: %s needs boolean operands, got %s and %s", ErrTypeMismatch, op, aType, bType)
	}
	return m.apply(op, Bool, aRef, bRef)
}

func (m *Machine) resolvePair(a, b Handle) (Ref, UintType, Ref, UintType, error) {
	aRef, aType, err := m.registry.Resolve(a)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	bRef, bType, err := m.registry.Resolve(b)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return aRef, aType, bRef, bType, nil
}

func (m *Machine) apply(op OpCode, t UintType, args ...Ref) (Handle, error) {
	ref, err := m.backend.Apply(op, t, args...)
	if err != nil {
		return Handle{}, fmt.Errorf("%s: %w", op, err)
	}
	out := t
	if op.Comparison() {
		out = Bool
	}
	return m.registry.Create(ref, out, Provenance{Creator: Self, Op: op.String()}), nil
}
