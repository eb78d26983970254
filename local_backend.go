// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// Backend errors.
var (
	ErrUnknownRef = errors.New("unknown evaluator ref")
	ErrBadOpArity = errors.New("wrong operand count for operation")
)

// localMagic prefixes material produced by Seal.
var localMagic = [4]byte{'L', 'C', 'T', '1'}

const localMaterialLen = 4 + 1 + 8 + 8 // magic || type || nonce || masked value

// LocalBackend is the reference evaluator: it carries plaintexts behind
// opaque refs and evaluates operations directly, with the exact
// fixed-width wraparound semantics a homomorphic backend provides. It
// stands in for the external evaluator in tests and in local single-node
// deployments; its material format (see Seal) is a masked transport
// encoding, not encryption.
type LocalBackend struct {
	mu    sync.Mutex
	slots []localSlot

	applyCalls   int
	decryptCalls int
}

type localSlot struct {
	value uint64
	typ   UintType
}

// NewLocalBackend creates an empty local evaluator.
func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

// Seal encodes a value as local-backend ciphertext material. The value
// is masked with a nonce-derived pad so material is not a literal
// plaintext, but this provides no cryptographic confidentiality.
func Seal(value uint64, t UintType) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type %d", ErrMalformedCiphertext, t)
	}

	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal nonce: %w", err)
	}

	out := make([]byte, localMaterialLen)
	copy(out[:4], localMagic[:])
	out[4] = byte(t)
	copy(out[5:13], nonce[:])
	binary.BigEndian.PutUint64(out[13:21], t.Mask(value)^localPad(nonce))
	return out, nil
}

// localPad derives the masking pad for a nonce.
func localPad(nonce [8]byte) uint64 {
	sum := sha256.Sum256(append(nonce[:], []byte("confidential.local.pad")...))
	return binary.BigEndian.Uint64(sum[:8])
}

func (b *LocalBackend) Parse(material []byte, t UintType) (Ref, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("unknown type %d", t)
	}
	if len(material) != localMaterialLen {
		return 0, fmt.Errorf("material must be %d bytes, got %d", localMaterialLen, len(material))
	}
	if [4]byte(material[:4]) != localMagic {
		return 0, errors.New("bad material magic")
	}
	if UintType(material[4]) != t {
		return 0, fmt.Errorf("material type %s does not match declared %s", UintType(material[4]), t)
	}

	var nonce [8]byte
	copy(nonce[:], material[5:13])
	value := binary.BigEndian.Uint64(material[13:21]) ^ localPad(nonce)

	return b.store(t.Mask(value), t), nil
}

func (b *LocalBackend) EncryptTrivial(value uint64, t UintType) (Ref, error) {
	if !t.Valid() {
		return 0, fmt.Errorf("unknown type %d", t)
	}
	return b.store(t.Mask(value), t), nil
}

func (b *LocalBackend) Apply(op OpCode, t UintType, args ...Ref) (Ref, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.applyCalls++

	want := 2
	if op == OpSelect {
		want = 3
	}
	if len(args) != want {
		return 0, fmt.Errorf("%w: %s takes %d operands, got %d", ErrBadOpArity, op, want, len(args))
	}

	vals := make([]uint64, len(args))
	for i, ref := range args {
		v, err := b.valueLocked(ref)
		if err != nil {
			return 0, err
		}
		vals[i] = v
	}

	var out uint64
	switch op {
	case OpAdd:
		out = vals[0] + vals[1]
	case OpSub:
		out = vals[0] - vals[1]
	case OpMul:
		out = vals[0] * vals[1]
	case OpMin:
		out = vals[0]
		if vals[1] < out {
			out = vals[1]
		}
	case OpMax:
		out = vals[0]
		if vals[1] > out {
			out = vals[1]
		}
	case OpEq:
		out = boolBit(vals[0] == vals[1])
	case OpNe:
		out = boolBit(vals[0] != vals[1])
	case OpLt:
		out = boolBit(vals[0] < vals[1])
	case OpLe:
		out = boolBit(vals[0] <= vals[1])
	case OpGt:
		out = boolBit(vals[0] > vals[1])
	case OpGe:
		out = boolBit(vals[0] >= vals[1])
	case OpAnd:
		out = vals[0] & vals[1] & 1
	case OpOr:
		out = (vals[0] | vals[1]) & 1
	case OpSelect:
		// Both branches were already evaluated by the caller; the
		// selection itself is data-independent from the outside.
		if vals[0]&1 == 1 {
			out = vals[1]
		} else {
			out = vals[2]
		}
	default:
		return 0, fmt.Errorf("unsupported operation %d", op)
	}

	resultType := t
	if op.Comparison() {
		resultType = Bool
	}

	b.slots = append(b.slots, localSlot{value: resultType.Mask(t.Mask(out)), typ: resultType})
	return Ref(len(b.slots) - 1), nil
}

func (b *LocalBackend) Decrypt(ref Ref) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.decryptCalls++
	return b.valueLocked(ref)
}

// DecryptCalls returns how many times Decrypt has been invoked. Tests
// use it to observe plaintext caching.
func (b *LocalBackend) DecryptCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.decryptCalls
}

// ApplyCalls returns how many operations have been evaluated.
func (b *LocalBackend) ApplyCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyCalls
}

func (b *LocalBackend) store(value uint64, t UintType) Ref {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots = append(b.slots, localSlot{value: value, typ: t})
	return Ref(len(b.slots) - 1)
}

func (b *LocalBackend) valueLocked(ref Ref) (uint64, error) {
	if int(ref) >= len(b.slots) {
		return 0, fmt.Errorf("%w: %d", ErrUnknownRef, ref)
	}
	return b.slots[ref].value, nil
}

func boolBit(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}
