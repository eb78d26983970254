// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"fmt"

	"github.com/luxfi/ids"
)

// proofNonceLen is the length of the freshness nonce prefixing a proof.
const proofNonceLen = 8

// ProofEnvelope carries an externally submitted ciphertext together
// with the proof that it is well-formed, was produced by the claimed
// submitter, and is fresh. One proof authenticates exactly one
// ciphertext for one target context.
type ProofEnvelope struct {
	Submitter Principal
	Context   ids.ID
	Material  []byte
	Proof     []byte
}

// SignEnvelope mints a proof envelope binding material to a submitter,
// a target context and a freshness nonce. Nonces start at 1 and must be
// strictly increasing per (submitter, context); nonce 0 is below every
// validator's initial high-water mark and is always rejected as a
// replay. In production the attestation service holds the key; the
// engine side only verifies.
func SignEnvelope(key []byte, submitter Principal, context ids.ID, material []byte, nonce uint64) ProofEnvelope {
	proof := make([]byte, proofNonceLen, proofNonceLen+sha256.Size)
	binary.BigEndian.PutUint64(proof, nonce)
	proof = append(proof, proofTag(key, submitter, context, material, nonce)...)
	return ProofEnvelope{
		Submitter: submitter,
		Context:   context,
		Material:  material,
		Proof:     proof,
	}
}

func proofTag(key []byte, submitter Principal, context ids.ID, material []byte, nonce uint64) []byte {
	digest := sha256.Sum256(material)

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("confidential.proof"))
	mac.Write(submitter[:])
	mac.Write(context[:])
	mac.Write(digest[:])
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	mac.Write(n[:])
	return mac.Sum(nil)
}

// Validator admits proof-carrying ciphertexts into a registry. Each
// admission passes three gates, in order: structural validity of the
// material, proof verification against (submitter, target context), and
// per-submitter nonce freshness. The validator grants nothing; granting
// decryption rights on an admitted handle is the caller's decision.
type Validator struct {
	key      []byte
	backend  Backend
	registry *Registry

	// Highest nonce consumed per (submitter, context). A nonce spent
	// in a call that later failed stays spent; callers re-sign with a
	// fresh nonce rather than replaying.
	nonces map[nonceKey]uint64
}

type nonceKey struct {
	p   Principal
	ctx ids.ID
}

// NewValidator creates a validator verifying proofs under key.
func NewValidator(key []byte, backend Backend, registry *Registry) *Validator {
	return &Validator{
		key:      append([]byte(nil), key...),
		backend:  backend,
		registry: registry,
		nonces:   make(map[nonceKey]uint64),
	}
}

// Admit validates an envelope for the given target context and, on
// success, registers the ciphertext and returns its handle.
func (v *Validator) Admit(target ids.ID, env ProofEnvelope, t UintType) (Handle, error) {
	if env.Submitter.IsZero() {
		return Handle{}, ErrInvalidRecipient
	}

	ref, err := v.backend.Parse(env.Material, t)
	if err != nil {
		return Handle{}, fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	// The proof is checked against the target context of this
	// admission, not the envelope's claim: a proof minted for another
	// contract or operation must not verify here.
	if env.Context != target {
		return Handle{}, fmt.Errorf("%w: proof bound to context %s, not %s", ErrInvalidProof, env.Context, target)
	}
	if len(env.Proof) != proofNonceLen+sha256.Size {
		return Handle{}, ErrInvalidProof
	}
	nonce := binary.BigEndian.Uint64(env.Proof[:proofNonceLen])
	want := proofTag(v.key, env.Submitter, target, env.Material, nonce)
	if subtle.ConstantTimeCompare(env.Proof[proofNonceLen:], want) != 1 {
		return Handle{}, ErrInvalidProof
	}

	key := nonceKey{p: env.Submitter, ctx: target}
	if nonce <= v.nonces[key] {
		return Handle{}, ErrReplayedProof
	}
	v.nonces[key] = nonce

	return v.registry.Create(ref, t, Provenance{
		Creator:   env.Submitter,
		Op:        "input",
		Validated: true,
	}), nil
}

// AdmitBatch admits N ciphertexts under N distinct proofs. A count
// mismatch is rejected before any admission; proofs are never silently
// paired with materials.
func (v *Validator) AdmitBatch(target ids.ID, envs []ProofEnvelope, t UintType) ([]Handle, error) {
	for _, env := range envs {
		if len(env.Proof) == 0 {
			return nil, ErrProofCountMismatch
		}
	}

	handles := make([]Handle, 0, len(envs))
	for i, env := range envs {
		h, err := v.Admit(target, env, t)
		if err != nil {
			return nil, fmt.Errorf("envelope %d: %w", i, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}
