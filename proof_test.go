// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import (
	"testing"

	"github.com/luxfi/ids"
	"github.com/stretchr/testify/require"
)

var testProofKey = []byte("test-proof-verification-key")

func newTestValidator(t *testing.T) (*LocalBackend, *Registry, *Validator) {
	t.Helper()
	backend := NewLocalBackend()
	registry := NewRegistry()
	return backend, registry, NewValidator(testProofKey, backend, registry)
}

func sealEnvelope(t *testing.T, submitter Principal, ctx ids.ID, value, nonce uint64) ProofEnvelope {
	t.Helper()
	material, err := Seal(value, Uint64)
	require.NoError(t, err)
	return SignEnvelope(testProofKey, submitter, ctx, material, nonce)
}

func TestAdmitValidEnvelope(t *testing.T) {
	backend, registry, v := newTestValidator(t)
	alice := testPrincipal(1)
	target := ids.GenerateTestID()

	env := sealEnvelope(t, alice, target, 1000, 1)
	h, err := v.Admit(target, env, Uint64)
	require.NoError(t, err)

	ref, typ, err := registry.Resolve(h)
	require.NoError(t, err)
	require.Equal(t, Uint64, typ)

	value, err := backend.Decrypt(ref)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), value)

	prov, err := registry.Provenance(h)
	require.NoError(t, err)
	require.Equal(t, alice, prov.Creator)
	require.True(t, prov.Validated)
	require.Equal(t, "input", prov.Op)
}

func TestAdmitRejectsMalformedMaterial(t *testing.T) {
	_, _, v := newTestValidator(t)
	target := ids.GenerateTestID()

	env := sealEnvelope(t, testPrincipal(1), target, 5, 1)
	env.Material = env.Material[:8]

	_, err := v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrMalformedCiphertext)
}

func TestAdmitRejectsTamperedProof(t *testing.T) {
	_, _, v := newTestValidator(t)
	target := ids.GenerateTestID()

	env := sealEnvelope(t, testPrincipal(1), target, 5, 1)
	env.Proof[len(env.Proof)-1] ^= 0x01

	_, err := v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestAdmitRejectsForeignSubmitter(t *testing.T) {
	_, _, v := newTestValidator(t)
	target := ids.GenerateTestID()

	// Mallory replays Alice's material under her own identity.
	env := sealEnvelope(t, testPrincipal(1), target, 5, 1)
	env.Submitter = testPrincipal(2)

	_, err := v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestAdmitRejectsWrongContext(t *testing.T) {
	_, _, v := newTestValidator(t)
	minted := ids.GenerateTestID()
	target := ids.GenerateTestID()

	env := sealEnvelope(t, testPrincipal(1), minted, 5, 1)
	_, err := v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestAdmitRejectsZeroSubmitter(t *testing.T) {
	_, _, v := newTestValidator(t)
	target := ids.GenerateTestID()

	env := sealEnvelope(t, Principal{}, target, 5, 1)
	_, err := v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestProofSingleUse(t *testing.T) {
	_, _, v := newTestValidator(t)
	alice := testPrincipal(1)
	target := ids.GenerateTestID()

	env := sealEnvelope(t, alice, target, 5, 3)
	_, err := v.Admit(target, env, Uint64)
	require.NoError(t, err)

	_, err = v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrReplayedProof)

	// Stale nonces below the high-water mark are replays too.
	old := sealEnvelope(t, alice, target, 5, 2)
	_, err = v.Admit(target, old, Uint64)
	require.ErrorIs(t, err, ErrReplayedProof)

	// A fresh nonce from the same submitter is fine.
	next := sealEnvelope(t, alice, target, 5, 4)
	_, err = v.Admit(target, next, Uint64)
	require.NoError(t, err)
}

func TestNonceZeroAlwaysRejected(t *testing.T) {
	_, _, v := newTestValidator(t)
	target := ids.GenerateTestID()

	// 0 sits below the initial high-water mark; a correctly signed
	// first-use envelope carrying it is still a replay.
	env := sealEnvelope(t, testPrincipal(1), target, 5, 0)
	_, err := v.Admit(target, env, Uint64)
	require.ErrorIs(t, err, ErrReplayedProof)
}

func TestNoncesAreScopedPerSubmitterAndContext(t *testing.T) {
	_, _, v := newTestValidator(t)
	target := ids.GenerateTestID()
	other := ids.GenerateTestID()

	_, err := v.Admit(target, sealEnvelope(t, testPrincipal(1), target, 5, 1), Uint64)
	require.NoError(t, err)

	// Same nonce, different submitter.
	_, err = v.Admit(target, sealEnvelope(t, testPrincipal(2), target, 5, 1), Uint64)
	require.NoError(t, err)

	// Same submitter and nonce, different context.
	_, err = v.Admit(other, sealEnvelope(t, testPrincipal(1), other, 5, 1), Uint64)
	require.NoError(t, err)
}

func TestAdmitBatch(t *testing.T) {
	_, _, v := newTestValidator(t)
	alice := testPrincipal(1)
	target := ids.GenerateTestID()

	envs := []ProofEnvelope{
		sealEnvelope(t, alice, target, 10, 1),
		sealEnvelope(t, alice, target, 20, 2),
	}
	handles, err := v.AdmitBatch(target, envs, Uint64)
	require.NoError(t, err)
	require.Len(t, handles, 2)
	require.NotEqual(t, handles[0], handles[1])
}

func TestAdmitBatchCountMismatch(t *testing.T) {
	_, registry, v := newTestValidator(t)
	alice := testPrincipal(1)
	target := ids.GenerateTestID()

	material, err := Seal(20, Uint64)
	require.NoError(t, err)

	envs := []ProofEnvelope{
		sealEnvelope(t, alice, target, 10, 1),
		{Submitter: alice, Context: target, Material: material},
	}
	_, err = v.AdmitBatch(target, envs, Uint64)
	require.ErrorIs(t, err, ErrProofCountMismatch)
	require.Zero(t, registry.Len(), "mismatch must be rejected before any admission")
}
