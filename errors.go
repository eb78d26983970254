// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import "errors"

// Engine errors. Every error is a local, synchronous, non-retryable
// rejection of the triggering call: the call did not happen and no
// partial registry or ledger state is committed.
var (
	// ErrMalformedCiphertext is returned when submitted ciphertext
	// material fails the evaluator's structural validation.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")

	// ErrInvalidProof is returned when an input proof does not verify
	// against the claimed submitter and target context.
	ErrInvalidProof = errors.New("invalid input proof")

	// ErrReplayedProof is returned when a proof's freshness nonce has
	// already been consumed for the (submitter, context) pair.
	ErrReplayedProof = errors.New("replayed input proof")

	// ErrProofCountMismatch is returned when a batch supplies a
	// different number of proofs than ciphertexts.
	ErrProofCountMismatch = errors.New("proof count does not match ciphertext count")

	// ErrUnknownHandle is returned when a handle was never issued by
	// this registry instance.
	ErrUnknownHandle = errors.New("unknown ciphertext handle")

	// ErrAccessDenied is returned when a principal requests a
	// decryption it holds no grant for.
	ErrAccessDenied = errors.New("access denied")

	// ErrInvalidRecipient is returned for a zero or otherwise
	// disallowed principal.
	ErrInvalidRecipient = errors.New("invalid recipient principal")

	// ErrTypeMismatch is returned when an operation is applied to
	// operands of incompatible plaintext kinds (e.g. boolean logic on
	// integers).
	ErrTypeMismatch = errors.New("operand type mismatch")
)
