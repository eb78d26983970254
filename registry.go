// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import (
	"crypto/sha256"
	"encoding/binary"
)

// Provenance records who created a handle and from what operation.
type Provenance struct {
	// Creator is the principal the value is attributed to: the
	// submitter for validated inputs, Self for operation results and
	// trivial constants.
	Creator Principal

	// Op names the origin: "input", "trivial", or an operation tag.
	Op string

	// Validated is true only for handles admitted through the
	// proof-carrying input validator.
	Validated bool
}

type registryEntry struct {
	ref  Ref
	typ  UintType
	prov Provenance
}

// Registry owns every ciphertext handle of one computation. It maps
// opaque handles to evaluator refs and provenance. Resolving a handle
// another registry minted fails with ErrUnknownHandle, which defends
// against handle confusion across unrelated computations. Handles are
// never deleted; dropping the last reference to one is the
// application's concern, not the registry's.
type Registry struct {
	entries map[Handle]registryEntry
	journal []Handle // creation order, for call rollback
	counter uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[Handle]registryEntry)}
}

// Create mints a fresh handle for an evaluator ref. The handle is
// derived from a per-registry counter, so two values with identical
// ciphertexts still get distinct handles.
func (r *Registry) Create(ref Ref, t UintType, prov Provenance) Handle {
	r.counter++

	hash := sha256.New()
	hash.Write([]byte("confidential.handle"))
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], r.counter)
	hash.Write(ctr[:])
	hash.Write(prov.Creator[:])
	hash.Write([]byte(prov.Op))

	var h Handle
	copy(h[:], hash.Sum(nil))

	r.entries[h] = registryEntry{ref: ref, typ: t, prov: prov}
	r.journal = append(r.journal, h)
	return h
}

// Resolve returns the evaluator ref and type behind a handle.
func (r *Registry) Resolve(h Handle) (Ref, UintType, error) {
	e, ok := r.entries[h]
	if !ok {
		return 0, 0, ErrUnknownHandle
	}
	return e.ref, e.typ, nil
}

// Provenance returns the provenance recorded at creation.
func (r *Registry) Provenance(h Handle) (Provenance, error) {
	e, ok := r.entries[h]
	if !ok {
		return Provenance{}, ErrUnknownHandle
	}
	return e.prov, nil
}

// Len returns the number of handles ever created.
func (r *Registry) Len() int {
	return len(r.entries)
}

// snapshot marks the current creation point for rollback.
func (r *Registry) snapshot() int {
	return len(r.journal)
}

// restore discards every handle created after the mark. Entries are
// immutable, so undoing creation is the only rollback needed.
func (r *Registry) restore(mark int) {
	for _, h := range r.journal[mark:] {
		delete(r.entries, h)
	}
	r.journal = r.journal[:mark]
}
