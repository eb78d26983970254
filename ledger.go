// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

// Scope is the lifetime of a decryption grant.
type Scope uint8

const (
	// Persistent grants survive across calls until revoked.
	Persistent Scope = iota

	// Transient grants expire at the end of the call that created them
	// and are never visible to a later call.
	Transient
)

func (s Scope) String() string {
	switch s {
	case Persistent:
		return "persistent"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

type grantKey struct {
	h Handle
	p Principal
}

// Ledger is the access-control ledger: the per-handle set of principals
// permitted to request decryption. Grants live in one central ledger
// rather than as flags on domain objects, so transient clearing and
// auditing are uniform. A freshly created handle has zero grants; there
// is no implicit "creator can decrypt". A handle whose grants have all
// been revoked is decryption-dead but still usable as an operand.
type Ledger struct {
	persistent map[grantKey]struct{}
	transient  map[grantKey]struct{}
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		persistent: make(map[grantKey]struct{}),
		transient:  make(map[grantKey]struct{}),
	}
}

// Grant authorizes p to decrypt h within the given scope.
func (l *Ledger) Grant(h Handle, p Principal, scope Scope) error {
	if p.IsZero() {
		return ErrInvalidRecipient
	}
	key := grantKey{h: h, p: p}
	switch scope {
	case Transient:
		l.transient[key] = struct{}{}
	default:
		l.persistent[key] = struct{}{}
	}
	return nil
}

// Revoke removes p's grants on h in both scopes. Revocation is
// immediate for all future CanDecrypt checks; it does not retract a
// plaintext already returned.
func (l *Ledger) Revoke(h Handle, p Principal) {
	key := grantKey{h: h, p: p}
	delete(l.persistent, key)
	delete(l.transient, key)
}

// CanDecrypt reports whether p currently holds a grant on h.
func (l *Ledger) CanDecrypt(h Handle, p Principal) bool {
	key := grantKey{h: h, p: p}
	if _, ok := l.persistent[key]; ok {
		return true
	}
	_, ok := l.transient[key]
	return ok
}

// ClearTransient drops every transient grant. The call boundary invokes
// it exactly once per call, on success and on failure alike.
func (l *Ledger) ClearTransient() {
	clear(l.transient)
}

type ledgerSnapshot struct {
	persistent map[grantKey]struct{}
	transient  map[grantKey]struct{}
}

func (l *Ledger) snapshot() ledgerSnapshot {
	s := ledgerSnapshot{
		persistent: make(map[grantKey]struct{}, len(l.persistent)),
		transient:  make(map[grantKey]struct{}, len(l.transient)),
	}
	for k := range l.persistent {
		s.persistent[k] = struct{}{}
	}
	for k := range l.transient {
		s.transient[k] = struct{}{}
	}
	return s
}

func (l *Ledger) restore(s ledgerSnapshot) {
	l.persistent = s.persistent
	l.transient = s.transient
}
