// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import "context"

// RunCall executes fn as one transactional call against the machine.
// Calls are serialized. If fn returns an error, every handle and every
// grant it created is rolled back. Transient grants are cleared when
// the call ends, whether it succeeded or not; persistent grants made
// by a successful call survive into later calls.
//
// Proof nonces consumed inside fn are NOT rolled back on failure: a
// proof spends its nonce the moment it validates, so replaying the
// same envelope into a retry is rejected.
func (m *Machine) RunCall(ctx context.Context, fn func(*Machine) error) error {
	m.callMu.Lock()
	defer m.callMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	regMark := m.registry.snapshot()
	ledgerSnap := m.ledger.snapshot()
	defer m.ledger.ClearTransient()

	if err := fn(m); err != nil {
		m.registry.restore(regMark)
		m.ledger.restore(ledgerSnap)
		return err
	}
	return nil
}
