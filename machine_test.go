// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package confidential

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testPrincipal(tag byte) Principal {
	var p Principal
	p[PrincipalLen-1] = tag
	return p
}

func newTestMachine(t *testing.T) (*LocalBackend, *Machine) {
	t.Helper()
	backend := NewLocalBackend()
	return backend, NewMachine(backend, nil)
}

func trivial(t *testing.T, m *Machine, value uint64, typ UintType) Handle {
	t.Helper()
	h, err := m.EncryptTrivial(value, typ)
	require.NoError(t, err)
	return h
}

// decryptAsSelf grants Self and decrypts, for asserting on values whose
// access control is not itself under test.
func decryptAsSelf(t *testing.T, m *Machine, h Handle) uint64 {
	t.Helper()
	require.NoError(t, m.Grant(h, Self, Persistent))
	v, err := m.Decrypt(h, Self)
	require.NoError(t, err)
	return v
}

func TestSubWraparound(t *testing.T) {
	_, m := newTestMachine(t)

	tests := []struct {
		typ  UintType
		want uint64
	}{
		{Uint8, 255},
		{Uint16, 65535},
		{Uint32, 1<<32 - 1},
		{Uint64, ^uint64(0)},
	}
	for _, tt := range tests {
		zero := trivial(t, m, 0, tt.typ)
		one := trivial(t, m, 1, tt.typ)

		diff, err := m.Sub(zero, one)
		require.NoError(t, err)
		require.Equal(t, tt.want, decryptAsSelf(t, m, diff), "sub(0,1) on %s", tt.typ)
	}
}

func TestArithmetic(t *testing.T) {
	_, m := newTestMachine(t)

	a := trivial(t, m, 200, Uint8)
	b := trivial(t, m, 100, Uint8)

	sum, err := m.Add(a, b)
	require.NoError(t, err)
	require.Equal(t, uint64(44), decryptAsSelf(t, m, sum), "300 mod 256")

	prod, err := m.Mul(a, b)
	require.NoError(t, err)
	require.Equal(t, uint64(20000%256), decryptAsSelf(t, m, prod))

	lo, err := m.Min(a, b)
	require.NoError(t, err)
	require.Equal(t, uint64(100), decryptAsSelf(t, m, lo))

	hi, err := m.Max(a, b)
	require.NoError(t, err)
	require.Equal(t, uint64(200), decryptAsSelf(t, m, hi))
}

func TestMixedWidthWidens(t *testing.T) {
	_, m := newTestMachine(t)

	a := trivial(t, m, 200, Uint8)
	b := trivial(t, m, 400, Uint16)

	sum, err := m.Add(a, b)
	require.NoError(t, err)

	_, typ, err := m.Registry().Resolve(sum)
	require.NoError(t, err)
	require.Equal(t, Uint16, typ)
	require.Equal(t, uint64(600), decryptAsSelf(t, m, sum))
}

func TestComparisons(t *testing.T) {
	_, m := newTestMachine(t)

	a := trivial(t, m, 5, Uint32)
	b := trivial(t, m, 9, Uint32)

	tests := []struct {
		name string
		op   func(x, y Handle) (Handle, error)
		want bool
	}{
		{"eq", m.Eq, false},
		{"ne", m.Ne, true},
		{"lt", m.Lt, true},
		{"le", m.Le, true},
		{"gt", m.Gt, false},
		{"ge", m.Ge, false},
	}
	for _, tt := range tests {
		h, err := tt.op(a, b)
		require.NoError(t, err, tt.name)

		_, typ, err := m.Registry().Resolve(h)
		require.NoError(t, err)
		require.Equal(t, Bool, typ, tt.name)

		require.NoError(t, m.Grant(h, Self, Persistent))
		got, err := m.DecryptBool(h, Self)
		require.NoError(t, err)
		require.Equal(t, tt.want, got, tt.name)
	}
}

func TestSelect(t *testing.T) {
	_, m := newTestMachine(t)

	a := trivial(t, m, 111, Uint64)
	b := trivial(t, m, 222, Uint64)

	for _, cond := range []bool{true, false} {
		var bit uint64
		if cond {
			bit = 1
		}
		c := trivial(t, m, bit, Bool)

		sel, err := m.Select(c, a, b)
		require.NoError(t, err)

		want := uint64(222)
		if cond {
			want = 111
		}
		require.Equal(t, want, decryptAsSelf(t, m, sel))
	}
}

func TestSelectResultIsFresh(t *testing.T) {
	_, m := newTestMachine(t)

	a := trivial(t, m, 1, Uint64)
	b := trivial(t, m, 2, Uint64)
	c := trivial(t, m, 1, Bool)

	sel, err := m.Select(c, a, b)
	require.NoError(t, err)
	require.NotEqual(t, a, sel, "select must mint a new handle, not alias an input")
}

func TestBooleanOps(t *testing.T) {
	_, m := newTestMachine(t)

	tr := trivial(t, m, 1, Bool)
	fa := trivial(t, m, 0, Bool)

	and, err := m.And(tr, fa)
	require.NoError(t, err)
	require.Equal(t, uint64(0), decryptAsSelf(t, m, and))

	or, err := m.Or(tr, fa)
	require.NoError(t, err)
	require.Equal(t, uint64(1), decryptAsSelf(t, m, or))
}

func TestTypeMismatch(t *testing.T) {
	_, m := newTestMachine(t)

	num := trivial(t, m, 3, Uint32)
	flag := trivial(t, m, 1, Bool)

	_, err := m.And(num, num)
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.Lt(flag, flag)
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.Add(flag, num)
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.Select(num, num, num)
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = m.Eq(flag, num)
	require.ErrorIs(t, err, ErrTypeMismatch)

	// Eq over two booleans is fine.
	_, err = m.Eq(flag, flag)
	require.NoError(t, err)
}

func TestZeroGrantConfidentiality(t *testing.T) {
	_, m := newTestMachine(t)

	h := trivial(t, m, 1234, Uint64)

	for _, p := range []Principal{testPrincipal(1), testPrincipal(2), Self} {
		_, err := m.Decrypt(h, p)
		require.ErrorIs(t, err, ErrAccessDenied)
	}
}

func TestGrantRevoke(t *testing.T) {
	_, m := newTestMachine(t)

	alice := testPrincipal(1)
	h := trivial(t, m, 77, Uint64)

	require.NoError(t, m.Grant(h, alice, Persistent))
	v, err := m.Decrypt(h, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(77), v)

	require.NoError(t, m.Revoke(h, alice))
	_, err = m.Decrypt(h, alice)
	require.ErrorIs(t, err, ErrAccessDenied)

	// Revoked handles remain valid operands.
	sum, err := m.Add(h, h)
	require.NoError(t, err)
	require.False(t, sum.IsZero())
}

func TestGrantValidation(t *testing.T) {
	_, m := newTestMachine(t)

	h := trivial(t, m, 1, Uint8)

	err := m.Grant(h, Principal{}, Persistent)
	require.ErrorIs(t, err, ErrInvalidRecipient)

	err = m.Grant(Handle{}, testPrincipal(1), Persistent)
	require.ErrorIs(t, err, ErrUnknownHandle)

	_, err = m.Decrypt(Handle{}, testPrincipal(1))
	require.ErrorIs(t, err, ErrUnknownHandle)
}

func TestTransientScope(t *testing.T) {
	_, m := newTestMachine(t)
	alice := testPrincipal(1)

	var h Handle
	err := m.RunCall(context.Background(), func(m *Machine) error {
		h = trivial(t, m, 5, Uint64)
		if err := m.Grant(h, alice, Transient); err != nil {
			return err
		}
		// Visible within the granting call.
		require.True(t, m.Ledger().CanDecrypt(h, alice))
		return nil
	})
	require.NoError(t, err)

	// Gone for any later call.
	err = m.RunCall(context.Background(), func(m *Machine) error {
		require.False(t, m.Ledger().CanDecrypt(h, alice))
		_, err := m.Decrypt(h, alice)
		require.ErrorIs(t, err, ErrAccessDenied)
		return nil
	})
	require.NoError(t, err)
}

func TestPersistentSurvivesCalls(t *testing.T) {
	_, m := newTestMachine(t)
	alice := testPrincipal(1)

	var h Handle
	require.NoError(t, m.RunCall(context.Background(), func(m *Machine) error {
		h = trivial(t, m, 5, Uint64)
		return m.Grant(h, alice, Persistent)
	}))

	v, err := m.Decrypt(h, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
}

func TestRunCallRollback(t *testing.T) {
	_, m := newTestMachine(t)
	alice := testPrincipal(1)

	base := trivial(t, m, 9, Uint64)
	require.NoError(t, m.Grant(base, alice, Persistent))
	baseline := m.Registry().Len()

	boom := errors.New("boom")
	var created Handle
	err := m.RunCall(context.Background(), func(m *Machine) error {
		var err error
		created, err = m.EncryptTrivial(1, Uint64)
		require.NoError(t, err)
		require.NoError(t, m.Grant(created, alice, Persistent))
		require.NoError(t, m.Revoke(base, alice))
		return boom
	})
	require.ErrorIs(t, err, boom)

	// No partial state: the handle is gone, grants are as before.
	require.Equal(t, baseline, m.Registry().Len())
	_, _, err = m.Registry().Resolve(created)
	require.ErrorIs(t, err, ErrUnknownHandle)
	require.True(t, m.Ledger().CanDecrypt(base, alice), "revocation inside the failed call must roll back")
}

func TestRunCallCancelled(t *testing.T) {
	_, m := newTestMachine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.RunCall(ctx, func(*Machine) error {
		t.Fatal("body must not run on a cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestProvenance(t *testing.T) {
	_, m := newTestMachine(t)

	h := trivial(t, m, 1, Uint8)
	prov, err := m.Registry().Provenance(h)
	require.NoError(t, err)
	require.Equal(t, Self, prov.Creator)
	require.Equal(t, "trivial", prov.Op)
	require.False(t, prov.Validated)

	sum, err := m.Add(h, h)
	require.NoError(t, err)
	prov, err = m.Registry().Provenance(sum)
	require.NoError(t, err)
	require.Equal(t, "add", prov.Op)
}
