package register_test

import (
	"testing"

	"github.com/sorchaledger/sorcha/kv"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *register.Store {
	t.Helper()
	registry := kv.NewMemStore()
	return register.NewStore(registry, func(ns string) kv.Store {
		return registry.NewNamespace(ns)
	})
}

func mustRegisterID(t *testing.T, s string) thor.RegisterID {
	t.Helper()
	id, err := thor.ParseRegisterID(s)
	require.NoError(t, err)
	return id
}

func TestCreateAndGet(t *testing.T) {
	s := newStore(t)
	id := mustRegisterID(t, "00112233445566778899aabbccddeeff")

	r, err := s.Create(id, "widgets", "tenant-1", true)
	require.NoError(t, err)
	assert.Equal(t, register.StatusCreated, r.Status)
	assert.Equal(t, uint64(0), r.Height)

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "widgets", got.Name)
}

func TestAppendDocketMonotonicHeight(t *testing.T) {
	s := newStore(t)
	id := mustRegisterID(t, "00112233445566778899aabbccddeeff")
	_, err := s.Create(id, "widgets", "tenant-1", true)
	require.NoError(t, err)

	genesis := &register.Docket{RegisterID: id, DocketVersion: 0}
	genesis.DocketID = genesis.ComputeDocketID()
	require.NoError(t, s.AppendDocket(id, genesis))

	r, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Height)

	next := &register.Docket{RegisterID: id, DocketVersion: 1, PreviousDocketID: genesis.DocketID}
	next.DocketID = next.ComputeDocketID()
	require.NoError(t, s.AppendDocket(id, next))

	r, err = s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Height)
}

func TestAppendDocketRejectsGapOrBadLink(t *testing.T) {
	s := newStore(t)
	id := mustRegisterID(t, "00112233445566778899aabbccddeeff")
	_, err := s.Create(id, "widgets", "tenant-1", true)
	require.NoError(t, err)

	// skipping genesis (version 1 when height is 0) must fail
	bad := &register.Docket{RegisterID: id, DocketVersion: 1}
	bad.DocketID = bad.ComputeDocketID()
	err = s.AppendDocket(id, bad)
	assert.ErrorIs(t, err, register.ErrHeightMismatch)

	genesis := &register.Docket{RegisterID: id, DocketVersion: 0}
	genesis.DocketID = genesis.ComputeDocketID()
	require.NoError(t, s.AppendDocket(id, genesis))

	// wrong previous_docket_id must fail
	wrongLink := &register.Docket{RegisterID: id, DocketVersion: 1, PreviousDocketID: thor.Bytes32{0x1}}
	wrongLink.DocketID = wrongLink.ComputeDocketID()
	err = s.AppendDocket(id, wrongLink)
	assert.ErrorIs(t, err, register.ErrPrevDocketMismatch)
}

func TestSoftDeleteIsTerminal(t *testing.T) {
	s := newStore(t)
	id := mustRegisterID(t, "00112233445566778899aabbccddeeff")
	_, err := s.Create(id, "widgets", "tenant-1", true)
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(id))
	err = s.SetStatus(id, register.StatusOnline)
	assert.ErrorIs(t, err, register.ErrDeleted)
}
