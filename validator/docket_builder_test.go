package validator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/thor"
)

func TestBuildCandidateProducesGenesisDocketOnFirstTick(t *testing.T) {
	store, regID := newTestStore(t)
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, noopSink{}, nil, testOptions())

	d, txs, err := p.buildCandidate(regID, 100)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Empty(t, txs)
	require.Equal(t, uint64(0), d.DocketVersion)
	require.True(t, d.PreviousDocketID.IsZero())
	require.Equal(t, thor.MerkleRoot(nil), d.MerkleRoot)
}

// TestBuildCandidateGenesisStaysEmptyEvenWithQueuedTransactions covers the
// race where a transaction verifies and lands in the queue before the
// first docket-builder tick fires: docket 0 must still come out empty,
// and the queued transaction must survive to be picked up once height
// advances to 1.
func TestBuildCandidateGenesisStaysEmptyEvenWithQueuedTransactions(t *testing.T) {
	store, regID := newTestStore(t)
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, noopSink{}, nil, testOptions())

	sender := thor.Address{9}
	tx, _ := signedTx(t, regID, sender, nil)
	state, ve := p.Submit(tx)
	require.Nil(t, ve)
	require.Equal(t, StateVerified, state)
	require.Equal(t, 1, p.verifiedDepth(regID))

	d, txs, err := p.buildCandidate(regID, 100)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Empty(t, txs)
	require.Equal(t, uint64(0), d.DocketVersion)
	require.Equal(t, 1, p.verifiedDepth(regID))
}

func TestBuildCandidateReturnsNilWhenVerifiedQueueEmptyPastGenesis(t *testing.T) {
	store, regID := newTestStore(t)
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, noopSink{}, nil, testOptions())

	genesisDocket(t, store, regID)

	d, txs, err := p.buildCandidate(regID, 100)
	require.NoError(t, err)
	require.Nil(t, d)
	require.Nil(t, txs)
}

func TestBuildCandidateDrainsVerifiedQueueInOrder(t *testing.T) {
	store, regID := newTestStore(t)
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, noopSink{}, nil, testOptions())

	genesisDocket(t, store, regID)

	sender := thor.Address{9}
	tx, _ := signedTx(t, regID, sender, nil)
	state, ve := p.Submit(tx)
	require.Nil(t, ve)
	require.Equal(t, StateVerified, state)

	d, txs, err := p.buildCandidate(regID, 100)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.Len(t, txs, 1)
	require.Equal(t, tx.TxID, d.TxIDs[0])
	require.Equal(t, uint64(1), d.DocketVersion)

	prev, err := store.GetDocketByVersion(regID, 0)
	require.NoError(t, err)
	require.Equal(t, prev.DocketID, d.PreviousDocketID)
}

func TestBuildCandidateRespectsMaxSize(t *testing.T) {
	store, regID := newTestStore(t)
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, noopSink{}, nil, testOptions())
	genesisDocket(t, store, regID)

	for i := 0; i < 3; i++ {
		sender := thor.Address{byte(10 + i)}
		tx, _ := signedTx(t, regID, sender, nil)
		_, ve := p.Submit(tx)
		require.Nil(t, ve)
	}

	d, txs, err := p.buildCandidate(regID, 2)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Len(t, d.TxIDs, 2)
	require.Equal(t, 1, p.verifiedDepth(regID))
}
