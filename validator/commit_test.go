package validator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/eventsink"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

func genesisDocket(t *testing.T, store *register.Store, regID thor.RegisterID) *register.Docket {
	t.Helper()
	d := &register.Docket{RegisterID: regID, DocketVersion: 0, MerkleRoot: thor.MerkleRoot(nil)}
	d.DocketID = d.ComputeDocketID()
	require.NoError(t, store.AppendDocket(regID, d))
	return d
}

func TestCommitAppendsDocketAndEmitsEvents(t *testing.T) {
	store, regID := newTestStore(t)
	genesisDocket(t, store, regID)

	sink := &recordingSink{}
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, sink, nil, testOptions())

	sender := thor.Address{9}
	tx, _ := signedTx(t, regID, sender, nil)
	require.NoError(t, store.PutTransaction(regID, tx))
	vt := register.VerifiedTransaction{Transaction: *tx}

	d := &register.Docket{RegisterID: regID, DocketVersion: 1, TxIDs: []thor.Bytes32{tx.TxID}, MerkleRoot: thor.MerkleRoot([]thor.Bytes32{tx.TxID})}
	prev, err := store.GetDocketByVersion(regID, 0)
	require.NoError(t, err)
	d.PreviousDocketID = prev.DocketID
	d.DocketID = d.ComputeDocketID()

	p.commit(regID, d, []register.VerifiedTransaction{vt})

	reg, err := store.Get(regID)
	require.NoError(t, err)
	require.Equal(t, uint64(2), reg.Height)

	require.Len(t, sink.events, 2)
	require.Equal(t, eventsink.KindDocketConfirmed, sink.events[0].kind)
	require.Equal(t, eventsink.KindTransactionConfirmed, sink.events[1].kind)
	require.Equal(t, tx.TxID.String(), sink.events[1].id)
}

func TestRequeueMovesToPoisonAfterMaxRetries(t *testing.T) {
	store, regID := newTestStore(t)
	opts := testOptions()
	opts.MaxRetries = 1
	p := New(store, &fakeBlueprintSource{}, &fakeIdentity{}, noopSink{}, nil, opts)

	sender := thor.Address{9}
	tx, _ := signedTx(t, regID, sender, nil)
	vt := register.VerifiedTransaction{Transaction: *tx}
	cause := errors.New("commit boom")

	p.requeue(regID, []register.VerifiedTransaction{vt}, cause)
	require.Equal(t, 1, p.verifiedDepth(regID))
	require.Equal(t, 0, p.poison.len())

	// Drain back out, matching what tickDocketBuilder would do on its next
	// failed attempt for the same transaction.
	p.drainVerified(regID, 10)
	p.requeue(regID, []register.VerifiedTransaction{vt}, cause)

	require.Equal(t, 0, p.verifiedDepth(regID))
	require.Equal(t, 1, p.poison.len())
	snap := p.PoisonSnapshot()
	require.Equal(t, tx.TxID, snap[0].Transaction.TxID)
	require.Equal(t, 2, snap[0].Attempts)
}
