package validator

import (
	"context"
	"time"

	"github.com/sorchaledger/sorcha/eventsink"
	"github.com/sorchaledger/sorcha/register"
	"github.com/sorchaledger/sorcha/thor"
)

// commit appends docket to registerID's log and advances its height in one
// atomic Register Store call, then emits one docket.confirmed event
// followed by one transaction.confirmed event per committed tx_id (spec
// §4.7: "atomic docket append + height increment"; §6 event sink table).
// On append failure the whole batch is requeued rather than partially
// committed.
func (p *Pipeline) commit(registerID thor.RegisterID, docket *register.Docket, txs []register.VerifiedTransaction) {
	docket.CommittedAt = time.Now().UTC()

	if err := p.store.AppendDocket(registerID, docket); err != nil {
		logger.Warn("validator: docket commit failed, requeuing", "register_id", registerID.String(), "docket_version", docket.DocketVersion, "err", err)
		p.requeue(registerID, txs, err)
		return
	}

	if p.metrics != nil {
		p.metrics.TransactionsConfirmed.Add(float64(len(txs)))
	}

	p.sink.Emit(eventsink.KindDocketConfirmed, docket.DocketID.String(), docket)
	for _, vt := range txs {
		p.sink.Emit(eventsink.KindTransactionConfirmed, vt.TxID.String(), vt)
	}
	for _, vt := range txs {
		p.attempts.clear(registerID, vt.TxID)
		p.instances.record(registerID, vt.SenderWallet, vt.TxID)
	}

	if p.notifier != nil {
		p.notifier.NotifyCommit(context.Background(), registerID, docket)
	}
}

// requeue handles a batch of verified transactions that failed to commit:
// each is reinserted into the verified queue with its attempt count
// incremented, unless it has now exhausted max_retries, in which case it
// is moved to the poison queue instead (spec §4.7: "requeued with
// incremented attempt count ... after max_retries, moved to a poison
// queue").
func (p *Pipeline) requeue(registerID thor.RegisterID, txs []register.VerifiedTransaction, cause error) {
	for _, vt := range txs {
		attempts := p.attempts.increment(registerID, vt.TxID)
		if attempts > p.opts.MaxRetries {
			p.attempts.clear(registerID, vt.TxID)
			p.poison.add(PoisonedTransaction{
				Transaction: vt,
				Attempts:    attempts,
				LastError:   cause.Error(),
				PoisonedAt:  time.Now().UTC(),
			})
			if p.metrics != nil {
				p.metrics.PoisonQueueDepth.Set(float64(p.poison.len()))
			}
			continue
		}

		p.verifiedMu.Lock()
		p.verified[registerID] = append(p.verified[registerID], verifiedEntry{tx: vt, verifiedAt: vt.VerifiedAt})
		p.verifiedMu.Unlock()
	}
}
