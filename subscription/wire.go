package subscription

import (
	"encoding/json"

	"github.com/sorchaledger/sorcha/register"
)

// docketPush is the payload of a KindDocketData envelope: a docket plus
// the transactions it references, so the receiver can persist both sides
// of register.Store's append pair (spec §4.6: "a docket push carries its
// transactions inline so a subscriber never needs a second round trip").
type docketPush struct {
	Docket       *register.Docket
	Transactions []*register.Transaction
}

// EncodeDocketPush serialises a docket and its transactions for a
// KindDocketData envelope. Docket and Transaction carry time.Time fields,
// so JSON is used here rather than the peer protocol's RLP envelope codec
// (mirrors register.Store's own JSON persistence, package register,
// store.go).
func EncodeDocketPush(d *register.Docket, txs []*register.Transaction) ([]byte, error) {
	return json.Marshal(docketPush{Docket: d, Transactions: txs})
}

func decodeDocketPush(b []byte) (*register.Docket, []*register.Transaction, error) {
	var p docketPush
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, nil, err
	}
	return p.Docket, p.Transactions, nil
}
