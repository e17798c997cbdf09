package discovery

import "encoding/json"

// JSONCodec implements Codec with JSON. Peer digests carry time.Time and
// float64 fields that the peer protocol's RLP envelope codec cannot
// represent, so peer-exchange payloads are framed in JSON the way
// peerstore.Store already persists Peer records (package peerstore,
// store.go).
type JSONCodec struct{}

func (JSONCodec) EncodeDigest(d PeerDigest) ([]byte, error) {
	return json.Marshal(d)
}

func (JSONCodec) DecodeDigest(b []byte) (PeerDigest, error) {
	var d PeerDigest
	err := json.Unmarshal(b, &d)
	return d, err
}

func (JSONCodec) EncodeAdvertisement(a Advertisement) ([]byte, error) {
	return json.Marshal(a)
}

func (JSONCodec) DecodeAdvertisement(b []byte) (Advertisement, error) {
	var a Advertisement
	err := json.Unmarshal(b, &a)
	return a, err
}
