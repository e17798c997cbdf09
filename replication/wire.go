package replication

import "encoding/json"

func encodeGossipNotice(n gossipNotice) ([]byte, error) {
	return json.Marshal(n)
}

func decodeGossipNotice(b []byte) (gossipNotice, error) {
	var n gossipNotice
	err := json.Unmarshal(b, &n)
	return n, err
}
