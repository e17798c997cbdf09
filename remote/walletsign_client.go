package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/sorchaledger/sorcha/walletsign"
)

// WalletSignClient is a walletsign.Client backed by the wallet custody
// service's HTTP API. The Validator Pipeline never sees private key
// material through this path (spec §6).
type WalletSignClient struct {
	baseURL string
	client  *http.Client
}

// NewWalletSignClient builds a client against baseURL with the given
// request timeout, rate-limited to defaultRatePerSecond requests/s.
func NewWalletSignClient(baseURL string, timeout time.Duration) *WalletSignClient {
	client := wrapWithRateLimit(&http.Client{Timeout: timeout}, defaultRatePerSecond, defaultBurst)
	return &WalletSignClient{baseURL: baseURL, client: client}
}

type signRequest struct {
	WalletAddress string `json:"wallet_address"`
	Message       []byte `json:"message"`
	IsPreHashed   bool   `json:"is_pre_hashed"`
}

type signResponse struct {
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
	Algorithm string `json:"algorithm"`
}

// Sign implements walletsign.Client.
func (c *WalletSignClient) Sign(ctx context.Context, walletAddress string, message []byte, isPreHashed bool) (walletsign.Signature, error) {
	body, err := json.Marshal(signRequest{WalletAddress: walletAddress, Message: message, IsPreHashed: isPreHashed})
	if err != nil {
		return walletsign.Signature{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return walletsign.Signature{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return walletsign.Signature{}, errors.Wrap(err, "remote: sign request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return walletsign.Signature{}, errors.Errorf("remote: wallet custody service returned %s", resp.Status)
	}

	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return walletsign.Signature{}, errors.Wrap(err, "remote: decode sign response")
	}
	return walletsign.Signature{Signature: out.Signature, PublicKey: out.PublicKey, Algorithm: out.Algorithm}, nil
}
