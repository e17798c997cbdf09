// Package remote provides stdlib net/http implementations of the three
// interfaces the Validator Pipeline consumes across this repository's
// boundary (identity.Service, blueprint.Source, walletsign.Client) (spec
// §1, §6). No REST client library appears anywhere in this codebase's
// dependency corpus, so these use net/http directly the way the rest of
// this repository reaches for a library only where one exists.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/sorchaledger/sorcha/identity"
)

var logger = log.New("pkg", "remote")

// IdentityClient is an identity.Service backed by the tenant identity
// service's HTTP API.
type IdentityClient struct {
	baseURL string
	client  *http.Client
}

// defaultRatePerSecond and defaultBurst cap outbound calls to each
// tenant-side service this package talks to.
const (
	defaultRatePerSecond = 50
	defaultBurst         = 20
)

// NewIdentityClient builds a client against baseURL with the given
// request timeout, rate-limited to defaultRatePerSecond requests/s.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	client := wrapWithRateLimit(&http.Client{Timeout: timeout}, defaultRatePerSecond, defaultBurst)
	return &IdentityClient{baseURL: baseURL, client: client}
}

type validateTokenResponse struct {
	Subject       string   `json:"subject"`
	TenantID      string   `json:"tenant_id"`
	Roles         []string `json:"roles"`
	WalletsLinked []string `json:"wallets_linked"`
}

// ValidateToken implements identity.Service.
func (c *IdentityClient) ValidateToken(ctx context.Context, jwt string) (identity.Claims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tokens/validate", bytes.NewReader([]byte(jwt)))
	if err != nil {
		return identity.Claims{}, err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return identity.Claims{}, errors.Wrap(err, "remote: validate token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return identity.Claims{}, errors.Errorf("remote: identity service returned %s", resp.Status)
	}

	var body validateTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return identity.Claims{}, errors.Wrap(err, "remote: decode validate token response")
	}
	return identity.Claims{
		Subject:       body.Subject,
		TenantID:      body.TenantID,
		Roles:         body.Roles,
		WalletsLinked: body.WalletsLinked,
	}, nil
}

type participantResponse struct {
	ParticipantID string `json:"participant_id"`
}

// ParticipantForWallet implements identity.Service.
func (c *IdentityClient) ParticipantForWallet(ctx context.Context, walletAddress, tenantID string) (string, error) {
	url := fmt.Sprintf("%s/v1/tenants/%s/wallets/%s/participant", c.baseURL, tenantID, walletAddress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "remote: participant lookup failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.Errorf("remote: identity service returned %s", resp.Status)
	}

	var body participantResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "remote: decode participant response")
	}
	return body.ParticipantID, nil
}
