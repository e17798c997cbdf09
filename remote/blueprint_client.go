package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/sorchaledger/sorcha/blueprint"
)

// BlueprintClient is a blueprint.Source backed by the blueprint
// authoring service's HTTP API.
type BlueprintClient struct {
	baseURL string
	client  *http.Client
}

// NewBlueprintClient builds a client against baseURL with the given
// request timeout, rate-limited to defaultRatePerSecond requests/s.
func NewBlueprintClient(baseURL string, timeout time.Duration) *BlueprintClient {
	client := wrapWithRateLimit(&http.Client{Timeout: timeout}, defaultRatePerSecond, defaultBurst)
	return &BlueprintClient{baseURL: baseURL, client: client}
}

type blueprintResponse struct {
	BlueprintID string                      `json:"blueprint_id"`
	Version     int                         `json:"version"`
	Actions     map[string]blueprint.Action `json:"actions"`
}

// GetPublished implements blueprint.Source.
func (c *BlueprintClient) GetPublished(blueprintID string) (*blueprint.Blueprint, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/blueprints/"+blueprintID, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "remote: blueprint lookup failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, blueprint.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("remote: blueprint service returned %s", resp.Status)
	}

	var body blueprintResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "remote: decode blueprint response")
	}
	return &blueprint.Blueprint{
		BlueprintID: body.BlueprintID,
		Version:     body.Version,
		Actions:     body.Actions,
	}, nil
}
