package remote_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/blueprint"
	"github.com/sorchaledger/sorcha/remote"
)

func TestBlueprintClientGetPublished(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/blueprints/onboard", r.URL.Path)
		w.Write([]byte(`{"blueprint_id":"onboard","version":2,"actions":{"start":{"ActionID":"start","StartingAction":true}}}`))
	}))
	defer srv.Close()

	c := remote.NewBlueprintClient(srv.URL, time.Second)
	bp, err := c.GetPublished("onboard")
	require.NoError(t, err)
	require.Equal(t, "onboard", bp.BlueprintID)
	require.Equal(t, 2, bp.Version)
	require.True(t, bp.Actions["start"].StartingAction)
}

func TestBlueprintClientNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := remote.NewBlueprintClient(srv.URL, time.Second)
	_, err := c.GetPublished("missing")
	require.ErrorIs(t, err, blueprint.ErrNotFound)
}
