package remote_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorchaledger/sorcha/remote"
)

func TestIdentityClientValidateToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tokens/validate", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"subject":"u1","tenant_id":"t1","roles":["admin"],"wallets_linked":["0xabc"]}`))
	}))
	defer srv.Close()

	c := remote.NewIdentityClient(srv.URL, time.Second)
	claims, err := c.ValidateToken(context.Background(), "jwt-token")
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.Equal(t, "t1", claims.TenantID)
	require.Equal(t, []string{"admin"}, claims.Roles)
}

func TestIdentityClientParticipantForWalletNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := remote.NewIdentityClient(srv.URL, time.Second)
	participant, err := c.ParticipantForWallet(context.Background(), "0xabc", "t1")
	require.NoError(t, err)
	require.Equal(t, "", participant)
}
