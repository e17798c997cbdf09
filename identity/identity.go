// Package identity is the consumed interface onto tenant identity/OAuth2
// (spec §1: "token issuance, RBAC, wallet-link challenge/verify"): JWT
// introspection and a wallet-ownership query. Token issuance, RBAC
// enforcement, and the challenge/verify flow itself live outside this
// repository's scope (spec §1); this package only models the two calls
// the Validator Pipeline needs (spec §6).
package identity

import "context"

// Claims is the result of validating a caller-presented JWT (spec §6:
// "validate_token(jwt) -> {subject, tenant_id, roles, wallets_linked}").
type Claims struct {
	Subject       string
	TenantID      string
	Roles         []string
	WalletsLinked []string
}

// Service is the tenant identity service's two consumed operations (spec
// §6: "These are the only couplings to the tenant service").
type Service interface {
	// ValidateToken introspects a caller-presented JWT.
	ValidateToken(ctx context.Context, jwt string) (Claims, error)

	// ParticipantForWallet resolves a wallet address to the participant
	// id authorised to act as it within tenantID, or "" if unlinked.
	ParticipantForWallet(ctx context.Context, walletAddress, tenantID string) (string, error)
}
