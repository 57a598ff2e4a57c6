package ports

import "context"

// SuperadminGroup bypasses grant-based permission resolution entirely.
const SuperadminGroup = "superadmin"

// IdentityProvider resolves the set of group names a user belongs to.
// Group membership lives outside this module; only the names matter here.
type IdentityProvider interface {
	GroupsForUser(ctx context.Context, userID string) ([]string, error)
}
