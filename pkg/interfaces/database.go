package interfaces

import (
	"context"

	"chatrelay/pkg/types"
)

// SocialGraph is the narrow read interface onto the persisted social graph
// ARCHITECTURAL DISCOVERY: The relay never writes users or friendships, it only
// confirms state needed to shape and gate deliveries
type SocialGraph interface {
	// GetProfile resolves a user's public profile.
	// Returns ErrUserNotFound when the identity has no record.
	GetProfile(ctx context.Context, userID string) (*types.Profile, error)

	// GetFriendship returns the relationship between two users in either
	// direction, or nil with no error when none exists
	GetFriendship(ctx context.Context, userA, userB string) (*types.Friendship, error)

	// HealthCheck verifies store connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the store's resources
	Close() error
}
