package billing

import (
	"context"

	"github.com/google/uuid"
)

type userIDCtxKey struct{}

// SetUserIDToContext stores the authenticated user id in the context.
// The authentication layer is expected to call this for every request that
// reaches the billing routes.
func SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDCtxKey{}, userID)
}

// UserIDFromContext retrieves the authenticated user id from the context.
func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDCtxKey{}).(uuid.UUID)
	return userID, ok
}
