// Package contextkey holds the request context keys set by the server middleware.
package contextkey

import "context"

type key int

const (
	// UserIDKey carries the authenticated user id.
	UserIDKey key = iota
)

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// UserID returns the authenticated user id stored in ctx, if any.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok && id != ""
}
