package shared

import "context"

type userContextKey struct{}

// UserContext identifies the acting user. It is supplied by the outer
// authentication layer; the core only records it on movements and audit logs.
type UserContext struct {
	UserID int64
}

// ContextWithUser stores the acting user in context.
func ContextWithUser(ctx context.Context, user UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext extracts the acting user from context. The zero value means
// anonymous; callers treat UserID 0 as "not recorded".
func UserFromContext(ctx context.Context) UserContext {
	user, _ := ctx.Value(userContextKey{}).(UserContext)
	return user
}
