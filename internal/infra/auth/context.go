package auth

import (
	"context"

	"github.com/xela07ax/sovereign-gateway/internal/domain"
)

type ctxKey struct{}

// Identity — то, что периметр сообщает обработчикам.
type Identity struct {
	Scope domain.Scope
	Token string
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext достаёт Identity; ok=false, если запрос не прошёл через Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// ScopeFromContext — удобный вариант: без Identity права минимальные (read).
func ScopeFromContext(ctx context.Context) domain.Scope {
	if id, ok := FromContext(ctx); ok {
		return id.Scope
	}
	return domain.ScopeRead
}
