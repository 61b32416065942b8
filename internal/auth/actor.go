package auth

import (
	"context"

	"pos-backend/internal/apperr"
	"pos-backend/internal/models"
)

// Actor is the acting user of an operation.
type Actor struct {
	ID   uint
	Name string
	Role models.UserRole
}

type actorKey struct{}

func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && a.ID != 0
}

// MustActor returns the actor in ctx or a PermissionError.
func MustActor(ctx context.Context) (Actor, error) {
	a, ok := ActorFromContext(ctx)
	if !ok {
		return Actor{}, apperr.Permission("no authenticated user")
	}
	return a, nil
}

// RequirePrivileged rejects actors whose role may not void sales or edit
// recorded payments.
func RequirePrivileged(ctx context.Context) (Actor, error) {
	a, err := MustActor(ctx)
	if err != nil {
		return a, err
	}
	if !a.Role.Privileged() {
		return a, apperr.Permission("this operation requires an admin or manager")
	}
	return a, nil
}
