// Package auth carries the identity an operation runs as.
package auth

import (
	"context"
	"errors"
)

// SystemUser is the identity used for housekeeping work such as persisting
// execution status after the original transaction has finished.
const SystemUser = "System"

var ErrNoUser = errors.New("no user to run as")

type userKey struct{}

func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// User returns the current identity, or "" when none is bound.
func User(ctx context.Context) string {
	user, _ := ctx.Value(userKey{}).(string)

	return user
}

// RunAs calls fn with ctx switched to user.
func RunAs(ctx context.Context, user string, fn func(ctx context.Context) error) error {
	if user == "" {
		return ErrNoUser
	}

	return fn(WithUser(ctx, user))
}

func RunAsSystem(ctx context.Context, fn func(ctx context.Context) error) error {
	return RunAs(ctx, SystemUser, fn)
}
