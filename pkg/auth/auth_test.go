package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunAs(t *testing.T) {
	ctx := WithUser(t.Context(), "admin")
	assert.Equal(t, "admin", User(ctx))

	var seen string
	err := RunAs(ctx, "bob", func(ctx context.Context) error {
		seen = User(ctx)

		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, "bob", seen)
	assert.Equal(t, "admin", User(ctx))
}

func TestRunAs_NoUser(t *testing.T) {
	called := false
	err := RunAs(t.Context(), "", func(context.Context) error {
		called = true

		return nil
	})

	assert.ErrorIs(t, err, ErrNoUser)
	assert.False(t, called)
	assert.Empty(t, User(t.Context()))
}

func TestRunAsSystem(t *testing.T) {
	_ = RunAsSystem(t.Context(), func(ctx context.Context) error {
		assert.Equal(t, SystemUser, User(ctx))

		return nil
	})
}
