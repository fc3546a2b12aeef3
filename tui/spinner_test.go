package tui

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func withoutTTY(t *testing.T) {
	saved := HasTTY
	HasTTY = false
	t.Cleanup(func() { HasTTY = saved })
}

func TestShowSpinnerWithoutTTYRunsAction(t *testing.T) {
	withoutTTY(t)
	ran := false
	err := ShowSpinner(context.Background(), "Finding sessions", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, ran)
}

func TestShowSpinnerReturnsActionError(t *testing.T) {
	withoutTTY(t)
	boom := errors.New("bridge unreachable")
	err := ShowSpinner(context.Background(), "Finding sessions", func(ctx context.Context) error {
		return boom
	})
	assert.True(t, errors.Is(err, boom))
}
