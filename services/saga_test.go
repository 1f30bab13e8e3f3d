package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSagaCompensatesInReverse(t *testing.T) {
	var trail []string
	step := func(name string, fail bool) (func(context.Context) error, func(context.Context) error) {
		return func(ctx context.Context) error {
				trail = append(trail, "do "+name)
				if fail {
					return errors.New(name + " failed")
				}
				return nil
			}, func(ctx context.Context) error {
				trail = append(trail, "undo "+name)
				return nil
			}
	}

	saga := NewSaga("test")
	doA, undoA := step("a", false)
	doB, undoB := step("b", false)
	doC, undoC := step("c", true)
	saga.AddStep("a", doA, undoA).AddStep("b", doB, undoB).AddStep("c", doC, undoC)

	err := saga.Execute(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed at step c")
	assert.Equal(t, []string{"do a", "do b", "do c", "undo b", "undo a"}, trail)
}

func TestSagaCompensationIgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var compensateErr error

	saga := NewSaga("cancel").
		AddStep("local", func(ctx context.Context) error { return nil }, func(ctx context.Context) error {
			compensateErr = ctx.Err()
			return nil
		}).
		AddStep("remote", func(ctx context.Context) error {
			cancel()
			return ctx.Err()
		}, nil)

	err := saga.Execute(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NoError(t, compensateErr)
}
