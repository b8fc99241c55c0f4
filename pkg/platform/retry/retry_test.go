package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestDo(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastPolicy(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops at attempt cap", func(t *testing.T) {
		attempts := 0
		err := Do(context.Background(), fastPolicy(), func() error {
			attempts++
			return errors.New("still broken")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("permanent error short-circuits", func(t *testing.T) {
		attempts := 0
		fatal := errors.New("domain locked")
		err := Do(context.Background(), fastPolicy(), func() error {
			attempts++
			return Permanent(fatal)
		})
		require.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, attempts)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(ctx, fastPolicy(), func() error { return errors.New("transient") })
		require.Error(t, err)
	})
}
