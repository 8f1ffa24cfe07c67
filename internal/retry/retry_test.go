package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"billextract/internal/billerr"
)

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

func TestDo_RetriesTransientUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), zerolog.Nop(), "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return billerr.Transient("call", errors.New("503"), "")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(5), zerolog.Nop(), "test", func(context.Context) error {
		calls++
		return billerr.ErrInput
	})

	assert.ErrorIs(t, err, billerr.ErrInput)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(2), zerolog.Nop(), "test", func(context.Context) error {
		calls++
		return billerr.Transient("call", errors.New("rate limited"), "")
	})

	assert.True(t, billerr.IsRetryable(err))
	assert.Equal(t, 2, calls)
}

func TestDo_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	p := Policy{MaxAttempts: 5, Initial: time.Hour, Max: time.Hour, Multiplier: 1}
	err := Do(ctx, p, zerolog.Nop(), "test", func(context.Context) error {
		calls++
		return billerr.Transient("call", errors.New("timeout"), "")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
