package retry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paxoscn/llmdispatch/llmcore"
)

func fastPolicy(maxAttempts int) Policy {
	p := DefaultPolicy()
	p.MaxAttempts = maxAttempts
	p.BaseDelay = time.Millisecond
	p.MaxDelay = 5 * time.Millisecond
	return p
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (any, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesRetryableThenSucceeds(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (any, error) {
		calls++
		if calls < 3 {
			return nil, llmcore.NewError(llmcore.KindRateLimit, "rate limited")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, llmcore.NewError(llmcore.KindValidation, "bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, llmcore.NewError(llmcore.KindProviderServer, "upstream 500")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, llmcore.KindProviderServer, llmcore.KindOf(err))
}

func TestDo_RespectsContextCancellation(t *testing.T) {
	p := DefaultPolicy()
	p.MaxAttempts = 5
	p.BaseDelay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := Do(ctx, p, func(ctx context.Context, attempt int) (any, error) {
		calls++
		return nil, llmcore.NewError(llmcore.KindNetwork, "connection refused")
	})
	require.Error(t, err)
	assert.Less(t, calls, 5)
}
