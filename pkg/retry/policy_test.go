package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/infortic/infortic/pkg/errors"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy(nil)

	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 16*time.Second, p.Delay(4))
	assert.Equal(t, 30*time.Second, p.Delay(5))
	assert.Equal(t, 30*time.Second, p.Delay(20))
}

func TestPolicy_ExhaustsWithBackoff(t *testing.T) {
	s := &recordingSleeper{}
	p := DefaultPolicy(zaptest.NewLogger(t)).WithSleeper(s.sleep)

	boom := stderrors.New("connection reset")
	calls := 0
	err := p.Execute(context.Background(), "upsert", func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.waits)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRemote))
	assert.ErrorIs(t, err, boom)
}

func TestPolicy_SucceedsAfterRetry(t *testing.T) {
	s := &recordingSleeper{}
	p := NewPolicy(nil, 5, 10*time.Millisecond, time.Second).WithSleeper(s.sleep)

	calls := 0
	n, err := Do(context.Background(), p, "count", func(ctx context.Context) (int64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New(errors.ErrorTypeTransport, "timeout")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, s.waits)
}

func TestPolicy_RetryIfStopsEarly(t *testing.T) {
	s := &recordingSleeper{}
	p := DefaultPolicy(nil).WithSleeper(s.sleep).WithRetryIf(errors.IsRetryable)

	calls := 0
	err := p.Execute(context.Background(), "upsert", func(ctx context.Context) error {
		calls++
		return errors.New(errors.ErrorTypeConfig, "bad table")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, s.waits)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestPolicy_CancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPolicy(nil, 3, time.Hour, time.Hour)

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.Execute(ctx, "upsert", func(ctx context.Context) error {
			calls++
			return stderrors.New("unavailable")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestPolicy_Validate(t *testing.T) {
	p := NewPolicy(nil, 0, time.Second, time.Second)
	err := p.Execute(context.Background(), "noop", func(ctx context.Context) error { return nil })
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
