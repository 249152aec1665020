package retry

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flaky struct{ transient bool }

func (f flaky) Error() string   { return fmt.Sprintf("flaky(transient=%v)", f.transient) }
func (f flaky) Transient() bool { return f.transient }

// failing returns fn that fails n times with err, then succeeds with "ok".
func failing(n int, err error, calls *int32) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		c := atomic.AddInt32(calls, 1)
		if int(c) <= n {
			return "", err
		}
		return "ok", nil
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	var retries []int
	p := Policy{
		MaxRetries: 5,
		Delay:      time.Millisecond,
		OnRetry:    func(attempt int, err error) { retries = append(retries, attempt) },
	}

	v, err := Do(context.Background(), p, failing(3, flaky{transient: true}, &calls))

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.EqualValues(t, 4, calls)
	assert.Equal(t, []int{1, 2, 3}, retries)
}

func TestDo_ExhaustsAfterMaxRetries(t *testing.T) {
	var calls int32
	p := Policy{MaxRetries: 5, Delay: time.Millisecond}

	_, err := Do(context.Background(), p, failing(6, flaky{transient: true}, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.EqualValues(t, 5, calls)

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 5, ex.Attempts)
	assert.Equal(t, flaky{transient: true}, ex.Last)
}

func TestDo_FatalErrorNotRetried(t *testing.T) {
	var calls int32
	p := Policy{MaxRetries: 5, Delay: time.Millisecond}

	_, err := Do(context.Background(), p, failing(10, flaky{transient: false}, &calls))

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.EqualValues(t, 1, calls)
}

func TestDo_PermanentWrapper(t *testing.T) {
	var calls int32
	p := Policy{MaxRetries: 3}
	base := context.DeadlineExceeded // transient on its own

	_, err := Do(context.Background(), p, failing(10, Permanent(base), &calls))

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.EqualValues(t, 1, calls)
}

func TestDo_ZeroMaxRetriesRunsOnce(t *testing.T) {
	var calls int32
	_, err := Do(context.Background(), Policy{}, failing(1, flaky{transient: true}, &calls))
	assert.ErrorIs(t, err, ErrExhausted)
	assert.EqualValues(t, 1, calls)
}

func TestDo_AbortsDuringDelay(t *testing.T) {
	var calls int32
	p := Policy{MaxRetries: 5, Delay: 5 * time.Second}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Do(ctx, p, failing(10, flaky{transient: true}, &calls))

	assert.ErrorIs(t, err, ErrAborted)
	assert.Less(t, time.Since(start), time.Second, "should abandon remaining attempts promptly")
	assert.EqualValues(t, 1, calls)
}

func TestDo_AttemptTimeoutIsTransient(t *testing.T) {
	var calls int32
	p := Policy{MaxRetries: 3, AttemptTimeout: 10 * time.Millisecond}

	v, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, v)
	assert.EqualValues(t, 3, calls)
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"deadline", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), true},
		{"transient marker", flaky{transient: true}, true},
		{"fatal marker", flaky{transient: false}, false},
		{"permanent", Permanent(context.DeadlineExceeded), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
