package executor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Take() time.Time {
	l.n.Add(1)
	return time.Now()
}

func fakeContext(t *testing.T, b *mocks.FakeBrowser) *mocks.FakeContext {
	t.Helper()
	c, err := b.NewContext(context.Background(), false)
	require.NoError(t, err)
	return c.(*mocks.FakeContext)
}

func waitResult(t *testing.T, job *Job) Result {
	t.Helper()
	select {
	case <-job.Done():
		return job.Wait()
	case <-time.After(2 * time.Second):
		t.Fatal("job did not resolve")
		return Result{}
	}
}

func TestStartNavigatesAndBlocks(t *testing.T) {
	t.Parallel()

	b := mocks.NewFakeBrowser()
	c := fakeContext(t, b)
	limiter := &countingLimiter{}

	var got string
	e := New(Options{
		BaseURL: func() string { return "https://www.threads.com/" },
		Limiter: limiter,
		Block: func(ctx context.Context, bc browser.Context, username string) (Result, error) {
			got = username
			return Result{Success: true}, nil
		},
	})

	res := waitResult(t, e.Start(context.Background(), c, "alice"))

	assert.True(t, res.Success)
	assert.Equal(t, "alice", got)
	assert.Equal(t, []string{"https://www.threads.com/@alice"}, c.Navigations())
	assert.Equal(t, []bool{true}, c.ArmedBeforeNavigate(), "load listener armed before navigation")
	assert.EqualValues(t, 1, limiter.n.Load())
}

func TestStartPassesRateLimit(t *testing.T) {
	t.Parallel()

	c := fakeContext(t, mocks.NewFakeBrowser())
	e := New(Options{
		Block: func(context.Context, browser.Context, string) (Result, error) {
			return Result{Success: false, IsRateLimited: true, Error: "rate limited", Code: "1675004"}, nil
		},
	})

	res := waitResult(t, e.Start(context.Background(), c, "bob"))

	assert.True(t, res.IsRateLimited)
	assert.Equal(t, "1675004", res.Code)
	assert.Equal(t, []string{"https://www.threads.net/@bob"}, c.Navigations())
}

func TestStartMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"sentinel", fmt.Errorf("profile: %w", ErrErrorPage), MsgErrorPage},
		{"message", errors.New("Page is showing error page"), MsgErrorPage},
		{"other", errors.New("block button not found"), "block button not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := fakeContext(t, mocks.NewFakeBrowser())
			e := New(Options{
				Block: func(context.Context, browser.Context, string) (Result, error) {
					return Result{}, tt.err
				},
			})

			res := waitResult(t, e.Start(context.Background(), c, "carol"))
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Error)
		})
	}
}

func TestStartRecoversPanics(t *testing.T) {
	t.Parallel()

	c := fakeContext(t, mocks.NewFakeBrowser())
	e := New(Options{
		Block: func(context.Context, browser.Context, string) (Result, error) {
			panic("boom")
		},
	})

	res := waitResult(t, e.Start(context.Background(), c, "dave"))
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")
}

func TestStartNavigationFailure(t *testing.T) {
	t.Parallel()

	c := fakeContext(t, mocks.NewFakeBrowser())
	require.NoError(t, c.Close())

	called := false
	e := New(Options{
		Block: func(context.Context, browser.Context, string) (Result, error) {
			called = true
			return Result{Success: true}, nil
		},
	})

	res := waitResult(t, e.Start(context.Background(), c, "erin"))
	assert.False(t, res.Success)
	assert.Equal(t, browser.ErrContextClosed.Error(), res.Error)
	assert.False(t, called)
}

func TestStartLoadTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	b := mocks.NewFakeBrowser()
	b.LoadNever = true
	c := fakeContext(t, b)

	e := New(Options{
		LoadTimeout: 20 * time.Millisecond,
		Block: func(context.Context, browser.Context, string) (Result, error) {
			return Result{Success: true}, nil
		},
	})

	res := waitResult(t, e.Start(context.Background(), c, "frank"))
	assert.True(t, res.Success, "a missing load event is not a failure")
	assert.Equal(t, 0, c.OpenLoadWaits())
}

func TestCancelResolvesImmediately(t *testing.T) {
	t.Parallel()

	c := fakeContext(t, mocks.NewFakeBrowser())
	entered := make(chan struct{})
	ctxDone := make(chan struct{})
	e := New(Options{
		Block: func(ctx context.Context, _ browser.Context, _ string) (Result, error) {
			close(entered)
			<-ctx.Done()
			close(ctxDone)
			return Result{Success: true}, nil
		},
	})

	job := e.Start(context.Background(), c, "gina")
	<-entered
	job.Cancel()

	res := waitResult(t, job)
	assert.False(t, res.Success)
	assert.Equal(t, MsgStopped, res.Error)

	select {
	case <-ctxDone:
	case <-time.After(time.Second):
		t.Fatal("block routine context was not cancelled")
	}

	// the routine's late success never overrides the cancellation
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, MsgStopped, job.Wait().Error)
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	t.Parallel()

	c := fakeContext(t, mocks.NewFakeBrowser())
	e := New(Options{
		Block: func(context.Context, browser.Context, string) (Result, error) {
			return Result{Success: true}, nil
		},
	})

	job := e.Start(context.Background(), c, "hank")
	waitResult(t, job)
	job.Cancel()

	assert.True(t, job.Wait().Success)
}

func TestFailResolvesWithReason(t *testing.T) {
	t.Parallel()

	c := fakeContext(t, mocks.NewFakeBrowser())
	entered := make(chan struct{})
	e := New(Options{
		Block: func(ctx context.Context, _ browser.Context, _ string) (Result, error) {
			close(entered)
			<-ctx.Done()
			return Result{Success: true}, nil
		},
	})

	job := e.Start(context.Background(), c, "ivy")
	<-entered
	job.Fail(MsgWindowClosed)
	job.Cancel()

	res := waitResult(t, job)
	assert.False(t, res.Success)
	assert.Equal(t, MsgWindowClosed, res.Error)
}
