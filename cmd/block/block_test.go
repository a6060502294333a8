package block

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JSH-Team/threadsweeper/internal/mocks"
	"github.com/JSH-Team/threadsweeper/internal/notify"
)

func TestParseUsernames(t *testing.T) {
	in := strings.NewReader("alice\n\n# friends of spam\n  @bob  \nhttps://www.threads.net/@carol\n")
	got, err := parseUsernames(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "@bob", "https://www.threads.net/@carol"}, got)
}

func silentBar(n int) *progressbar.ProgressBar {
	return progressbar.NewOptions(n, progressbar.OptionSetWriter(io.Discard))
}

func TestCollectUntilComplete(t *testing.T) {
	ch := notify.NewChannel(10)
	ch.JobResult(notify.ResultEvent{Username: "alice", Success: true, Outcome: "blocked"})
	ch.JobResult(notify.ResultEvent{Username: "bob", Error: "verification failed", Outcome: "failed"})
	ch.JobResult(notify.ResultEvent{Username: "ghost", Error: "page failed to load (404/network)", Outcome: "skipped"})
	ch.AllComplete()

	bar := silentBar(3)
	sum := collect(context.Background(), ch.Events(), nil, bar)
	assert.Equal(t, 1, sum.blocked)
	assert.Equal(t, 1, sum.failed)
	assert.Equal(t, 1, sum.skipped)
	assert.Nil(t, sum.rateLimited)
	assert.Equal(t, 3, int(bar.State().CurrentNum))
}

func TestCollectStopsOnRateLimit(t *testing.T) {
	ch := notify.NewChannel(10)
	ch.JobResult(notify.ResultEvent{Username: "alice", Success: true, Outcome: "blocked"})
	ch.JobResult(notify.ResultEvent{Username: "bob", Error: "Stopped by user", Outcome: "stopped"})
	ch.RateLimited(notify.RateLimitEvent{Username: "carol", Code: "1675004"})

	sum := collect(context.Background(), ch.Events(), nil, silentBar(3))
	assert.Equal(t, 1, sum.blocked)
	assert.Zero(t, sum.failed)
	require.NotNil(t, sum.rateLimited)
	assert.Equal(t, "carol", sum.rateLimited.Username)
}

func TestCollectHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sum := collect(ctx, notify.NewChannel(1).Events(), nil, silentBar(1))
	assert.Zero(t, sum.blocked)
}

func TestCollectReturnsWhenIdle(t *testing.T) {
	ch := notify.NewChannel(10)
	ch.JobResult(notify.ResultEvent{Username: "alice", Success: true, Outcome: "blocked"})
	idle := make(chan struct{})
	close(idle)

	sum := collect(context.Background(), ch.Events(), idle, silentBar(2))
	assert.Equal(t, 1, sum.blocked)
}

func TestBlockAllEndsWhenNoWindowOpens(t *testing.T) {
	b := mocks.NewFakeBrowser()
	b.NewContextErr = errors.New("browser crashed")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sum, ok := blockAll(ctx, b, []string{"alice", "bob"})
	require.True(t, ok)
	require.NoError(t, ctx.Err(), "returned on its own")
	assert.Zero(t, sum.blocked+sum.failed+sum.skipped)
	assert.Nil(t, sum.rateLimited)
	assert.Equal(t, []string{"alice", "bob"}, sum.remaining)
}

func TestBlockAllNothingQueued(t *testing.T) {
	_, ok := blockAll(context.Background(), mocks.NewFakeBrowser(), []string{" ", "@"})
	assert.False(t, ok)
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, summary{
		blocked:     2,
		failed:      1,
		rateLimited: &notify.RateLimitEvent{Username: "carol", Code: "1675004"},
		remaining:   []string{"carol", "dave"},
	})

	out := buf.String()
	assert.Contains(t, out, "Blocked: 2  Failed: 1  Skipped: 0")
	assert.Contains(t, out, "@carol (1675004)")
	assert.Contains(t, out, "Not processed (2): carol dave")
}
