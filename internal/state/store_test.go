package state

import (
	"context"
	"testing"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cancelCounter struct {
	n      int
	reason string
}

func (c *cancelCounter) Cancel()            { c.n++ }
func (c *cancelCounter) Fail(reason string) { c.reason = reason }

func newContext(t *testing.T, b *mocks.FakeBrowser) browser.Context {
	t.Helper()
	c, err := b.NewContext(context.Background(), false)
	require.NoError(t, err)
	return c
}

// register puts a live context on slot i.
func register(t *testing.T, s *Store, b *mocks.FakeBrowser, i int) browser.Context {
	t.Helper()
	_, token, ok := s.BeginCreate(i)
	require.True(t, ok)
	c := newContext(t, b)
	require.True(t, s.FinishCreate(i, token, c))
	return c
}

func TestEnqueueDeduplicates(t *testing.T) {
	t.Parallel()

	s := New(1)
	assert.Equal(t, 1, s.Enqueue([]string{"a"}))
	assert.Equal(t, 1, s.Enqueue([]string{"a", "b"}))
	assert.Equal(t, 2, s.Enqueue([]string{"c", "c", " d ", "", "b"}))

	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Status().Queue)
}

func TestEnqueueSkipsBusyWorkers(t *testing.T) {
	t.Parallel()

	s := New(2)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)

	s.Enqueue([]string{"a", "b"})
	runID, _, _, ok := s.BeginRun()
	require.True(t, ok)
	ticket, ok := s.Assign(0, runID)
	require.True(t, ok)
	assert.Equal(t, "a", ticket.Username)

	assert.Equal(t, 1, s.Enqueue([]string{"a", "c"}))
	assert.Equal(t, []string{"b", "c"}, s.Status().Queue)

	// once released the name can be queued again
	_, ok = s.Release(ticket)
	require.True(t, ok)
	assert.Equal(t, 1, s.Enqueue([]string{"a"}))
}

func TestDequeueFIFO(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"x", "y"})

	u, ok := s.DequeueNext()
	assert.True(t, ok)
	assert.Equal(t, "x", u)
	u, ok = s.DequeueNext()
	assert.True(t, ok)
	assert.Equal(t, "y", u)
	_, ok = s.DequeueNext()
	assert.False(t, ok)
}

func TestRequeueFront(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"b", "c"})
	s.RequeueFront("a")
	assert.Equal(t, []string{"a", "b", "c"}, s.Status().Queue)

	s.RequeueFront("c")
	assert.Equal(t, []string{"c", "a", "b"}, s.Status().Queue)
}

func TestStatusIsACopy(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"a"})
	st := s.Status()
	st.Queue[0] = "mutated"

	assert.Equal(t, []string{"a"}, s.Status().Queue)
	assert.Equal(t, 1, st.QueueLength)
}

func TestClear(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"a", "b"})
	_, _, _, ok := s.BeginRun()
	require.True(t, ok)

	s.Clear()

	st := s.Status()
	assert.Equal(t, 0, st.QueueLength)
	assert.False(t, st.IsProcessing)
}

func TestBeginRun(t *testing.T) {
	t.Parallel()

	s := New(3)
	_, _, _, ok := s.BeginRun()
	assert.False(t, ok, "empty queue never starts")

	s.Enqueue([]string{"a", "b"})
	runID, eff, n, ok := s.BeginRun()
	require.True(t, ok)
	assert.Equal(t, 3, eff)
	assert.Equal(t, 2, n)
	assert.True(t, s.RunActive(runID))

	_, _, _, ok = s.BeginRun()
	assert.False(t, ok, "already processing")

	s.SetMaxParallel(1)
	assert.Equal(t, 3, s.EffectiveMax(), "snapshot survives concurrency changes")
}

func TestEndRun(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()

	current, completed, pending := s.EndRun(runID)
	assert.True(t, current)
	assert.False(t, completed, "queue still holds a")
	assert.True(t, pending, "never paused")
	assert.False(t, s.IsProcessing())

	s.DequeueNext()
	s.Enqueue([]string{"b"})
	runID, _, _, _ = s.BeginRun()
	s.DequeueNext()
	current, completed, pending = s.EndRun(runID)
	assert.True(t, current)
	assert.True(t, completed)
	assert.False(t, pending)
}

func TestEndRunAfterPauseIsNotPending(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()
	s.Pause()

	current, completed, pending := s.EndRun(runID)
	assert.True(t, current)
	assert.False(t, completed)
	assert.False(t, pending)
}

func TestHaltInvalidatesRun(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()

	s.Halt()

	assert.False(t, s.RunActive(runID))
	assert.False(t, s.ShouldContinue(runID))
	current, _, _ := s.EndRun(runID)
	assert.False(t, current)
}

func TestPauseKeepsRun(t *testing.T) {
	t.Parallel()

	s := New(1)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()

	assert.True(t, s.Pause())
	assert.False(t, s.Pause())
	assert.False(t, s.ShouldContinue(runID))
	assert.Equal(t, 1, s.Len())
}

func TestSetMaxParallelClamps(t *testing.T) {
	t.Parallel()

	s := New(0)
	assert.Equal(t, 1, s.MaxParallel())
	assert.Equal(t, 10, s.SetMaxParallel(50))
	assert.Equal(t, 1, s.SetMaxParallel(-1))
	assert.Equal(t, 4, s.SetMaxParallel(4))
}

func TestAssignRules(t *testing.T) {
	t.Parallel()

	s := New(2)
	b := mocks.NewFakeBrowser()
	s.Enqueue([]string{"a", "b", "c"})

	_, ok := s.Assign(0, 1)
	assert.False(t, ok, "not processing")

	runID, _, _, _ := s.BeginRun()
	_, ok = s.Assign(0, runID)
	assert.False(t, ok, "no context on slot")

	register(t, s, b, 0)
	register(t, s, b, 2)

	_, ok = s.Assign(0, runID+1)
	assert.False(t, ok, "stale run")

	ticket, ok := s.Assign(0, runID)
	require.True(t, ok)
	assert.Equal(t, "a", ticket.Username)

	_, ok = s.Assign(0, runID)
	assert.False(t, ok, "busy")

	_, ok = s.Assign(2, runID)
	assert.False(t, ok, "slot beyond concurrency limit")

	assert.Equal(t, 1, s.ActiveCount())
	assert.Equal(t, 2, s.Len())
}

func TestAttachAndRelease(t *testing.T) {
	t.Parallel()

	s := New(1)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()
	ticket, _ := s.Assign(0, runID)

	job := &cancelCounter{}
	assert.True(t, s.AttachJob(ticket, job))
	slot, err := s.Slot(0)
	require.NoError(t, err)
	assert.Equal(t, job, slot.Job)

	retire, ok := s.Release(ticket)
	assert.True(t, ok)
	assert.False(t, retire)

	slot, _ = s.Slot(0)
	assert.False(t, slot.Busy)
	assert.Empty(t, slot.CurrentUser)
	assert.Nil(t, slot.Job)
}

func TestReleaseAfterResetIsIgnored(t *testing.T) {
	t.Parallel()

	s := New(1)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()
	ticket, _ := s.Assign(0, runID)

	s.Reset(0)
	c := register(t, s, b, 0)

	_, ok := s.Release(ticket)
	assert.False(t, ok)
	assert.False(t, s.AttachJob(ticket, &cancelCounter{}))
	assert.Equal(t, c, s.ContextOf(0), "new occupant untouched")
}

func TestRetireOrTake(t *testing.T) {
	t.Parallel()

	s := New(2)
	b := mocks.NewFakeBrowser()
	c0 := register(t, s, b, 0)
	register(t, s, b, 1)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()
	ticket, _ := s.Assign(1, runID)

	c, deferred := s.RetireOrTake(1)
	assert.True(t, deferred)
	assert.Nil(t, c)
	retire, ok := s.Release(ticket)
	assert.True(t, ok)
	assert.True(t, retire)

	c, deferred = s.RetireOrTake(0)
	assert.False(t, deferred)
	assert.Equal(t, c0, c)
	assert.Nil(t, s.ContextOf(0))
}

func TestFinishCreateAfterDrain(t *testing.T) {
	t.Parallel()

	s := New(1)
	b := mocks.NewFakeBrowser()

	_, token, ok := s.BeginCreate(0)
	require.True(t, ok)
	_, _, ok = s.BeginCreate(0)
	assert.False(t, ok, "creation already in progress")

	s.DrainAll()

	assert.False(t, s.FinishCreate(0, token, newContext(t, b)))
	assert.Nil(t, s.ContextOf(0))
}

func TestFindByHandleAndDrain(t *testing.T) {
	t.Parallel()

	s := New(3)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)
	c1 := register(t, s, b, 1)

	assert.Equal(t, 1, s.FindByHandle(c1.Handle()))
	assert.Equal(t, -1, s.FindByHandle("missing"))
	assert.Equal(t, 2, s.LiveCount())

	drained := s.DrainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, s.LiveCount())

	_, err := s.Slot(MaxSlots)
	assert.ErrorIs(t, err, ErrInvalidSlot)
}

func TestAbortCreateLeavesSlotEmpty(t *testing.T) {
	t.Parallel()

	s := New(1)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)

	existing, token, ok := s.BeginCreate(0)
	require.True(t, ok)
	require.NotNil(t, existing)

	s.AbortCreate(0, token)

	assert.Nil(t, s.ContextOf(0))
	_, _, ok = s.BeginCreate(0)
	assert.True(t, ok, "slot reusable after an aborted creation")
}

func TestActiveRun(t *testing.T) {
	t.Parallel()

	s := New(1)
	_, ok := s.ActiveRun()
	assert.False(t, ok)

	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()
	got, ok := s.ActiveRun()
	assert.True(t, ok)
	assert.Equal(t, runID, got)
}

func TestAbortRunRequeuesAtHead(t *testing.T) {
	t.Parallel()

	s := New(1)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)
	s.Enqueue([]string{"x", "y"})
	runID, _, _, _ := s.BeginRun()
	ticket, ok := s.Assign(0, runID)
	require.True(t, ok)
	before := s.Len()

	require.Equal(t, AbortStarted, s.AbortRun(ticket))

	st := s.Status()
	assert.Equal(t, before+1, st.QueueLength)
	assert.Equal(t, "x", st.Queue[0])
	assert.False(t, st.IsProcessing)
	assert.False(t, s.RunActive(runID))

	s.Reset(0)
	assert.Equal(t, AbortIgnored, s.AbortRun(ticket), "stale ticket")
}

func TestSecondRateLimitJoinsFirstAbort(t *testing.T) {
	t.Parallel()

	s := New(3)
	b := mocks.NewFakeBrowser()
	for i := 0; i < 3; i++ {
		register(t, s, b, i)
	}
	s.Enqueue([]string{"x", "y", "w", "z"})
	runID, _, _, _ := s.BeginRun()
	tx, _ := s.Assign(0, runID)
	ty, _ := s.Assign(1, runID)
	tw, _ := s.Assign(2, runID)

	require.Equal(t, AbortStarted, s.AbortRun(tx))
	assert.Equal(t, AbortJoined, s.AbortRun(ty))
	assert.Equal(t, AbortJoined, s.AbortRun(tw))

	assert.Equal(t, []string{"x", "y", "w", "z"}, s.Status().Queue)
	assert.False(t, s.IsProcessing())

	// a later run starts a fresh abort
	s.DrainAll()
	register(t, s, b, 0)
	runID, _, _, _ = s.BeginRun()
	tk, ok := s.Assign(0, runID)
	require.True(t, ok)
	assert.Equal(t, AbortStarted, s.AbortRun(tk))
}

func TestOrphanKeepsBusySlotUntilRelease(t *testing.T) {
	t.Parallel()

	s := New(1)
	b := mocks.NewFakeBrowser()
	register(t, s, b, 0)
	s.Enqueue([]string{"a"})
	runID, _, _, _ := s.BeginRun()
	tk, ok := s.Assign(0, runID)
	require.True(t, ok)
	job := &cancelCounter{}
	require.True(t, s.AttachJob(tk, job))

	assert.Equal(t, job, s.Orphan(0))
	assert.Nil(t, s.ContextOf(0))
	assert.Equal(t, 1, s.ActiveCount())
	assert.True(t, s.ShouldContinue(runID))
	_, _, ok = s.BeginCreate(0)
	assert.False(t, ok)

	_, ok = s.Release(tk)
	require.True(t, ok)
	assert.Zero(t, s.ActiveCount())
	_, _, ok = s.BeginCreate(0)
	assert.True(t, ok)
}
