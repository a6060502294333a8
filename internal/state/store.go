// Package state holds the process wide blocking state: the pending queue,
// the processing flag, the concurrency settings and the worker table.
// It never performs I/O; the scheduler and the worker pool are its only
// writers.
package state

import (
	"strings"
	"sync"

	"github.com/JSH-Team/threadsweeper/internal/browser"
)

type Store struct {
	mu sync.Mutex

	queue        []string
	processing   bool
	runID        uint64
	maxParallel  int
	effectiveMax int

	// abortGen counts rate-limit aborts; abortQueued is how many usernames
	// the latest abort put back at the queue head.
	abortGen    uint64
	abortQueued int

	slots [MaxSlots]Slot
}

func New(maxParallel int) *Store {
	return &Store{
		maxParallel:  clamp(maxParallel),
		effectiveMax: clamp(maxParallel),
	}
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxSlots {
		return MaxSlots
	}
	return n
}

func validSlot(i int) bool {
	return i >= 0 && i < MaxSlots
}

// Enqueue appends the usernames that are neither queued nor held by a busy
// worker and returns how many were added.
func (s *Store) Enqueue(usernames []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.queue)+len(usernames))
	for _, u := range s.queue {
		seen[u] = struct{}{}
	}
	for i := range s.slots {
		if s.slots[i].Busy && s.slots[i].CurrentUser != "" {
			seen[s.slots[i].CurrentUser] = struct{}{}
		}
	}

	added := 0
	for _, raw := range usernames {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		s.queue = append(s.queue, u)
		added++
	}
	return added
}

// DequeueNext pops the queue head.
func (s *Store) DequeueNext() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.popLocked()
}

func (s *Store) popLocked() (string, bool) {
	if len(s.queue) == 0 {
		return "", false
	}
	u := s.queue[0]
	s.queue[0] = ""
	s.queue = s.queue[1:]
	return u, true
}

// RequeueFront puts username back at the head so it is the next one picked.
func (s *Store) RequeueFront(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requeueFrontLocked(username)
}

func (s *Store) requeueFrontLocked(username string) {
	s.insertLocked(0, username)
}

// insertLocked puts username at index i, removing any other occurrence.
func (s *Store) insertLocked(i int, username string) {
	rest := make([]string, 0, len(s.queue)+1)
	for _, u := range s.queue {
		if u != username {
			rest = append(rest, u)
		}
	}
	i = min(i, len(rest))
	rest = append(rest, "")
	copy(rest[i+1:], rest[i:])
	rest[i] = username
	s.queue = rest
}

func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Status{
		QueueLength:  len(s.queue),
		IsProcessing: s.processing,
		Queue:        append([]string{}, s.queue...),
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Clear empties the queue and drops the processing flag.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.processing = false
}

// Processing ----------------------------------------------------------------

// BeginRun flips the processing flag when idle with work queued, snapshots
// the effective worker limit and returns the new run id.
func (s *Store) BeginRun() (runID uint64, effectiveMax int, queueLen int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.processing || len(s.queue) == 0 {
		return 0, 0, 0, false
	}
	s.processing = true
	s.runID++
	s.effectiveMax = s.maxParallel
	return s.runID, s.effectiveMax, len(s.queue), true
}

// RunActive reports whether runID is the current run and still processing.
func (s *Store) RunActive(runID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing && s.runID == runID
}

// ActiveRun returns the current run id while processing.
func (s *Store) ActiveRun() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID, s.processing
}

// ShouldContinue is the assignment loop condition.
func (s *Store) ShouldContinue(runID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing && s.runID == runID && (len(s.queue) > 0 || s.activeLocked() > 0)
}

// EndRun closes runID. current is false when a newer run or a stop took
// over; completed is true when nothing is left queued or in flight. pending
// is true when the run was never paused but work arrived after its loop
// decided to exit.
func (s *Store) EndRun(runID uint64) (current, completed, pending bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID != runID {
		return false, false, false
	}
	wasProcessing := s.processing
	s.processing = false
	completed = len(s.queue) == 0 && s.activeLocked() == 0
	return true, completed, wasProcessing && len(s.queue) > 0
}

// Pause stops new assignments and keeps everything else.
func (s *Store) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	was := s.processing
	s.processing = false
	return was
}

// Halt drops the processing flag and invalidates the current run so its
// loop exits without completing.
func (s *Store) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = false
	s.runID++
}

// AbortRun halts processing on behalf of the job behind t and puts its
// username back at the queue head. When another rate limit already aborted
// since t was assigned, the username is queued right behind the ones that
// abort put back and nothing else changes. A ticket whose slot was reset
// since the assignment changes nothing.
func (s *Store) AbortRun(t Ticket) Abort {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(t.Slot) {
		return AbortIgnored
	}
	slot := &s.slots[t.Slot]
	if slot.epoch != t.Epoch || slot.CurrentUser != t.Username {
		return AbortIgnored
	}

	if t.abortGen != s.abortGen {
		s.insertLocked(s.abortQueued, t.Username)
		s.abortQueued++
		return AbortJoined
	}

	s.requeueFrontLocked(t.Username)
	s.abortGen++
	s.abortQueued = 1
	s.processing = false
	s.runID++
	return AbortStarted
}

func (s *Store) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Store) MaxParallel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxParallel
}

// SetMaxParallel clamps n to [1, MaxSlots] and stores it. The running
// loop keeps its own snapshot.
func (s *Store) SetMaxParallel(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxParallel = clamp(n)
	return s.maxParallel
}

func (s *Store) EffectiveMax() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effectiveMax
}

// Worker table ----------------------------------------------------------------

// BeginCreate reserves slot i for creation. It returns the current context
// (possibly stale) and a token for FinishCreate. ok is false when the slot
// is invalid or another creation is running.
func (s *Store) BeginCreate(i int) (existing browser.Context, token uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) || s.slots[i].creating {
		return nil, 0, false
	}
	// an orphaned job still owns the slot until it is released
	if s.slots[i].Busy && s.slots[i].Context == nil {
		return nil, 0, false
	}
	s.slots[i].creating = true
	return s.slots[i].Context, s.slots[i].epoch, true
}

// FinishCreate registers c on slot i. It returns false when the slot was
// reset in the meantime; the caller then owns c and must close it.
func (s *Store) FinishCreate(i int, token uint64, c browser.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) || s.slots[i].epoch != token {
		return false
	}
	if c == nil {
		s.slots[i].creating = false
		return true
	}
	s.slots[i] = Slot{Context: c, epoch: token + 1}
	return true
}

// AbortCreate gives up a failed creation and leaves slot i empty.
func (s *Store) AbortCreate(i int, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if validSlot(i) && s.slots[i].epoch == token {
		s.resetLocked(i)
	}
}

func (s *Store) ContextOf(i int) browser.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !validSlot(i) {
		return nil
	}
	return s.slots[i].Context
}

// Assign pops the queue head onto slot i when the slot is live and idle,
// runID is the current processing run and i is within both the configured
// and the run's concurrency limit.
func (s *Store) Assign(i int, runID uint64) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) || !s.processing || s.runID != runID || i >= s.maxParallel || i >= s.effectiveMax {
		return Ticket{}, false
	}
	slot := &s.slots[i]
	if slot.Context == nil || slot.Busy || slot.creating || slot.Retire {
		return Ticket{}, false
	}
	username, ok := s.popLocked()
	if !ok {
		return Ticket{}, false
	}
	slot.Busy = true
	slot.CurrentUser = username
	return Ticket{
		Slot:     i,
		Epoch:    slot.epoch,
		Username: username,
		RunID:    runID,
		Context:  slot.Context,
		abortGen: s.abortGen,
	}, true
}

// AttachJob stores the cancellation hook for the assignment. It returns
// false when the slot was torn down before the job could be attached.
func (s *Store) AttachJob(t Ticket, job Canceler) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot := &s.slots[t.Slot]
	if slot.epoch != t.Epoch || !slot.Busy || slot.CurrentUser != t.Username {
		return false
	}
	slot.Job = job
	return true
}

// Release marks the worker idle after its job. ok is false when the slot
// has been reset since the assignment.
func (s *Store) Release(t Ticket) (retire bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(t.Slot) {
		return false, false
	}
	slot := &s.slots[t.Slot]
	if slot.epoch != t.Epoch || slot.CurrentUser != t.Username {
		return false, false
	}
	slot.Busy = false
	slot.CurrentUser = ""
	slot.Job = nil
	return slot.Retire, true
}

// RetireOrTake marks a busy worker for retirement, or empties an idle slot
// and hands its context to the caller for teardown.
func (s *Store) RetireOrTake(i int) (c browser.Context, deferred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) {
		return nil, false
	}
	slot := &s.slots[i]
	if slot.Busy {
		slot.Retire = true
		return nil, true
	}
	c = slot.Context
	s.resetLocked(i)
	return c, false
}

// Reset empties slot i unconditionally and returns its context.
func (s *Store) Reset(i int) browser.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) {
		return nil
	}
	c := s.slots[i].Context
	s.resetLocked(i)
	return c
}

// Orphan detaches the window of slot i after it vanished. An idle slot is
// emptied; a busy one keeps its assignment until Release so the job still
// counts as in flight. It returns the job to resolve, if any.
func (s *Store) Orphan(i int) Canceler {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) {
		return nil
	}
	slot := &s.slots[i]
	if !slot.Busy {
		s.resetLocked(i)
		return nil
	}
	slot.Context = nil
	slot.Retire = false
	return slot.Job
}

func (s *Store) resetLocked(i int) {
	s.slots[i] = Slot{epoch: s.slots[i].epoch + 1}
}

// FindByHandle returns the slot owning the context h, or -1.
func (s *Store) FindByHandle(h browser.Handle) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.slots {
		if c := s.slots[i].Context; c != nil && c.Handle() == h {
			return i
		}
	}
	return -1
}

// DrainAll empties the whole table and returns the previous occupants.
func (s *Store) DrainAll() []Slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Slot
	for i := range s.slots {
		if s.slots[i].Context != nil || s.slots[i].Job != nil {
			out = append(out, s.slots[i])
		}
		s.resetLocked(i)
	}
	return out
}

func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

func (s *Store) activeLocked() int {
	n := 0
	for i := range s.slots {
		if s.slots[i].Busy {
			n++
		}
	}
	return n
}

// LiveCount returns how many slots hold a browsing context.
func (s *Store) LiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for i := range s.slots {
		if s.slots[i].Context != nil {
			n++
		}
	}
	return n
}

// Slot returns a copy of slot i.
func (s *Store) Slot(i int) (Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validSlot(i) {
		return Slot{}, ErrInvalidSlot
	}
	return s.slots[i], nil
}
