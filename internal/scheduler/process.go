package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/state"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
	"github.com/JSH-Team/threadsweeper/internal/workers/executor"
)

// run is the cancellation scope of one processing loop. Worker creation
// and revival happen under it so a stop interrupts windows still warming up.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// startProcessing begins a run when idle with a non-empty queue.
func (s *Scheduler) startProcessing() bool {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.startLocked()
}

func (s *Scheduler) startLocked() bool {
	runID, effectiveMax, queueLen, ok := s.store.BeginRun()
	if !ok {
		return false
	}

	initial := min(effectiveMax, queueLen)
	logger.Info("Starting processing loop. Queue length: %d, workers: %d", queueLen, initial)

	ctx, cancel := context.WithCancel(s.ctx)
	r := &run{ctx: ctx, cancel: cancel}
	r.wg.Add(1)
	s.runsMu.Lock()
	s.runs[runID] = r
	s.runsMu.Unlock()

	s.pending.Add(1)
	s.wg.Add(1)
	go s.process(runID, r, initial)
	return true
}

// haltRuns cancels every processing loop and waits until they and their
// worker creations have returned.
func (s *Scheduler) haltRuns() {
	s.runsMu.Lock()
	runs := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		r.cancel()
		runs = append(runs, r)
	}
	s.runsMu.Unlock()

	for _, r := range runs {
		r.wg.Wait()
	}
}

func (s *Scheduler) dropRun(runID uint64, r *run) {
	s.runsMu.Lock()
	delete(s.runs, runID)
	s.runsMu.Unlock()
	r.cancel()
}

// process creates every worker of the run before the first assignment,
// then keeps idle workers fed until the queue drains or the run ends.
func (s *Scheduler) process(runID uint64, r *run, initial int) {
	defer s.wg.Done()
	defer r.wg.Done()
	defer s.pending.Add(-1)
	defer s.dropRun(runID, r)

	drained := false
	defer func() { s.finish(runID, drained) }()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Fatal error in processing loop: %v", rec)
		}
	}()

	for i := 0; i < initial; i++ {
		if !s.store.RunActive(runID) {
			return
		}
		if _, err := s.pool.EnsureWorker(r.ctx, i); err != nil {
			logger.Error("Processing loop aborted: %v", err)
			return
		}
	}

	for i := 0; i < initial; i++ {
		s.assign(i, runID)
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for s.store.ShouldContinue(runID) {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		if s.store.Len() == 0 {
			continue
		}
		limit := s.store.MaxParallel()
		for i := 0; i < initial; i++ {
			if s.store.ContextOf(i) == nil {
				if i < limit {
					s.revive(i, runID, r)
				}
				continue
			}
			s.assign(i, runID)
		}
	}
	drained = true
}

// finish ends the run. Workers are closed and completion announced only
// when the queue is empty and nothing is in flight. A loop that drained
// while usernames were being enqueued starts over.
func (s *Scheduler) finish(runID uint64, drained bool) {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	current, completed, pending := s.store.EndRun(runID)
	if !current {
		return
	}
	if drained && pending {
		logger.Info("Usernames arrived while the loop was ending, continuing")
		s.startLocked()
		return
	}
	if !completed {
		logger.Info("Processing loop exited with %d queued and %d running", s.store.Len(), s.store.ActiveCount())
		s.updateGauges()
		return
	}

	logger.Info("All blocking jobs completed. Cleaning up worker windows")
	s.pool.TeardownAll()
	s.updateGauges()
	s.notifier.AllComplete()
}

// revive recreates a worker whose window vanished mid-run.
func (s *Scheduler) revive(slot int, runID uint64, r *run) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		c, err := s.pool.EnsureWorker(r.ctx, slot)
		if err != nil {
			logger.Warn("Could not revive worker #%d: %v", slot+1, err)
			return
		}
		if c == nil {
			return
		}
		if current, _ := s.store.ActiveRun(); current != runID {
			s.pool.CloseWorker(slot, "run ended")
			return
		}
		s.assign(slot, runID)
	}()
}

// assign starts the next queued job on slot if it is free.
func (s *Scheduler) assign(slot int, runID uint64) {
	t, ok := s.store.Assign(slot, runID)
	if !ok {
		return
	}

	logger.Info("Worker #%d processing %s", slot+1, t.Username)
	job := s.exec.Start(s.ctx, t.Context, t.Username)
	if !s.store.AttachJob(t, job) {
		job.Cancel()
	}
	s.updateGauges()

	s.pending.Add(1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.pending.Add(-1)
		s.complete(t, job, job.Wait())
	}()
}

// complete handles one job result.
func (s *Scheduler) complete(t state.Ticket, job *executor.Job, res executor.Result) {
	elapsed := time.Since(job.Started)

	if res.IsRateLimited {
		switch s.store.AbortRun(t) {
		case state.AbortStarted:
			s.abort(t, res, elapsed)
			return
		case state.AbortJoined:
			logger.Warn("Rate limit also hit for %s, queued behind the first", t.Username)
			s.metrics.ObserveJob(metrics.OutcomeRateLimit, elapsed)
			s.store.Release(t)
			s.updateGauges()
			return
		}
	}

	outcome, event := classify(t.Username, res)
	s.metrics.ObserveJob(outcome, elapsed)
	s.notifier.JobResult(event)

	retire, ok := s.store.Release(t)
	s.updateGauges()
	if !ok {
		return
	}
	if retire {
		s.pool.CloseWorker(t.Slot, "retire")
		return
	}

	// keep the worker fed instead of waiting for the next tick
	if runID, processing := s.store.ActiveRun(); processing && s.store.Len() > 0 {
		s.assign(t.Slot, runID)
	}
}

// abort tears everything down after a rate limit. The affected username is
// already back at the head of the queue.
func (s *Scheduler) abort(t state.Ticket, res executor.Result, elapsed time.Duration) {
	logger.Error("Rate limit detected for %s. Stopping all operations", t.Username)

	s.haltRuns()
	s.pool.TeardownAll()
	s.metrics.ObserveJob(metrics.OutcomeRateLimit, elapsed)
	s.metrics.RateLimited()
	s.updateGauges()

	s.notifier.RateLimited(notify.RateLimitEvent{
		Username: t.Username,
		Error:    res.Error,
		Code:     res.Code,
		Time:     time.Now(),
	})
}

func classify(username string, res executor.Result) (string, notify.ResultEvent) {
	event := notify.ResultEvent{
		Username: username,
		Success:  res.Success,
		Error:    res.Error,
		Time:     time.Now(),
	}

	switch {
	case res.Success:
		event.Outcome = metrics.OutcomeBlocked
	case strings.Contains(res.Error, executor.MsgErrorPage):
		logger.Warn("Error page detected for %s. Skipping", username)
		event.Error = errorPageMessage
		event.Outcome = metrics.OutcomeSkipped
	case res.Error == executor.MsgStopped:
		event.Outcome = metrics.OutcomeStopped
	default:
		event.Outcome = metrics.OutcomeFailed
	}
	return event.Outcome, event
}
