// Package scheduler drives the block queue: it pairs idle workers with
// queued usernames up to the concurrency limit and implements start, pause,
// resume, stop and the global abort on rate limiting.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/state"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
	urlutils "github.com/JSH-Team/threadsweeper/internal/utils/url"
	"github.com/JSH-Team/threadsweeper/internal/workers/executor"
	"github.com/JSH-Team/threadsweeper/internal/workers/pool"

	"go.uber.org/ratelimit"
)

type Scheduler struct {
	store    *state.Store
	pool     *pool.Pool
	exec     *executor.Executor
	notifier notify.Notifier
	metrics  *metrics.Metrics

	pollInterval time.Duration

	baseMu  sync.RWMutex
	baseURL string

	// serializes run start against end-of-run teardown
	lifecycle sync.Mutex

	runsMu sync.Mutex
	runs   map[uint64]*run

	// processing loops and job completions not yet handled
	pending atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a scheduler over store. The store stays owned by the caller
// and can be inspected at any time.
func New(store *state.Store, b browser.Browser, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = config.PollInterval
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = config.LoadTimeout
	}
	if opts.BaseURL == "" {
		opts.BaseURL = urlutils.ThreadsNetURL
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Log{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		store:        store,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		pollInterval: opts.PollInterval,
		baseURL:      opts.BaseURL,
		runs:         make(map[uint64]*run),
		ctx:          ctx,
		cancel:       cancel,
	}

	var limiter ratelimit.Limiter
	if opts.JobsPerMinute > 0 {
		limiter = ratelimit.New(opts.JobsPerMinute, ratelimit.Per(time.Minute))
	}

	s.pool = pool.NewPool(store, b, pool.Options{
		BaseURL:     s.BaseURL,
		LoadTimeout: opts.LoadTimeout,
		WarmupDelay: opts.WarmupDelay,
	})
	s.pool.Watch()

	s.exec = executor.New(executor.Options{
		Block:       opts.Block,
		BaseURL:     s.BaseURL,
		LoadTimeout: opts.LoadTimeout,
		Limiter:     limiter,
	})

	return s
}

func (s *Scheduler) BaseURL() string {
	s.baseMu.RLock()
	defer s.baseMu.RUnlock()
	return s.baseURL
}

func (s *Scheduler) setBaseURL(u string) {
	s.baseMu.Lock()
	defer s.baseMu.Unlock()
	if s.baseURL != u {
		logger.Info("Using %s for worker windows", u)
	}
	s.baseURL = u
}

// Enqueue adds usernames to the queue tail, skipping duplicates and names
// a worker is busy with. Processing starts when AutoStart is set.
func (s *Scheduler) Enqueue(req EnqueueRequest) EnqueueResult {
	if req.SourceURL != "" && !s.store.IsProcessing() {
		s.setBaseURL(urlutils.BaseURLFor(req.SourceURL))
	}

	names := make([]string, 0, len(req.Usernames))
	for _, raw := range req.Usernames {
		if u := urlutils.NormalizeUsername(raw); u != "" {
			names = append(names, u)
		}
	}

	added := s.store.Enqueue(names)
	res := EnqueueResult{Added: added, Skipped: len(req.Usernames) - added}
	logger.Info("Received %d users. Added %d. Skipped %d. Total queue: %d",
		len(req.Usernames), res.Added, res.Skipped, s.store.Len())
	s.updateGauges()

	if req.AutoStart {
		s.startProcessing()
	}
	return res
}

// Start re-populates the queue with usernames, if any, and begins
// processing. It reports whether a new run was started.
func (s *Scheduler) Start(usernames ...string) bool {
	if len(usernames) > 0 {
		s.Enqueue(EnqueueRequest{Usernames: usernames})
	}
	return s.startProcessing()
}

// Resume starts a new run when idle with work queued.
func (s *Scheduler) Resume() bool {
	return s.startProcessing()
}

// Pause stops new assignments. Running jobs finish and the queue is kept.
func (s *Scheduler) Pause() {
	if s.store.Pause() {
		logger.Info("Paused by user")
	}
}

// Stop clears the queue, force-resolves every running job and closes every
// worker window.
func (s *Scheduler) Stop() {
	logger.Info("Stopping all blocking operations")
	s.store.Clear()
	s.store.Halt()
	s.haltRuns()
	s.pool.TeardownAll()
	s.updateGauges()
}

// SetConcurrency stores the new worker limit and closes the slots above
// it. The running loop keeps the limit it started with.
func (s *Scheduler) SetConcurrency(n int) int {
	v := s.store.SetMaxParallel(n)
	logger.Info("Updated max parallel workers = %d", v)
	s.pool.Shrink(v)
	return v
}

// Concurrency returns the worker limit the next run will use.
func (s *Scheduler) Concurrency() int {
	return s.store.MaxParallel()
}

func (s *Scheduler) Status() state.Status {
	return s.store.Status()
}

// Idle reports whether nothing is processing and every job result has
// been handled and announced.
func (s *Scheduler) Idle() bool {
	return !s.store.IsProcessing() && s.store.ActiveCount() == 0 && s.pending.Load() == 0
}

// WaitIdle blocks until Idle holds.
func (s *Scheduler) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if s.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close stops everything and waits for background goroutines to exit.
func (s *Scheduler) Close() {
	s.Stop()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) updateGauges() {
	s.metrics.SetQueueLength(s.store.Len())
	s.metrics.SetActiveWorkers(s.store.ActiveCount())
}
