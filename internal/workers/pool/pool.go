// Package pool creates, verifies and tears down the browser windows that
// back each worker slot.
package pool

import (
	"context"
	"fmt"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/state"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
	urlutils "github.com/JSH-Team/threadsweeper/internal/utils/url"
	"github.com/JSH-Team/threadsweeper/internal/utils/wait"
	"github.com/JSH-Team/threadsweeper/internal/workers/executor"

	"golang.org/x/sync/errgroup"
)

// NewPool creates a pool over store's worker table.
func NewPool(store *state.Store, b browser.Browser, opts Options) *Pool {
	if opts.BaseURL == nil {
		opts.BaseURL = func() string { return urlutils.ThreadsNetURL }
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 15 * time.Second
	}
	return &Pool{
		store:   store,
		browser: b,
		opts:    opts,
	}
}

// Watch subscribes the pool to windows closed outside of its control.
func (p *Pool) Watch() {
	p.browser.OnContextClosed(p.HandleContextClosed)
}

// EnsureWorker returns a live context for slot, creating one if needed. It
// returns nil without error when the slot is beyond the run's limit or
// another creation for it is in progress.
func (p *Pool) EnsureWorker(ctx context.Context, slot int) (browser.Context, error) {
	if slot < 0 || slot >= p.store.EffectiveMax() {
		return nil, nil
	}

	existing, token, ok := p.store.BeginCreate(slot)
	if !ok {
		return nil, nil
	}

	if existing != nil {
		if p.browser.Alive(ctx, existing.Handle()) {
			p.store.FinishCreate(slot, token, nil)
			return existing, nil
		}
		logger.Warn("Worker #%d window is gone, recreating", slot+1)
		p.store.AbortCreate(slot, token)
		p.closeContext(existing)

		_, token, ok = p.store.BeginCreate(slot)
		if !ok {
			return nil, nil
		}
	}

	c, err := p.create(ctx, slot)
	if err != nil {
		p.store.AbortCreate(slot, token)
		return nil, fmt.Errorf("failed to create worker #%d: %w", slot+1, err)
	}

	if !p.store.FinishCreate(slot, token, c) {
		// slot was torn down while the window warmed up
		logger.Debug("Worker #%d discarded after teardown", slot+1)
		p.closeContext(c)
		return nil, nil
	}

	logger.Info("Worker #%d ready", slot+1)
	return c, nil
}

// create opens and warms up a window. Only slot 0 takes focus.
func (p *Pool) create(ctx context.Context, slot int) (browser.Context, error) {
	c, err := p.browser.NewContext(ctx, slot == 0)
	if err != nil {
		return nil, err
	}

	loadCtx, stopLoad := context.WithCancel(ctx)
	defer stopLoad()
	loaded := c.ArmLoad(loadCtx)
	if err := c.Navigate(ctx, p.opts.BaseURL()); err != nil {
		p.closeContext(c)
		return nil, err
	}

	ok := wait.For(ctx, loaded, p.opts.LoadTimeout)
	stopLoad()
	if !ok {
		if err := ctx.Err(); err != nil {
			p.closeContext(c)
			return nil, err
		}
		logger.Debug("Worker #%d load event not seen after %v, continuing", slot+1, p.opts.LoadTimeout)
	}

	if err := wait.Sleep(ctx, p.opts.WarmupDelay); err != nil {
		p.closeContext(c)
		return nil, err
	}
	return c, nil
}

// CloseWorker tears down slot's window, or marks it for retirement when a
// job is running on it.
func (p *Pool) CloseWorker(slot int, reason string) {
	c, deferred := p.store.RetireOrTake(slot)
	if deferred {
		logger.Info("Worker #%d busy, closing after its job (%s)", slot+1, reason)
		return
	}
	if c == nil {
		return
	}
	logger.Info("Closing worker #%d (%s)", slot+1, reason)
	p.closeContext(c)
}

// Shrink closes every slot at or above n.
func (p *Pool) Shrink(n int) {
	for i := n; i < state.MaxSlots; i++ {
		p.CloseWorker(i, "max parallel reduced")
	}
}

func (p *Pool) ActiveWorkerCount() int {
	return p.store.ActiveCount()
}

// HandleContextClosed detaches the window that disappeared from its slot.
// A job running on it resolves as failed right away.
func (p *Pool) HandleContextClosed(h browser.Handle) {
	slot := p.store.FindByHandle(h)
	if slot < 0 {
		return
	}
	job := p.store.Orphan(slot)
	logger.Warn("Worker #%d window closed externally", slot+1)
	if job != nil {
		job.Fail(executor.MsgWindowClosed)
	}
}

// TeardownAll cancels every in-flight job and closes every window,
// regardless of busy state.
func (p *Pool) TeardownAll() {
	slots := p.store.DrainAll()

	var g errgroup.Group
	for _, slot := range slots {
		if slot.Job != nil {
			slot.Job.Cancel()
		}
		if slot.Context == nil {
			continue
		}
		c := slot.Context
		g.Go(func() error {
			p.closeContext(c)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pool) closeContext(c browser.Context) {
	if err := c.Close(); err != nil {
		logger.Debug("Closing window %s: %v", c.Handle(), err)
	}
}
