// Package executor runs single block jobs against a worker's browsing
// context and turns every failure into a Result.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
	urlutils "github.com/JSH-Team/threadsweeper/internal/utils/url"
	"github.com/JSH-Team/threadsweeper/internal/utils/wait"
)

const defaultLoadTimeout = 15 * time.Second

type Executor struct {
	opts Options
}

func New(opts Options) *Executor {
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = defaultLoadTimeout
	}
	if opts.BaseURL == nil {
		opts.BaseURL = func() string { return urlutils.ThreadsNetURL }
	}
	return &Executor{opts: opts}
}

// Start runs the job for username on c in the background. The returned Job
// always resolves; it never surfaces a panic or error to the caller.
func (e *Executor) Start(ctx context.Context, c browser.Context, username string) *Job {
	jobCtx, cancel := context.WithCancel(ctx)
	job := newJob(username, cancel)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Block job for %s panicked: %v", username, r)
				job.resolve(Result{Success: false, Error: fmt.Sprintf("unexpected failure: %v", r)})
			}
		}()
		job.resolve(e.run(jobCtx, c, username))
	}()

	return job
}

func (e *Executor) run(ctx context.Context, c browser.Context, username string) Result {
	if c == nil {
		return Result{Success: false, Error: "worker has no browsing context"}
	}

	if e.opts.Limiter != nil {
		e.opts.Limiter.Take()
	}
	if err := ctx.Err(); err != nil {
		return Result{Success: false, Error: MsgStopped}
	}

	// Listener first, the profile may finish loading before Navigate returns
	loadCtx, stopLoad := context.WithCancel(ctx)
	defer stopLoad()
	loaded := c.ArmLoad(loadCtx)

	target := urlutils.ProfileURL(e.opts.BaseURL(), username)
	if err := c.Navigate(ctx, target); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	ok := wait.For(ctx, loaded, e.opts.LoadTimeout)
	stopLoad()
	if !ok {
		if ctx.Err() != nil {
			return Result{Success: false, Error: MsgStopped}
		}
		logger.Debug("Load event for %s not seen after %v, continuing", target, e.opts.LoadTimeout)
	}

	if e.opts.Block == nil {
		return Result{Success: false, Error: "no block action configured"}
	}

	res, err := e.opts.Block(ctx, c, username)
	if err != nil {
		if isErrorPage(err) {
			return Result{Success: false, Error: MsgErrorPage}
		}
		return Result{Success: false, Error: err.Error()}
	}
	return res
}

func isErrorPage(err error) bool {
	return errors.Is(err, ErrErrorPage) || strings.Contains(strings.ToLower(err.Error()), "error page")
}
