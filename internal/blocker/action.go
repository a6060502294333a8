// Package blocker performs the block action on a profile page that a
// worker window already shows.
package blocker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
	"github.com/JSH-Team/threadsweeper/internal/utils/wait"
	"github.com/JSH-Team/threadsweeper/internal/workers/executor"
)

const (
	menuSelector = `[role="button"][aria-label="More"], [role="button"][aria-label="더 보기"], ` +
		`div[role="button"]:has(svg[aria-label="More"]), div[role="button"]:has(svg[aria-label="더 보기"])`
	menuPattern = ``

	blockSelector = `div[role="button"], button, div[role="menuitem"], span[dir="auto"]`
	blockPattern  = `^(Block|차단|차단하기)(\s|$)`

	confirmSelector = `[role="dialog"] div[role="button"], [role="dialog"] button`
	confirmPattern  = `^(Block|차단|차단하기)$`
)

// ErrErrorPage is returned when the profile rendered the browser error page.
var ErrErrorPage = executor.ErrErrorPage

var (
	errNotBlockable = errors.New("block button not found and could not verify if already blocked")
	errNotVerified  = errors.New("verification failed: unblock button not found after block attempt")
)

// Delay is a random pause between Min and Max.
type Delay struct {
	Min, Max time.Duration
}

func (d Delay) pick() time.Duration {
	return wait.Jitter(d.Min, d.Max)
}

type Options struct {
	InitialDelay Delay
	AfterMenu    Delay
	AfterBlock   Delay
	AfterConfirm Delay

	MenuTimeout    time.Duration
	BlockTimeout   time.Duration
	ConfirmTimeout time.Duration
	DialogTimeout  time.Duration
	VerifyTimeout  time.Duration
	PollInterval   time.Duration
}

func DefaultOptions() Options {
	return Options{
		InitialDelay:   Delay{1500 * time.Millisecond, 3 * time.Second},
		AfterMenu:      Delay{1200 * time.Millisecond, 2 * time.Second},
		AfterBlock:     Delay{800 * time.Millisecond, 1500 * time.Millisecond},
		AfterConfirm:   Delay{2 * time.Second, 3 * time.Second},
		MenuTimeout:    10 * time.Second,
		BlockTimeout:   3 * time.Second,
		ConfirmTimeout: 8 * time.Second,
		DialogTimeout:  5 * time.Second,
		VerifyTimeout:  5 * time.Second,
		PollInterval:   500 * time.Millisecond,
	}
}

// Action blocks one account per call. It is safe for concurrent use, each
// call only touches the context it is given.
type Action struct {
	opts Options
}

func NewAction(opts Options) *Action {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Action{opts: opts}
}

// Block implements executor.BlockFunc.
func (a *Action) Block(ctx context.Context, c browser.Context, username string) (executor.Result, error) {
	rate := &detector{}
	stop := c.Observe(graphqlPath, rate.inspect)
	defer stop()

	if err := wait.Sleep(ctx, a.opts.InitialDelay.pick()); err != nil {
		return executor.Result{}, err
	}
	if r, hit := rate.check(); hit {
		logger.Error("Rate limit detected before blocking %s", username)
		return r, nil
	}

	page, err := a.snapshot(ctx, c)
	if err != nil {
		return executor.Result{}, err
	}
	if page.IsErrorPage() {
		return executor.Result{}, fmt.Errorf("profile %s is %w", username, ErrErrorPage)
	}
	if page.HasUnblock() {
		logger.Debug("%s already blocked", username)
		return executor.Result{Success: true}, nil
	}

	if err := a.click(ctx, c, menuSelector, menuPattern, a.opts.MenuTimeout); err != nil {
		return executor.Result{}, fmt.Errorf("menu button: %w", err)
	}
	if err := wait.Sleep(ctx, a.opts.AfterMenu.pick()); err != nil {
		return executor.Result{}, err
	}

	if a.check(ctx, c, (*Page).HasUnblock) {
		logger.Debug("%s already blocked (unblock option in menu)", username)
		return executor.Result{Success: true}, nil
	}

	if err := a.click(ctx, c, blockSelector, blockPattern, a.opts.BlockTimeout); err != nil {
		if errors.Is(err, browser.ErrContextClosed) || ctx.Err() != nil {
			return executor.Result{}, err
		}
		if a.poll(ctx, c, (*Page).HasUnblock, a.opts.VerifyTimeout) {
			return executor.Result{Success: true}, nil
		}
		return executor.Result{}, errNotBlockable
	}
	if err := wait.Sleep(ctx, a.opts.AfterBlock.pick()); err != nil {
		return executor.Result{}, err
	}
	if r, hit := rate.check(); hit {
		logger.Error("Rate limit detected after clicking block for %s", username)
		return r, nil
	}

	if err := a.click(ctx, c, confirmSelector, confirmPattern, a.opts.ConfirmTimeout); err != nil {
		return executor.Result{}, fmt.Errorf("confirm button: %w", err)
	}

	dialogGone := func(p *Page) bool { return !p.HasDialog() }
	if !a.poll(ctx, c, dialogGone, a.opts.DialogTimeout) {
		logger.Debug("Dialog still open for %s, verifying anyway", username)
	}
	if err := wait.Sleep(ctx, a.opts.AfterConfirm.pick()); err != nil {
		return executor.Result{}, err
	}
	if r, hit := rate.check(); hit {
		logger.Error("Rate limit detected after confirming block for %s", username)
		return r, nil
	}

	if a.poll(ctx, c, (*Page).HasUnblock, a.opts.VerifyTimeout) {
		return executor.Result{Success: true}, nil
	}
	return executor.Result{}, errNotVerified
}

func (a *Action) snapshot(ctx context.Context, c browser.Context) (*Page, error) {
	if u, err := c.URL(ctx); err == nil && strings.HasPrefix(u, "chrome-error://") {
		return nil, ErrErrorPage
	}
	content, err := c.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return ParsePage(content)
}

// check evaluates cond on a fresh snapshot once.
func (a *Action) check(ctx context.Context, c browser.Context, cond func(*Page) bool) bool {
	page, err := a.snapshot(ctx, c)
	return err == nil && cond(page)
}

// poll re-evaluates cond until it holds or timeout passes.
func (a *Action) poll(ctx context.Context, c browser.Context, cond func(*Page) bool, timeout time.Duration) bool {
	err := wait.Poll(ctx, a.opts.PollInterval, timeout, func() bool {
		return a.check(ctx, c, cond)
	})
	return err == nil
}

// click retries until an element matches or timeout passes. A closed
// window ends the wait at once.
func (a *Action) click(ctx context.Context, c browser.Context, selector, pattern string, timeout time.Duration) error {
	var last error
	err := wait.Poll(ctx, a.opts.PollInterval, timeout, func() bool {
		last = c.Click(ctx, selector, pattern)
		return last == nil || errors.Is(last, browser.ErrContextClosed)
	})
	if err != nil {
		if last != nil {
			return fmt.Errorf("%w (%v)", err, last)
		}
		return err
	}
	return last
}
