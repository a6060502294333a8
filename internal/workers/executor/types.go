package executor

import (
	"context"
	"errors"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"

	"go.uber.org/ratelimit"
)

const (
	MsgErrorPage    = "showing error page"
	MsgStopped      = "Stopped by user"
	MsgWindowClosed = "worker window closed"
)

// ErrErrorPage is returned by block routines when the profile rendered the
// browser's error page instead of the site.
var ErrErrorPage = errors.New(MsgErrorPage)

// Result is the outcome of one block job.
type Result struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	IsRateLimited bool   `json:"isRateLimited"`
	Code          string `json:"code,omitempty"`
}

// BlockFunc performs the block action on a context already showing the
// target profile. Expected conditions (already blocked, rate limited) come
// back as a Result; an error means something unexpected happened.
type BlockFunc func(ctx context.Context, c browser.Context, username string) (Result, error)

// Options configures an Executor.
type Options struct {
	Block BlockFunc
	// BaseURL is read at the start of every job so base URL changes apply
	// to the next job.
	BaseURL     func() string
	LoadTimeout time.Duration
	// Limiter paces dispatch across all workers. nil means unlimited.
	Limiter ratelimit.Limiter
}
