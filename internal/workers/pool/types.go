package pool

import (
	"time"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/state"
)

// Options configures worker warm-up.
type Options struct {
	// BaseURL is the page every new worker opens before its first job.
	BaseURL     func() string
	LoadTimeout time.Duration
	WarmupDelay time.Duration
}

// Pool owns the browsing contexts behind the worker table of a state.Store.
type Pool struct {
	store   *state.Store
	browser browser.Browser
	opts    Options
}
