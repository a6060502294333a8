package scheduler

import (
	"github.com/JSH-Team/threadsweeper/internal/blocker"
	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/state"
)

// NewFromConfig builds a store and scheduler from the loaded configuration,
// with the blocker package performing the page actions.
func NewFromConfig(b browser.Browser, n notify.Notifier, m *metrics.Metrics) (*Scheduler, *state.Store) {
	store := state.New(config.MaxParallelWorkers)
	s := New(store, b, Options{
		PollInterval:  config.PollInterval,
		LoadTimeout:   config.LoadTimeout,
		WarmupDelay:   config.WarmupDelay,
		JobsPerMinute: config.JobsPerMinute,
		BaseURL:       config.BaseURL,
		Block:         blocker.NewAction(blocker.DefaultOptions()).Block,
		Notifier:      n,
		Metrics:       m,
	})
	return s, store
}
