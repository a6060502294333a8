package scheduler

import (
	"time"

	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/workers/executor"
)

// Options wires the scheduler to its collaborators. A zero PollInterval or
// LoadTimeout falls back to the config package defaults.
type Options struct {
	PollInterval  time.Duration
	LoadTimeout   time.Duration
	WarmupDelay   time.Duration
	JobsPerMinute int
	BaseURL       string

	Block    executor.BlockFunc
	Notifier notify.Notifier
	Metrics  *metrics.Metrics
}

// EnqueueRequest adds usernames to the queue. SourceURL is the page they
// were collected from; it selects the site the workers use when idle.
type EnqueueRequest struct {
	Usernames []string `json:"usernames"`
	AutoStart bool     `json:"autoStart"`
	SourceURL string   `json:"sourceUrl,omitempty"`
}

type EnqueueResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// friendly text reported for profiles that rendered the browser error page
const errorPageMessage = "page failed to load (404/network)"
