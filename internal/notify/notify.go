// Package notify delivers job outcomes to whoever is listening. Delivery is
// best-effort: a sink that fails or panics never affects the scheduler.
package notify

import (
	"fmt"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
)

// ResultEvent is emitted once per finished job.
type ResultEvent struct {
	Username string    `json:"username"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	// Outcome is one of the metrics outcome labels: blocked, failed,
	// skipped or stopped.
	Outcome  string    `json:"outcome,omitempty"`
	Time     time.Time `json:"time"`
}

// RateLimitEvent means processing was halted; the operator has to resume.
type RateLimitEvent struct {
	Username string    `json:"username"`
	Error    string    `json:"error,omitempty"`
	Code     string    `json:"code,omitempty"`
	Time     time.Time `json:"time"`
}

type Notifier interface {
	JobResult(ResultEvent)
	RateLimited(RateLimitEvent)
	AllComplete()
}

// Nop drops everything.
type Nop struct{}

func (Nop) JobResult(ResultEvent)      {}
func (Nop) RateLimited(RateLimitEvent) {}
func (Nop) AllComplete()               {}

// Log writes every event to the application log.
type Log struct{}

func (Log) JobResult(e ResultEvent) {
	if e.Success {
		logger.Info("Blocked %s", e.Username)
		return
	}
	logger.Warn("Failed to block %s: %s", e.Username, e.Error)
}

func (Log) RateLimited(e RateLimitEvent) {
	logger.Error("Rate limit detected while blocking %s (%s %s). All processing stopped", e.Username, e.Code, e.Error)
}

func (Log) AllComplete() {
	logger.Info("All blocking jobs completed")
}

// Multi fans every event out to all of its sinks.
type Multi []Notifier

func (m Multi) JobResult(e ResultEvent) {
	for _, n := range m {
		safely("job result", func() { n.JobResult(e) })
	}
}

func (m Multi) RateLimited(e RateLimitEvent) {
	for _, n := range m {
		safely("rate limit", func() { n.RateLimited(e) })
	}
}

func (m Multi) AllComplete() {
	for _, n := range m {
		safely("all complete", func() { n.AllComplete() })
	}
}

func safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Notifier panicked on %s: %v", what, fmt.Sprint(r))
		}
	}()
	fn()
}
