package executor

import (
	"context"
	"sync"
	"time"
)

// Job is the handle of one in-flight block job. It resolves exactly once,
// either with the executor's result or through Cancel.
type Job struct {
	Username string
	Started  time.Time

	once   sync.Once
	done   chan struct{}
	result Result
	cancel context.CancelFunc
}

func newJob(username string, cancel context.CancelFunc) *Job {
	return &Job{
		Username: username,
		Started:  time.Now(),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
}

// resolve stores r if the job is still pending and reports whether it won.
func (j *Job) resolve(r Result) bool {
	won := false
	j.once.Do(func() {
		j.result = r
		won = true
		close(j.done)
	})
	if won && j.cancel != nil {
		j.cancel()
	}
	return won
}

// Cancel force-resolves the job as stopped by the user and cancels the page
// interaction behind it.
func (j *Job) Cancel() {
	j.resolve(Result{Success: false, Error: MsgStopped})
}

// Fail force-resolves the job as failed with reason, e.g. when its window
// disappeared under it.
func (j *Job) Fail(reason string) {
	j.resolve(Result{Success: false, Error: reason})
}

func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job resolves.
func (j *Job) Wait() Result {
	<-j.done
	return j.result
}
