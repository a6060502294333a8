package mocks

import (
	"github.com/JSH-Team/threadsweeper/internal/notify"

	"github.com/stretchr/testify/mock"
)

// Notifier is a testify mock of notify.Notifier.
type Notifier struct {
	mock.Mock
}

func (n *Notifier) JobResult(e notify.ResultEvent) {
	n.Called(e)
}

func (n *Notifier) RateLimited(e notify.RateLimitEvent) {
	n.Called(e)
}

func (n *Notifier) AllComplete() {
	n.Called()
}
