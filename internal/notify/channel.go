package notify

import (
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
)

type EventKind string

const (
	KindResult      EventKind = "result"
	KindRateLimit   EventKind = "rate_limit"
	KindAllComplete EventKind = "all_complete"
)

// Event is the envelope Channel delivers. Exactly one payload is set for
// result and rate limit events.
type Event struct {
	Kind      EventKind       `json:"kind"`
	Result    *ResultEvent    `json:"result,omitempty"`
	RateLimit *RateLimitEvent `json:"rateLimit,omitempty"`
}

// Channel forwards events to a buffered channel. Events are dropped when
// the reader falls behind.
type Channel struct {
	events chan Event
}

func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{events: make(chan Event, size)}
}

func (c *Channel) Events() <-chan Event {
	return c.events
}

func (c *Channel) send(e Event) {
	select {
	case c.events <- e:
	default:
		logger.Debug("Dropping %s event, listener too slow", e.Kind)
	}
}

func (c *Channel) JobResult(e ResultEvent) {
	c.send(Event{Kind: KindResult, Result: &e})
}

func (c *Channel) RateLimited(e RateLimitEvent) {
	c.send(Event{Kind: KindRateLimit, RateLimit: &e})
}

func (c *Channel) AllComplete() {
	c.send(Event{Kind: KindAllComplete})
}
