package state

import (
	"errors"

	"github.com/JSH-Team/threadsweeper/internal/browser"
)

// MaxSlots is the capacity of the worker table.
const MaxSlots = 10

var ErrInvalidSlot = errors.New("invalid worker slot")

// Canceler force-resolves an in-flight job, either as stopped by the user
// or as failed with reason.
type Canceler interface {
	Cancel()
	Fail(reason string)
}

// Abort is the effect of a rate-limited result on the current run.
type Abort int

const (
	// AbortIgnored: the ticket is stale.
	AbortIgnored Abort = iota
	// AbortStarted: this result halted the run.
	AbortStarted
	// AbortJoined: an earlier abort already halted the run.
	AbortJoined
)

// Slot is one entry of the worker table. The zero value is the empty
// placeholder left behind by a teardown.
type Slot struct {
	Context     browser.Context
	Busy        bool
	CurrentUser string
	Retire      bool
	Job         Canceler

	epoch    uint64
	creating bool
}

// Ticket identifies one job assignment on one slot occupant.
type Ticket struct {
	Slot     int
	Epoch    uint64
	Username string
	RunID    uint64
	Context  browser.Context

	abortGen uint64
}

// Status is the snapshot served to reconnecting UIs.
type Status struct {
	QueueLength  int      `json:"queueLength"`
	IsProcessing bool     `json:"isProcessing"`
	Queue        []string `json:"queue"`
}
