package browser

import (
	"context"
	"errors"
)

var (
	// ErrContextClosed is returned by operations on a context whose window is gone.
	ErrContextClosed = errors.New("browsing context closed")
	// ErrNotFound is returned by Click when no element matched.
	ErrNotFound = errors.New("element not found")
)

// Handle identifies a browsing context (the CDP target id for rod).
type Handle string

// Browser opens isolated browsing contexts and reports when one is closed
// outside of our control.
type Browser interface {
	// NewContext opens an isolated window on about:blank. Only focused
	// contexts are brought to the foreground.
	NewContext(ctx context.Context, focused bool) (Context, error)
	// Alive reports whether the window behind h still exists.
	Alive(ctx context.Context, h Handle) bool
	// OnContextClosed registers fn to be called with the handle of every
	// context that disappears.
	OnContextClosed(fn func(Handle))
	Close() error
}

// Context is one automation window with a single tab.
type Context interface {
	Handle() Handle
	// ArmLoad registers a load-complete listener for the next navigation.
	// The returned channel is closed once the page reports load. It must be
	// called before Navigate.
	ArmLoad(ctx context.Context) <-chan struct{}
	Navigate(ctx context.Context, url string) error
	// URL returns the address currently shown in the tab.
	URL(ctx context.Context) (string, error)
	// HTML returns a snapshot of the current document.
	HTML(ctx context.Context) (string, error)
	// Click clicks the last visible element matching selector whose visible
	// text matches the textPattern regular expression (empty matches any).
	Click(ctx context.Context, selector, textPattern string) error
	// Observe calls fn with the body of every response whose URL contains
	// urlPart until stop is called.
	Observe(urlPart string, fn func(body []byte)) (stop func())
	Close() error
}
