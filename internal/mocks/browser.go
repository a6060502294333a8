package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JSH-Team/threadsweeper/internal/browser"
)

// FakeBrowser is an in-memory browser.Browser. Windows load instantly
// unless LoadNever is set.
type FakeBrowser struct {
	mu       sync.Mutex
	next     int
	contexts []*FakeContext
	onClosed []func(browser.Handle)

	NewContextErr error
	LoadNever     bool
	// HTML is served by every context that has no HTMLFunc of its own.
	HTML string
}

func NewFakeBrowser() *FakeBrowser {
	return &FakeBrowser{}
}

func (b *FakeBrowser) NewContext(ctx context.Context, focused bool) (browser.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.NewContextErr != nil {
		return nil, b.NewContextErr
	}
	b.next++
	c := &FakeContext{
		handle:    browser.Handle(fmt.Sprintf("window-%d", b.next)),
		Focused:   focused,
		loadNever: b.LoadNever,
		owner:     b,
	}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *FakeBrowser) Alive(ctx context.Context, h browser.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.contexts {
		if c.handle == h {
			return !c.IsClosed()
		}
	}
	return false
}

func (b *FakeBrowser) OnContextClosed(fn func(browser.Handle)) {
	b.mu.Lock()
	b.onClosed = append(b.onClosed, fn)
	b.mu.Unlock()
}

// CloseExternally simulates the user closing a window by hand.
func (b *FakeBrowser) CloseExternally(h browser.Handle) {
	b.mu.Lock()
	var target *FakeContext
	for _, c := range b.contexts {
		if c.handle == h {
			target = c
		}
	}
	callbacks := append([]func(browser.Handle){}, b.onClosed...)
	b.mu.Unlock()

	if target == nil {
		return
	}
	target.markClosed()
	for _, fn := range callbacks {
		fn(h)
	}
}

func (b *FakeBrowser) Close() error {
	return nil
}

// Created returns how many contexts were ever opened.
func (b *FakeBrowser) Created() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.contexts)
}

// Open returns how many contexts are still open.
func (b *FakeBrowser) Open() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.contexts {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}

func (b *FakeBrowser) Contexts() []*FakeContext {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*FakeContext{}, b.contexts...)
}

func (b *FakeBrowser) html() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.HTML
}

// FakeContext records everything done to one window.
type FakeContext struct {
	mu          sync.Mutex
	handle      browser.Handle
	closed      bool
	loadNever   bool
	pending     []chan struct{}
	loadCtxs    []context.Context
	navigations []string
	armedFirst  []bool
	clicks      []string
	observers   map[int]fakeObserver
	nextObs     int
	owner       *FakeBrowser

	Focused   bool
	HTMLFunc  func() string
	ClickFunc func(selector, textPattern string) error
	CloseErr  error
}

type fakeObserver struct {
	part string
	fn   func([]byte)
}

func (c *FakeContext) Handle() browser.Handle {
	return c.handle
}

func (c *FakeContext) ArmLoad(ctx context.Context) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	c.pending = append(c.pending, ch)
	c.loadCtxs = append(c.loadCtxs, ctx)
	return ch
}

// OpenLoadWaits returns how many load listeners still hold a live context.
func (c *FakeContext) OpenLoadWaits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ctx := range c.loadCtxs {
		if ctx.Err() == nil {
			n++
		}
	}
	return n
}

func (c *FakeContext) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return browser.ErrContextClosed
	}
	c.navigations = append(c.navigations, url)
	c.armedFirst = append(c.armedFirst, len(c.pending) > 0)
	if !c.loadNever {
		for _, ch := range c.pending {
			close(ch)
		}
		c.pending = nil
	}
	return nil
}

func (c *FakeContext) URL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.navigations) == 0 {
		return "about:blank", nil
	}
	return c.navigations[len(c.navigations)-1], nil
}

func (c *FakeContext) HTML(ctx context.Context) (string, error) {
	c.mu.Lock()
	closed, fn := c.closed, c.HTMLFunc
	c.mu.Unlock()

	if closed {
		return "", browser.ErrContextClosed
	}
	if fn != nil {
		return fn(), nil
	}
	if c.owner != nil {
		return c.owner.html(), nil
	}
	return "", nil
}

func (c *FakeContext) Click(ctx context.Context, selector, textPattern string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return browser.ErrContextClosed
	}
	c.clicks = append(c.clicks, textPattern)
	fn := c.ClickFunc
	c.mu.Unlock()

	if fn != nil {
		return fn(selector, textPattern)
	}
	return nil
}

func (c *FakeContext) Observe(urlPart string, fn func(body []byte)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.observers == nil {
		c.observers = make(map[int]fakeObserver)
	}
	id := c.nextObs
	c.nextObs++
	c.observers[id] = fakeObserver{part: urlPart, fn: fn}
	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

// Respond delivers a response body to every observer watching url.
func (c *FakeContext) Respond(url string, body []byte) {
	c.mu.Lock()
	var fns []func([]byte)
	for _, o := range c.observers {
		if strings.Contains(url, o.part) {
			fns = append(fns, o.fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(body)
	}
}

func (c *FakeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.CloseErr
}

func (c *FakeContext) markClosed() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *FakeContext) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeContext) Navigations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.navigations...)
}

// ArmedBeforeNavigate reports, per navigation, whether a load listener was
// registered before it started.
func (c *FakeContext) ArmedBeforeNavigate() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool{}, c.armedFirst...)
}

func (c *FakeContext) Clicks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.clicks...)
}
