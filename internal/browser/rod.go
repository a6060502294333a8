package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/JSH-Team/threadsweeper/internal/utils/logger"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Options controls how the automation browser is launched.
type Options struct {
	Headless    bool
	Bin         string
	UserDataDir string // profile holding the logged-in session
	ControlURL  string // attach to an already running browser instead of launching
}

// RodBrowser drives a Chromium instance through the DevTools protocol.
// Every worker gets its own window inside the same profile so the logged-in
// session is shared.
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher

	mu       sync.RWMutex
	onClosed []func(Handle)
	stop     context.CancelFunc
}

// Launch starts (or attaches to) a browser and begins watching for closed
// windows.
func Launch(opts Options) (*RodBrowser, error) {
	b := &RodBrowser{}

	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().
			Headless(opts.Headless).
			NoSandbox(true).
			Set("disable-default-apps").
			Set("disable-dev-shm-usage").
			Set("window-size", "375,800")
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		if opts.UserDataDir != "" {
			l = l.UserDataDir(opts.UserDataDir)
		}

		var err error
		controlURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch browser: %w", err)
		}
		b.launcher = l
	}

	b.browser = rod.New().ControlURL(controlURL)
	if err := b.browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	if err := (proto.TargetSetDiscoverTargets{Discover: true}).Call(b.browser); err != nil {
		logger.Error("Failed to enable target discovery: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.stop = cancel
	wait := b.browser.Context(ctx).EachEvent(func(e *proto.TargetTargetDestroyed) {
		b.notifyClosed(Handle(e.TargetID))
	})
	go wait()

	return b, nil
}

func (b *RodBrowser) notifyClosed(h Handle) {
	b.mu.RLock()
	callbacks := append([]func(Handle){}, b.onClosed...)
	b.mu.RUnlock()

	for _, fn := range callbacks {
		fn(h)
	}
}

func (b *RodBrowser) OnContextClosed(fn func(Handle)) {
	b.mu.Lock()
	b.onClosed = append(b.onClosed, fn)
	b.mu.Unlock()
}

func (b *RodBrowser) NewContext(ctx context.Context, focused bool) (Context, error) {
	page, err := b.browser.Context(ctx).Page(proto.TargetCreateTarget{
		URL:        "about:blank",
		NewWindow:  true,
		Background: !focused,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}

	if focused {
		if _, err := page.Activate(); err != nil {
			logger.Debug("Failed to focus window %s: %v", page.TargetID, err)
		}
	}

	return &rodContext{page: page.Context(context.Background())}, nil
}

func (b *RodBrowser) Alive(ctx context.Context, h Handle) bool {
	if h == "" {
		return false
	}
	_, err := proto.TargetGetTargetInfo{TargetID: proto.TargetTargetID(h)}.Call(b.browser.Context(ctx))
	return err == nil
}

// Close shuts down the browser
func (b *RodBrowser) Close() error {
	if b.stop != nil {
		b.stop()
	}
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return err
}

type rodContext struct {
	page *rod.Page
}

func (c *rodContext) Handle() Handle {
	return Handle(c.page.TargetID)
}

func (c *rodContext) ArmLoad(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	wait := c.page.Context(ctx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	go func() {
		wait()
		select {
		case <-ctx.Done():
			// cancelled waits never count as a completed load
		default:
			close(done)
		}
	}()
	return done
}

func (c *rodContext) Navigate(ctx context.Context, url string) error {
	if err := c.page.Context(ctx).Navigate(url); err != nil {
		return wrap("navigation failed", err)
	}
	return nil
}

func (c *rodContext) URL(ctx context.Context) (string, error) {
	info, err := c.page.Context(ctx).Info()
	if err != nil {
		return "", wrap("failed to read page info", err)
	}
	return info.URL, nil
}

func (c *rodContext) HTML(ctx context.Context) (string, error) {
	html, err := c.page.Context(ctx).HTML()
	if err != nil {
		return "", wrap("failed to get HTML content", err)
	}
	return html, nil
}

func (c *rodContext) Click(ctx context.Context, selector, textPattern string) error {
	var re *regexp.Regexp
	if textPattern != "" {
		var err error
		re, err = regexp.Compile(textPattern)
		if err != nil {
			return fmt.Errorf("invalid text pattern %q: %w", textPattern, err)
		}
	}

	elements, err := c.page.Context(ctx).Elements(selector)
	if err != nil {
		return wrap(fmt.Sprintf("failed to query %q", selector), err)
	}

	// menus and dialogs are appended last, prefer the newest match
	for i := len(elements) - 1; i >= 0; i-- {
		el := elements[i]
		if re != nil {
			text, err := el.Text()
			if err != nil || !re.MatchString(strings.TrimSpace(text)) {
				continue
			}
		}
		if visible, err := el.Visible(); err != nil || !visible {
			continue
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return wrap(fmt.Sprintf("failed to click %q", selector), err)
		}
		return nil
	}

	return fmt.Errorf("%w: %s %s", ErrNotFound, selector, textPattern)
}

func (c *rodContext) Observe(urlPart string, fn func(body []byte)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	page := c.page.Context(ctx)

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		logger.Debug("Failed to enable network events: %v", err)
	}

	// callbacks run sequentially, the map needs no lock
	matched := make(map[proto.NetworkRequestID]bool)
	wait := page.EachEvent(
		func(e *proto.NetworkResponseReceived) {
			if e.Response != nil && strings.Contains(e.Response.URL, urlPart) {
				matched[e.RequestID] = true
			}
		},
		func(e *proto.NetworkLoadingFinished) {
			if !matched[e.RequestID] {
				return
			}
			delete(matched, e.RequestID)

			res, err := proto.NetworkGetResponseBody{RequestID: e.RequestID}.Call(page)
			if err != nil {
				return
			}
			body := []byte(res.Body)
			if res.Base64Encoded {
				decoded, err := base64.StdEncoding.DecodeString(res.Body)
				if err != nil {
					return
				}
				body = decoded
			}
			fn(body)
		},
	)
	go wait()

	return cancel
}

func (c *rodContext) Close() error {
	if err := c.page.Close(); err != nil {
		return fmt.Errorf("failed to close window: %w", err)
	}
	return nil
}

// wrap annotates err and maps the protocol errors of a vanished target to
// ErrContextClosed.
func wrap(msg string, err error) error {
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		m := strings.ToLower(cdpErr.Message)
		if strings.Contains(m, "no target with given id") ||
			strings.Contains(m, "session with given id not found") ||
			strings.Contains(m, "target closed") {
			return fmt.Errorf("%s: %w", msg, ErrContextClosed)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
