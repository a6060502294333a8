package db

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/mocks"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/scheduler"
	"github.com/JSH-Team/threadsweeper/internal/state"
	"github.com/JSH-Team/threadsweeper/internal/storage"
	"github.com/JSH-Team/threadsweeper/internal/workers/executor"
)

var local = map[string]string{"X-Real-IP": "127.0.0.1"}

// never finishes, so queued names stay put while a test inspects them
func blockForever(ctx context.Context, _ browser.Context, _ string) (executor.Result, error) {
	<-ctx.Done()
	return executor.Result{}, ctx.Err()
}

func newServices(t testing.TB, app core.App) *Services {
	t.Helper()
	svc := &Services{
		Archives: storage.NewArchives(app),
		Results:  storage.NewResults(app),
		Metrics:  metrics.New(),
	}
	svc.Recorder = notify.NewRecorder(svc.Results, svc.Archives)
	svc.Scheduler = scheduler.New(state.New(2), mocks.NewFakeBrowser(), scheduler.Options{
		PollInterval: 10 * time.Millisecond,
		LoadTimeout:  50 * time.Millisecond,
		Block:        blockForever,
		Notifier:     notify.Multi{svc.Recorder},
		Metrics:      svc.Metrics,
	})
	t.Cleanup(svc.Scheduler.Close)
	return svc
}

// appFactory returns a test app with the routes registered. Requests carry
// X-Real-IP so they pass the loopback guard.
func appFactory(setup func(t testing.TB, svc *Services)) func(t testing.TB) *tests.TestApp {
	return func(t testing.TB) *tests.TestApp {
		app, err := tests.NewTestApp(t.TempDir())
		require.NoError(t, err)

		if _, err := app.FindCollectionByNameOrId(storage.ArchivesCollection); err != nil {
			require.NoError(t, storage.CreateCollections(app))
		}
		app.Settings().TrustedProxy.Headers = []string{"X-Real-IP"}

		svc := newServices(t, app)
		if setup != nil {
			setup(t, svc)
		}
		RegisterRoutes(app, svc)
		return app
	}
}

func TestQueueRoutes(t *testing.T) {
	var stopped *Services

	scenarios := []tests.ApiScenario{
		{
			Name:            "status when empty",
			Method:          http.MethodGet,
			URL:             "/api/queue/status",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"queueLength":0`, `"isProcessing":false`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "enqueue without auto start",
			Method:          http.MethodPost,
			URL:             "/api/queue/enqueue",
			Body:            strings.NewReader(`{"usernames":["alice","@bob","alice",""],"autoStart":false}`),
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"added":2`, `"skipped":2`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "invalid enqueue body",
			Method:          http.MethodPost,
			URL:             "/api/queue/enqueue",
			Body:            strings.NewReader(`{"usernames":`),
			Headers:         local,
			ExpectedStatus:  http.StatusBadRequest,
			ExpectedContent: []string{`"data"`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "status lists the queue in order",
			Method:          http.MethodGet,
			URL:             "/api/queue/status",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"queue":["carol","dave"]`, `"queueLength":2`},
			TestAppFactory: appFactory(func(t testing.TB, svc *Services) {
				svc.Scheduler.Enqueue(scheduler.EnqueueRequest{Usernames: []string{"carol", "dave"}})
			}),
		},
		{
			Name:            "concurrency is clamped",
			Method:          http.MethodPost,
			URL:             "/api/queue/concurrency",
			Body:            strings.NewReader(`{"value":42}`),
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"maxParallelWorkers":10`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "resume with nothing queued",
			Method:          http.MethodPost,
			URL:             "/api/queue/resume",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"started":false`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:           "stop clears the queue",
			Method:         http.MethodPost,
			URL:            "/api/queue/stop",
			Headers:        local,
			ExpectedStatus: http.StatusNoContent,
			TestAppFactory: appFactory(func(t testing.TB, svc *Services) {
				svc.Scheduler.Enqueue(scheduler.EnqueueRequest{Usernames: []string{"erin"}})
				stopped = svc
			}),
			AfterTestFunc: func(t testing.TB, app *tests.TestApp, res *http.Response) {
				assert.Zero(t, stopped.Scheduler.Status().QueueLength)
			},
		},
		{
			Name:            "remote callers are rejected",
			Method:          http.MethodGet,
			URL:             "/api/queue/status",
			Headers:         map[string]string{"X-Real-IP": "203.0.113.7"},
			ExpectedStatus:  http.StatusUnauthorized,
			ExpectedContent: []string{`"data":{}`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "config",
			Method:          http.MethodGet,
			URL:             "/api/config",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"max_parallel_workers":2`, `"base_url"`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "metrics exposition",
			Method:          http.MethodGet,
			URL:             "/metrics",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{"threadsweeper_queue_length"},
			TestAppFactory:  appFactory(nil),
		},
	}

	for _, scenario := range scenarios {
		scenario.Test(t)
	}
}

func TestArchiveRoutes(t *testing.T) {
	seed := func(t testing.TB, svc *Services) {
		require.NoError(t, svc.Archives.Save(storage.Archive{
			ID:        "run-1",
			Username:  "source",
			Blocked:   []string{"alice"},
			Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		}))
	}

	scenarios := []tests.ApiScenario{
		{
			Name:            "list",
			Method:          http.MethodGet,
			URL:             "/api/archives",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"id":"run-1"`, `"blocked":["alice"]`},
			TestAppFactory:  appFactory(seed),
		},
		{
			Name:            "filter by username",
			Method:          http.MethodGet,
			URL:             "/api/archives?username=nobody",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`[]`},
			TestAppFactory:  appFactory(seed),
		},
		{
			Name:            "export",
			Method:          http.MethodGet,
			URL:             "/api/archives/export",
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"id": "run-1"`},
			TestAppFactory:  appFactory(seed),
		},
		{
			Name:            "import",
			Method:          http.MethodPost,
			URL:             "/api/archives/import",
			Body:            strings.NewReader(`[{"id":"run-2","username":"x","blocked":["b"]},{"id":"run-3","username":"y"}]`),
			Headers:         local,
			ExpectedStatus:  http.StatusOK,
			ExpectedContent: []string{`"imported":2`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:            "import rejects garbage",
			Method:          http.MethodPost,
			URL:             "/api/archives/import",
			Body:            strings.NewReader(`not json`),
			Headers:         local,
			ExpectedStatus:  http.StatusBadRequest,
			ExpectedContent: []string{`"data"`},
			TestAppFactory:  appFactory(nil),
		},
		{
			Name:           "delete",
			Method:         http.MethodDelete,
			URL:            "/api/archives/run-1",
			Headers:        local,
			ExpectedStatus: http.StatusNoContent,
			TestAppFactory: appFactory(seed),
		},
		{
			Name:            "delete missing",
			Method:          http.MethodDelete,
			URL:             "/api/archives/missing",
			Headers:         local,
			ExpectedStatus:  http.StatusNotFound,
			ExpectedContent: []string{`"data"`},
			TestAppFactory:  appFactory(nil),
		},
	}

	for _, scenario := range scenarios {
		scenario.Test(t)
	}
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, isLoopback("127.0.0.1"))
	assert.True(t, isLoopback("::1"))
	assert.False(t, isLoopback("192.168.1.10"))
	assert.False(t, isLoopback(""))
}
