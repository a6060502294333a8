package db

import (
	"fmt"
	"os"

	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/scheduler"
	"github.com/JSH-Team/threadsweeper/internal/storage"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
)

// Services is everything the HTTP routes and hooks act on.
type Services struct {
	Scheduler *scheduler.Scheduler
	Archives  *storage.Archives
	Results   *storage.Results
	Recorder  *notify.Recorder
	Metrics   *metrics.Metrics
}

// NewServices wires the scheduler to the app's storage and the configured
// notifiers.
func NewServices(app core.App, b browser.Browser) *Services {
	svc := &Services{
		Archives: storage.NewArchives(app),
		Results:  storage.NewResults(app),
		Metrics:  metrics.New(),
	}
	svc.Recorder = notify.NewRecorder(svc.Results, svc.Archives)

	notifiers := notify.Multi{notify.Log{}, svc.Recorder}
	if config.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(config.SlackWebhookURL))
	}

	svc.Scheduler, _ = scheduler.NewFromConfig(b, notifiers, svc.Metrics)
	return svc
}

func RunDB() {
	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir:  config.GetDbPath(),
		HideStartBanner: true,
	})

	b, err := browser.Launch(browser.Options{
		Headless:    config.Headless,
		Bin:         config.BrowserBin,
		UserDataDir: config.UserDataDir,
	})
	if err != nil {
		logger.Error("Failed to launch browser: %v", err)
		return
	}

	svc := NewServices(app, b)

	RegisterHooks(app, svc)

	// Handle graceful shutdown
	app.OnTerminate().BindFunc(func(e *core.TerminateEvent) error {
		svc.Scheduler.Close()
		if err := b.Close(); err != nil {
			logger.Error("Error closing browser: %v", err)
		}
		return e.Next()
	})

	RegisterRoutes(app, svc)

	os.Args = []string{"pocketbase", "serve", "--http", fmt.Sprintf("localhost:%d", config.Port)}
	logger.Info("threadsweeper server started on port %d", config.Port)

	if err := app.Start(); err != nil {
		logger.Error(err.Error())
	}
}

// OpenApp bootstraps the database without serving it and applies pending
// migrations. Callers release it with ResetBootstrapState.
func OpenApp() (*pocketbase.PocketBase, error) {
	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir:  config.GetDbPath(),
		HideStartBanner: true,
	})
	if err := app.Bootstrap(); err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := app.RunAllMigrations(); err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return app, nil
}
