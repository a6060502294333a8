package db

import (
	"time"

	"github.com/JSH-Team/threadsweeper/internal/storage"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"

	"github.com/pocketbase/pocketbase/core"
)

// ResultRetention is how long block_results rows are kept.
const ResultRetention = 30 * 24 * time.Hour

// RegisterHooks registers all database hooks
func RegisterHooks(app core.App, svc *Services) {
	// migrations have run by the time the server starts
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		go pruneResults(svc.Results, time.Now().Add(-ResultRetention))
		return se.Next()
	})

	app.OnRecordAfterCreateSuccess(storage.ArchivesCollection).BindFunc(func(e *core.RecordEvent) error {
		logger.Debug("Archive %s stored for %q", e.Record.GetString("archive_id"), e.Record.GetString("username"))
		return e.Next()
	})

	// an archive deleted from the admin UI leaves its results in place
	app.OnRecordAfterDeleteSuccess(storage.ArchivesCollection).BindFunc(func(e *core.RecordEvent) error {
		logger.Info("Archive %s deleted", e.Record.GetString("archive_id"))
		return e.Next()
	})
}

func pruneResults(results *storage.Results, before time.Time) {
	n, err := results.Prune(before)
	if err != nil {
		logger.Error("Failed to prune old block results: %v", err)
		return
	}
	if n > 0 {
		logger.Info("Pruned %d block results older than %s", n, before.Format(time.DateOnly))
	}
}
