package db

import (
	"net"
	"net/http"

	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/scheduler"
	"github.com/JSH-Team/threadsweeper/internal/storage"
	urlutils "github.com/JSH-Team/threadsweeper/internal/utils/url"

	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
)

type startRequest struct {
	Usernames []string `json:"usernames"`
}

type concurrencyRequest struct {
	Value int `json:"value"`
}

// RegisterRoutes serves the queue, archive and metrics endpoints to local
// callers only.
func RegisterRoutes(app core.App, svc *Services) {
	app.OnServe().BindFunc(func(se *core.ServeEvent) error {
		se.Router.BindFunc(func(e *core.RequestEvent) error {
			if !isLoopback(e.RealIP()) {
				return e.UnauthorizedError("Unauthorized", nil)
			}
			return e.Next()
		})

		se.Router.GET("/api/config", func(e *core.RequestEvent) error {
			data := map[string]interface{}{
				"storage_dir":          config.StorageDir,
				"base_url":             svc.Scheduler.BaseURL(),
				"max_parallel_workers": svc.Scheduler.Concurrency(),
			}
			return e.JSON(http.StatusOK, data)
		})

		queue := se.Router.Group("/api/queue")
		queue.POST("/enqueue", func(e *core.RequestEvent) error {
			req := scheduler.EnqueueRequest{AutoStart: true}
			if err := e.BindBody(&req); err != nil {
				return e.BadRequestError("Invalid enqueue request", err)
			}
			if req.SourceURL != "" {
				svc.Recorder.SetSource(urlutils.NormalizeUsername(req.SourceURL))
			}
			return e.JSON(http.StatusOK, svc.Scheduler.Enqueue(req))
		})
		queue.POST("/start", func(e *core.RequestEvent) error {
			var req startRequest
			if e.Request.ContentLength != 0 {
				if err := e.BindBody(&req); err != nil {
					return e.BadRequestError("Invalid start request", err)
				}
			}
			started := svc.Scheduler.Start(req.Usernames...)
			return e.JSON(http.StatusOK, map[string]bool{"started": started})
		})
		queue.POST("/resume", func(e *core.RequestEvent) error {
			return e.JSON(http.StatusOK, map[string]bool{"started": svc.Scheduler.Resume()})
		})
		queue.POST("/pause", func(e *core.RequestEvent) error {
			svc.Scheduler.Pause()
			return e.NoContent(http.StatusNoContent)
		})
		queue.POST("/stop", func(e *core.RequestEvent) error {
			svc.Scheduler.Stop()
			return e.NoContent(http.StatusNoContent)
		})
		queue.POST("/concurrency", func(e *core.RequestEvent) error {
			var req concurrencyRequest
			if err := e.BindBody(&req); err != nil {
				return e.BadRequestError("Invalid concurrency request", err)
			}
			v := svc.Scheduler.SetConcurrency(req.Value)
			return e.JSON(http.StatusOK, map[string]int{"maxParallelWorkers": v})
		})
		queue.GET("/status", func(e *core.RequestEvent) error {
			return e.JSON(http.StatusOK, svc.Scheduler.Status())
		})

		archives := se.Router.Group("/api/archives")
		archives.GET("", func(e *core.RequestEvent) error {
			var (
				list []storage.Archive
				err  error
			)
			if username := e.Request.URL.Query().Get("username"); username != "" {
				list, err = svc.Archives.ByUsername(username)
			} else {
				list, err = svc.Archives.List()
			}
			if err != nil {
				return e.InternalServerError("Failed to list archives", err)
			}
			return e.JSON(http.StatusOK, list)
		})
		archives.GET("/export", func(e *core.RequestEvent) error {
			e.Response.Header().Set("Content-Type", "application/json")
			e.Response.Header().Set("Content-Disposition", `attachment; filename="archives.json"`)
			if err := svc.Archives.Export(e.Response); err != nil {
				return e.InternalServerError("Failed to export archives", err)
			}
			return nil
		})
		archives.POST("/import", func(e *core.RequestEvent) error {
			n, err := svc.Archives.Import(e.Request.Body)
			if err != nil {
				return e.BadRequestError("Failed to import archives", err)
			}
			return e.JSON(http.StatusOK, map[string]int{"imported": n})
		})
		archives.DELETE("/{id}", func(e *core.RequestEvent) error {
			if err := svc.Archives.Delete(e.Request.PathValue("id")); err != nil {
				return e.NotFoundError("Archive not found", err)
			}
			return e.NoContent(http.StatusNoContent)
		})

		se.Router.GET("/metrics", apis.WrapStdHandler(svc.Metrics.Handler()))

		return se.Next()
	})
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
