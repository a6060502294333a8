package notify

import (
	"sync"
	"time"

	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/storage"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"

	"github.com/google/uuid"
)

type ResultStore interface {
	Add(storage.Result) error
}

type ArchiveStore interface {
	Save(storage.Archive) error
}

// Recorder persists every result and saves a run archive once the queue
// drains.
type Recorder struct {
	results  ResultStore
	archives ArchiveStore

	mu      sync.Mutex
	source  string
	blocked []string
	failed  []string
	skipped []string
}

func NewRecorder(results ResultStore, archives ArchiveStore) *Recorder {
	return &Recorder{results: results, archives: archives}
}

// SetSource names the account the current usernames were collected from.
func (r *Recorder) SetSource(username string) {
	r.mu.Lock()
	r.source = username
	r.mu.Unlock()
}

func (r *Recorder) JobResult(e ResultEvent) {
	r.add(storage.Result{
		Username: e.Username,
		Success:  e.Success,
		Error:    e.Error,
		Outcome:  e.Outcome,
		Created:  e.Time,
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case e.Success:
		r.blocked = append(r.blocked, e.Username)
	case e.Outcome == metrics.OutcomeSkipped:
		r.skipped = append(r.skipped, e.Username)
	case e.Outcome == metrics.OutcomeStopped:
	default:
		r.failed = append(r.failed, e.Username)
	}
}

func (r *Recorder) RateLimited(e RateLimitEvent) {
	r.add(storage.Result{
		Username: e.Username,
		Error:    e.Error,
		Outcome:  metrics.OutcomeRateLimit,
		Created:  e.Time,
	})
}

func (r *Recorder) AllComplete() {
	r.mu.Lock()
	archive := storage.Archive{
		ID:        uuid.NewString(),
		Username:  r.source,
		Blocked:   r.blocked,
		Failed:    r.failed,
		Skipped:   r.skipped,
		Timestamp: time.Now(),
	}
	r.blocked, r.failed, r.skipped = nil, nil, nil
	r.mu.Unlock()

	if len(archive.Blocked)+len(archive.Failed)+len(archive.Skipped) == 0 {
		return
	}
	if err := r.archives.Save(archive); err != nil {
		logger.Error("Failed to save run archive: %v", err)
		return
	}
	logger.Info("Saved archive %s (%d blocked, %d failed, %d skipped)",
		archive.ID, len(archive.Blocked), len(archive.Failed), len(archive.Skipped))
}

func (r *Recorder) add(res storage.Result) {
	if err := r.results.Add(res); err != nil {
		logger.Error("Failed to record result for %s: %v", res.Username, err)
	}
}
