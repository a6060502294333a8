package storage

import (
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"
)

// Result is one finished block job as stored in block_results.
type Result struct {
	Username string    `json:"username"`
	Success  bool      `json:"success"`
	Error    string    `json:"error,omitempty"`
	Outcome  string    `json:"outcome,omitempty"`
	Created  time.Time `json:"created"`
}

type Results struct {
	app core.App
}

func NewResults(app core.App) *Results {
	return &Results{app: app}
}

func (s *Results) Add(r Result) error {
	collection, err := s.app.FindCollectionByNameOrId(ResultsCollection)
	if err != nil {
		return fmt.Errorf("failed to find %s collection: %w", ResultsCollection, err)
	}
	if r.Created.IsZero() {
		r.Created = time.Now()
	}

	record := core.NewRecord(collection)
	record.Set("username", r.Username)
	record.Set("success", r.Success)
	record.Set("error", r.Error)
	record.Set("outcome", r.Outcome)
	record.Set("created_at", r.Created)

	if err := s.app.Save(record); err != nil {
		return fmt.Errorf("failed to save result for %s: %w", r.Username, err)
	}
	return nil
}

// Since returns results created at or after t, oldest first.
func (s *Results) Since(t time.Time) ([]Result, error) {
	records := []*core.Record{}
	err := s.app.RecordQuery(ResultsCollection).
		AndWhere(dbx.NewExp("created_at >= {:since}", dbx.Params{"since": dbTime(t)})).
		OrderBy("created_at ASC").
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	results := make([]Result, 0, len(records))
	for _, record := range records {
		results = append(results, Result{
			Username: record.GetString("username"),
			Success:  record.GetBool("success"),
			Error:    record.GetString("error"),
			Outcome:  record.GetString("outcome"),
			Created:  record.GetDateTime("created_at").Time(),
		})
	}
	return results, nil
}

// Prune deletes results created before the given time and reports how
// many went.
func (s *Results) Prune(before time.Time) (int, error) {
	records, err := s.app.FindRecordsByFilter(
		ResultsCollection,
		"created_at < {:before}",
		"",
		0,
		0,
		dbx.Params{"before": dbTime(before)},
	)
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if err := s.app.Delete(record); err != nil {
			return 0, err
		}
	}
	return len(records), nil
}

func dbTime(t time.Time) string {
	return t.UTC().Format(types.DefaultDateLayout)
}
