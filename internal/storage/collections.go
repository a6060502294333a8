package storage

import (
	"github.com/pocketbase/pocketbase/core"
)

const (
	ArchivesCollection = "archives"
	ResultsCollection  = "block_results"
)

func RegisterArchivesCollection(app core.App) (*core.Collection, error) {
	archivesCollection := core.NewBaseCollection(ArchivesCollection)

	archivesCollection.Fields.Add(
		&core.TextField{
			Name:     "archive_id",
			Required: true,
			Max:      256,
		},
		&core.TextField{
			Name:     "username",
			Required: false,
			Max:      256,
		},
		&core.JSONField{
			Name:     "blocked",
			Required: false,
			MaxSize:  1024 * 1024 * 10,
		},
		&core.JSONField{
			Name:     "failed",
			Required: false,
			MaxSize:  1024 * 1024 * 10,
		},
		&core.JSONField{
			Name:     "skipped",
			Required: false,
			MaxSize:  1024 * 1024 * 10,
		},
		&core.DateField{
			Name:     "timestamp",
			Required: true,
		},
	)
	archivesCollection.AddIndex("idx_archives_archive_id", true, "archive_id", "")
	archivesCollection.AddIndex("idx_archives_username", false, "username", "")

	rule := "id != ''"
	archivesCollection.ViewRule = &rule
	archivesCollection.ListRule = &rule

	if err := app.Save(archivesCollection); err != nil {
		return nil, err
	}

	return archivesCollection, nil
}

func RegisterResultsCollection(app core.App) (*core.Collection, error) {
	resultsCollection := core.NewBaseCollection(ResultsCollection)

	resultsCollection.Fields.Add(
		&core.TextField{
			Name:     "username",
			Required: true,
			Max:      256,
		},
		&core.BoolField{
			Name:     "success",
			Required: false,
		},
		&core.TextField{
			Name:     "error",
			Required: false,
			Max:      5000,
		},
		&core.SelectField{
			Name:     "outcome",
			Required: false,
			Values:   []string{"blocked", "failed", "skipped", "stopped", "rate_limited"},
		},
		&core.DateField{
			Name:     "created_at",
			Required: true,
		},
	)

	// the UI subscribes to this collection through realtime
	rule := "id != ''"
	resultsCollection.ViewRule = &rule
	resultsCollection.ListRule = &rule

	if err := app.Save(resultsCollection); err != nil {
		return nil, err
	}

	return resultsCollection, nil
}

// CreateCollections creates every collection the application stores into.
func CreateCollections(app core.App) error {
	if _, err := RegisterArchivesCollection(app); err != nil {
		return err
	}
	_, err := RegisterResultsCollection(app)
	return err
}

// DropCollections removes the collections created by CreateCollections.
func DropCollections(app core.App) error {
	for _, name := range []string{ResultsCollection, ArchivesCollection} {
		collection, err := app.FindCollectionByNameOrId(name)
		if err != nil {
			continue
		}
		if err := app.Delete(collection); err != nil {
			return err
		}
	}
	return nil
}
