// Package storage persists run archives and per-job block results in the
// pocketbase database.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
)

var ErrArchiveNotFound = errors.New("archive not found")

// Archive summarises one finished run.
type Archive struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Blocked   []string  `json:"blocked"`
	Failed    []string  `json:"failed"`
	Skipped   []string  `json:"skipped"`
	Timestamp time.Time `json:"timestamp"`
}

type Archives struct {
	app core.App
}

func NewArchives(app core.App) *Archives {
	return &Archives{app: app}
}

// Save inserts the archive or replaces the one with the same ID.
func (s *Archives) Save(a Archive) error {
	if a.ID == "" {
		return errors.New("archive id is required")
	}
	return s.app.RunInTransaction(func(txApp core.App) error {
		return saveArchive(txApp, a)
	})
}

func saveArchive(app core.App, a Archive) error {
	record, err := app.FindFirstRecordByData(ArchivesCollection, "archive_id", a.ID)
	if err != nil {
		collection, err := app.FindCollectionByNameOrId(ArchivesCollection)
		if err != nil {
			return fmt.Errorf("failed to find archives collection: %w", err)
		}
		record = core.NewRecord(collection)
		record.Set("archive_id", a.ID)
	}

	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	record.Set("username", a.Username)
	record.Set("blocked", nonNil(a.Blocked))
	record.Set("failed", nonNil(a.Failed))
	record.Set("skipped", nonNil(a.Skipped))
	record.Set("timestamp", a.Timestamp)

	if err := app.Save(record); err != nil {
		return fmt.Errorf("failed to save archive %s: %w", a.ID, err)
	}
	return nil
}

func (s *Archives) Get(id string) (*Archive, error) {
	record, err := s.app.FindFirstRecordByData(ArchivesCollection, "archive_id", id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
	}
	return toArchive(record)
}

// List returns every archive, newest first.
func (s *Archives) List() ([]Archive, error) {
	records := []*core.Record{}
	err := s.app.RecordQuery(ArchivesCollection).
		OrderBy("timestamp DESC").
		All(&records)
	if err != nil {
		return nil, fmt.Errorf("failed to list archives: %w", err)
	}
	return toArchives(records)
}

func (s *Archives) ByUsername(username string) ([]Archive, error) {
	records, err := s.app.FindRecordsByFilter(
		ArchivesCollection,
		"username = {:username}",
		"-timestamp",
		0,
		0,
		dbx.Params{"username": username},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find archives for %s: %w", username, err)
	}
	return toArchives(records)
}

func (s *Archives) Delete(id string) error {
	record, err := s.app.FindFirstRecordByData(ArchivesCollection, "archive_id", id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
	}
	return s.app.Delete(record)
}

// Clear removes every archive.
func (s *Archives) Clear() error {
	return s.app.RunInTransaction(func(txApp core.App) error {
		records, err := txApp.FindAllRecords(ArchivesCollection)
		if err != nil {
			return err
		}
		for _, record := range records {
			if err := txApp.Delete(record); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Archives) Count() (int64, error) {
	return s.app.CountRecords(ArchivesCollection)
}

// Export writes all archives to w as an indented JSON array.
func (s *Archives) Export(w io.Writer) error {
	archives, err := s.List()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(archives)
}

// Import reads a JSON array written by Export and saves every entry,
// replacing archives that share an ID. It returns how many were read.
func (s *Archives) Import(r io.Reader) (int, error) {
	var archives []Archive
	if err := json.NewDecoder(r).Decode(&archives); err != nil {
		return 0, fmt.Errorf("invalid archive export: %w", err)
	}

	err := s.app.RunInTransaction(func(txApp core.App) error {
		for _, a := range archives {
			if a.ID == "" {
				return errors.New("archive without id in import")
			}
			if err := saveArchive(txApp, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(archives), nil
}

func toArchives(records []*core.Record) ([]Archive, error) {
	archives := make([]Archive, 0, len(records))
	for _, record := range records {
		a, err := toArchive(record)
		if err != nil {
			return nil, err
		}
		archives = append(archives, *a)
	}
	return archives, nil
}

func toArchive(record *core.Record) (*Archive, error) {
	a := &Archive{
		ID:        record.GetString("archive_id"),
		Username:  record.GetString("username"),
		Timestamp: record.GetDateTime("timestamp").Time(),
	}
	for field, dst := range map[string]*[]string{
		"blocked": &a.Blocked,
		"failed":  &a.Failed,
		"skipped": &a.Skipped,
	} {
		if record.GetString(field) == "" {
			*dst = []string{}
			continue
		}
		if err := record.UnmarshalJSONField(field, dst); err != nil {
			return nil, fmt.Errorf("archive %s has invalid %s list: %w", a.ID, field, err)
		}
		*dst = nonNil(*dst)
	}
	return a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
