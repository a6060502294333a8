package db

import (
	"github.com/JSH-Team/threadsweeper/internal/storage"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(
		// Up migration
		func(app core.App) error {
			return storage.CreateCollections(app)
		},

		// Down migration
		func(app core.App) error {
			return storage.DropCollections(app)
		}, "1730000000_created_block_collections.go")
}
