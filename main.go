package main

import (
	"os"

	"github.com/JSH-Team/threadsweeper/cmd"

	_ "github.com/JSH-Team/threadsweeper/internal/db"

	m "github.com/pocketbase/pocketbase/migrations"

	"github.com/pocketbase/pocketbase/tools/security"

	"github.com/pocketbase/pocketbase/core"
)

const superuserEmail = "sa@threadsweeper.local"

// Version information set during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Set version information in cmd package
	cmd.SetVersion(Version, BuildTime, GitCommit)

	// placeholder superuser, reset its password with the superuser command
	m.Register(func(app core.App) error {
		superusers, err := app.FindCollectionByNameOrId(core.CollectionNameSuperusers)
		if err != nil {
			return err
		}

		record := core.NewRecord(superusers)
		record.Set("email", superuserEmail)
		record.Set("password", security.RandomString(64))
		return app.Save(record)
	}, func(app core.App) error { // optional revert operation
		record, _ := app.FindAuthRecordByEmail(core.CollectionNameSuperusers, superuserEmail)
		if record == nil {
			return nil
		}

		return app.Delete(record)
	}, "1730000001_created_superuser.go")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
