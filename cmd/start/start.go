package start

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/db"
)

var (
	storageDir  string
	concurrency int
	headless    bool
	baseURL     string
)

// StartCmd runs the HTTP command API together with the block scheduler.
var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the threadsweeper server",
	Run: func(cmd *cobra.Command, args []string) {
		ApplyFlags(cmd, concurrency, headless, baseURL)

		if err := config.SetupStorage(storageDir); err != nil {
			fmt.Printf("Failed to setup storage: %v\n", err)
			os.Exit(1)
		}

		db.RunDB()
	},
}

// ApplyFlags lets explicitly set flags win over the config file and the
// environment.
func ApplyFlags(cmd *cobra.Command, concurrency int, headless bool, baseURL string) {
	if cmd.Flags().Changed("concurrency") {
		config.MaxParallelWorkers = config.ClampWorkers(concurrency)
	}
	if cmd.Flags().Changed("headless") {
		config.Headless = headless
	}
	if cmd.Flags().Changed("base-url") {
		config.BaseURL = baseURL
	}
}

func init() {
	StartCmd.Flags().IntVarP(&config.Port, "port", "p", config.DefaultPort, "Port to run the server")
	StartCmd.Flags().StringVarP(&storageDir, "storage-dir", "s", "", "Storage directory for the database and exports")
	StartCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Parallel browser windows (1-10)")
	StartCmd.Flags().BoolVar(&headless, "headless", false, "Run the browser without a visible window")
	StartCmd.Flags().StringVar(&baseURL, "base-url", "", "Site root the workers open")
}
