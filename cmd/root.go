package cmd

import (
	"fmt"

	"github.com/JSH-Team/threadsweeper/cmd/archives"
	"github.com/JSH-Team/threadsweeper/cmd/block"
	"github.com/JSH-Team/threadsweeper/cmd/start"
	"github.com/JSH-Team/threadsweeper/internal/config"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"

	rootCmd = &cobra.Command{
		Use:   "threadsweeper",
		Short: "Bulk block accounts through automated browser windows",
		Long: `threadsweeper queues usernames and blocks them on Threads using a pool
of browser windows that share your logged-in profile.`,
		Version: version,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("threadsweeper %s\n", version)
			fmt.Printf("Build time: %s\n", buildTime)
			fmt.Printf("Git commit: %s\n", gitCommit)
		},
	}
)

// SetVersion sets the version information
func SetVersion(v, bt, gc string) {
	version = v
	buildTime = bt
	gitCommit = gc
	rootCmd.Version = v
}

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(start.StartCmd)
	rootCmd.AddCommand(block.BlockCmd)
	rootCmd.AddCommand(archives.ArchivesCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	config.LoadConfig()
}
