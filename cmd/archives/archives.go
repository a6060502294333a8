package archives

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/db"
	"github.com/JSH-Team/threadsweeper/internal/storage"
)

var (
	storageDir string
	username   string
	outDir     string
)

func withArchives(fn func(*storage.Archives) error) error {
	if err := config.SetupStorage(storageDir); err != nil {
		return err
	}
	app, err := db.OpenApp()
	if err != nil {
		return err
	}
	defer app.ResetBootstrapState()
	return fn(storage.NewArchives(app))
}

func listArchives(w io.Writer, list []storage.Archive, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No archives")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-8s %-8s %-8s %s\n", "ID", "SOURCE", "BLOCKED", "FAILED", "SKIPPED", "WHEN")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, a := range list {
		source := a.Username
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%-36s %-20s %-8d %-8d %-8d %s\n",
			a.ID, source, len(a.Blocked), len(a.Failed), len(a.Skipped), formatTime(a.Timestamp, now))
	}
}

func formatTime(t, now time.Time) string {
	diff := now.Sub(t)

	if diff < time.Hour {
		return fmt.Sprintf("%d min ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%d hrs ago", int(diff.Hours()))
	} else if diff < 7*24*time.Hour {
		return fmt.Sprintf("%d days ago", int(diff.Hours()/24))
	} else {
		return t.Format("2006-01-02")
	}
}

func exit(err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

var ArchivesCmd = &cobra.Command{
	Use:   "archives",
	Short: "List saved run archives",
	Long:  `List the archives saved after each completed run, newest first.`,
	Run: func(cmd *cobra.Command, args []string) {
		exit(withArchives(func(s *storage.Archives) error {
			var (
				list []storage.Archive
				err  error
			)
			if username != "" {
				list, err = s.ByUsername(username)
			} else {
				list, err = s.List()
			}
			if err != nil {
				return err
			}
			listArchives(os.Stdout, list, time.Now())
			return nil
		}))
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every archive to a JSON file",
	Run: func(cmd *cobra.Command, args []string) {
		exit(withArchives(func(s *storage.Archives) error {
			dir := outDir
			if dir == "" {
				dir = config.GetExportsPath()
			}
			path, err := s.ExportToDir(dir)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		}))
	},
}

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load archives from an export file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exit(withArchives(func(s *storage.Archives) error {
			n, err := s.ImportFile(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d archives\n", n)
			return nil
		}))
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one archive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		exit(withArchives(func(s *storage.Archives) error {
			return s.Delete(args[0])
		}))
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every archive",
	Run: func(cmd *cobra.Command, args []string) {
		exit(withArchives(func(s *storage.Archives) error {
			n, err := s.Count()
			if err != nil {
				return err
			}
			if err := s.Clear(); err != nil {
				return err
			}
			fmt.Printf("Deleted %d archives\n", n)
			return nil
		}))
	},
}

func init() {
	ArchivesCmd.PersistentFlags().StringVarP(&storageDir, "storage-dir", "s", "", "Storage directory holding the database")
	ArchivesCmd.Flags().StringVarP(&username, "username", "u", "", "Only archives for this source account")
	exportCmd.Flags().StringVarP(&outDir, "out", "o", "", "Directory to write the export to")

	ArchivesCmd.AddCommand(exportCmd, importCmd, deleteCmd, clearCmd)
}
