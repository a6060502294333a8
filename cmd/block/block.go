package block

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/JSH-Team/threadsweeper/cmd/start"
	"github.com/JSH-Team/threadsweeper/internal/browser"
	"github.com/JSH-Team/threadsweeper/internal/config"
	"github.com/JSH-Team/threadsweeper/internal/metrics"
	"github.com/JSH-Team/threadsweeper/internal/notify"
	"github.com/JSH-Team/threadsweeper/internal/scheduler"
	"github.com/JSH-Team/threadsweeper/internal/utils/logger"
)

var (
	file        string
	concurrency int
	headless    bool
	baseURL     string
)

// BlockCmd blocks the given usernames once and exits.
var BlockCmd = &cobra.Command{
	Use:   "block [username...]",
	Short: "Block a list of usernames and exit",
	Long: `Block every username given as argument or listed in --file (one per line,
# starts a comment). Processing stops on the first rate limit; run the command
again later to continue with the usernames that were not blocked.`,
	Run: func(cmd *cobra.Command, args []string) {
		start.ApplyFlags(cmd, concurrency, headless, baseURL)

		usernames := args
		if file != "" {
			fromFile, err := readUsernames(file)
			if err != nil {
				fmt.Printf("Failed to read %s: %v\n", file, err)
				os.Exit(1)
			}
			usernames = append(usernames, fromFile...)
		}
		if len(usernames) == 0 {
			fmt.Println("No usernames given")
			os.Exit(1)
		}

		if err := run(usernames); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	},
}

type summary struct {
	blocked, failed, skipped int
	rateLimited              *notify.RateLimitEvent
	remaining                []string
}

func run(usernames []string) error {
	b, err := browser.Launch(browser.Options{
		Headless:    config.Headless,
		Bin:         config.BrowserBin,
		UserDataDir: config.UserDataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer b.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, ok := blockAll(ctx, b, usernames)
	if !ok {
		fmt.Println("Nothing to block")
		return nil
	}
	printSummary(os.Stdout, sum)
	return nil
}

// blockAll runs one scheduler over b until the queue is done, a rate limit
// stops it, the run ends early or ctx is cancelled. ok is false when none
// of the usernames could be queued.
func blockAll(ctx context.Context, b browser.Browser, usernames []string) (sum summary, ok bool) {
	events := notify.NewChannel(len(usernames) + 8)
	notifiers := notify.Multi{events}
	if config.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlack(config.SlackWebhookURL))
	}

	s, _ := scheduler.NewFromConfig(b, notifiers, nil)
	defer s.Close()

	res := s.Enqueue(scheduler.EnqueueRequest{Usernames: usernames})
	if res.Added == 0 {
		return summary{}, false
	}

	bar := progressbar.NewOptions(res.Added,
		progressbar.OptionSetDescription("Blocking"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
	s.Start()

	// a run can also end without any event, e.g. when no window opens
	idle := make(chan struct{})
	go func() {
		if s.WaitIdle(ctx) == nil {
			close(idle)
		}
	}()

	sum = collect(ctx, events.Events(), idle, bar)
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "Interrupted, stopping")
	}
	sum.remaining = s.Status().Queue
	s.Stop()
	bar.Finish()
	return sum, true
}

// collect consumes events until the run completes, a rate limit aborts it,
// the scheduler goes idle or ctx ends.
func collect(ctx context.Context, events <-chan notify.Event, idle <-chan struct{}, bar *progressbar.ProgressBar) summary {
	var sum summary
	for {
		select {
		case <-ctx.Done():
			return sum
		case <-idle:
			// everything announced before idle is already buffered
			for {
				select {
				case e := <-events:
					if sum.add(e, bar) {
						return sum
					}
				default:
					return sum
				}
			}
		case e := <-events:
			if sum.add(e, bar) {
				return sum
			}
		}
	}
}

// add counts e and reports whether it ends the run.
func (sum *summary) add(e notify.Event, bar *progressbar.ProgressBar) bool {
	switch e.Kind {
	case notify.KindResult:
		switch {
		case e.Result.Success:
			sum.blocked++
		case e.Result.Outcome == metrics.OutcomeStopped:
			return false
		case e.Result.Outcome == metrics.OutcomeSkipped:
			sum.skipped++
		default:
			sum.failed++
			logger.Debug("Failed to block %s: %s", e.Result.Username, e.Result.Error)
		}
		bar.Add(1)
	case notify.KindRateLimit:
		sum.rateLimited = e.RateLimit
		return true
	case notify.KindAllComplete:
		return true
	}
	return false
}

func printSummary(w io.Writer, sum summary) {
	fmt.Fprintf(w, "Blocked: %d  Failed: %d  Skipped: %d\n", sum.blocked, sum.failed, sum.skipped)
	if sum.rateLimited != nil {
		fmt.Fprintf(w, "Rate limited while blocking @%s (%s). Try again later.\n",
			sum.rateLimited.Username, sum.rateLimited.Code)
	}
	if len(sum.remaining) > 0 {
		fmt.Fprintf(w, "Not processed (%d): %s\n", len(sum.remaining), strings.Join(sum.remaining, " "))
	}
}

func readUsernames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseUsernames(f)
}

func parseUsernames(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, sc.Err()
}

func init() {
	BlockCmd.Flags().StringVarP(&file, "file", "f", "", "File with one username per line")
	BlockCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Parallel browser windows (1-10)")
	BlockCmd.Flags().BoolVar(&headless, "headless", false, "Run the browser without a visible window")
	BlockCmd.Flags().StringVar(&baseURL, "base-url", "", "Site root the workers open")
}
