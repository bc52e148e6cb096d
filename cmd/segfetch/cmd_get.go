package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/vertextoedge/segfetch/internal/config"
	"github.com/vertextoedge/segfetch/internal/domain/event"
	"github.com/vertextoedge/segfetch/internal/logger"
	"github.com/vertextoedge/segfetch/internal/service/manager"
	"github.com/vertextoedge/segfetch/internal/util/ratelimiter"
)

// outcome is the terminal event of one download
type outcome struct {
	id       string
	path     string
	size     int64
	duration time.Duration
	err      error
}

func newGetCmd(configPath *string) *cobra.Command {
	var (
		outputDir string
		filename  string
		priority  string
		referrer  string
		limit     string
		segments  int
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:   "get <url> [url...]",
		Short: "Download one or more URLs and exit",
		Long: `Download URLs in the foreground without a daemon.

Downloads share the same queue, bandwidth limit and segment settings as
the daemon but nothing is persisted. The command exits non-zero when any
download fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if filename != "" && len(args) > 1 {
				return fmt.Errorf("--filename can only be used with a single URL")
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if outputDir != "" {
				cfg.Downloads.Dir = outputDir
			}
			if segments > 0 {
				cfg.Downloads.MaxSegments = segments
			}

			level := cfg.Logging.Level
			if quiet {
				level = "error"
			}
			if err := logger.Init(logger.Options{Level: level, Format: "text", Output: "stderr"}); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync()

			if limit != "" {
				bytesPerSec, err := humanize.ParseBytes(limit)
				if err != nil {
					return fmt.Errorf("invalid --limit %q: %w", limit, err)
				}
				cfg.Downloads.BandwidthLimit = int64(bytesPerSec)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runGet(ctx, cfg, args, manager.AddOptions{
				Filename: filename,
				Priority: priority,
				Referrer: referrer,
			}, quiet)
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Directory to save into (default downloads.dir)")
	cmd.Flags().StringVarP(&filename, "filename", "f", "", "Save under this name instead of the derived one")
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "Queue priority: low, normal, high or critical")
	cmd.Flags().StringVar(&referrer, "referrer", "", "Referer header sent with every request")
	cmd.Flags().StringVar(&limit, "limit", "", "Bandwidth limit, e.g. 2MiB (per second)")
	cmd.Flags().IntVarP(&segments, "segments", "s", 0, "Maximum parallel segments per download")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print errors")

	return cmd
}

func runGet(ctx context.Context, cfg *config.Config, urls []string, opts manager.AddOptions, quiet bool) error {
	a := newApp(cfg, nil, logger.GetZapLogger())

	results := make(chan outcome, len(urls))
	throttle := ratelimiter.New(time.Second)
	watcher := &event.HandlerFunc{
		Events: []string{event.NameProgress, event.NameCompleted, event.NameFailed},
		Fn: func(e event.DomainEvent) error {
			switch ev := e.(type) {
			case event.DownloadProgress:
				if ok, _ := throttle.Allow(ev.ID); ok && !quiet {
					printProgress(ev.Descriptor.Filename, ev.Descriptor.ReceivedBytes, ev.Descriptor.TotalBytes, ev.Descriptor.Speed)
				}
			case event.DownloadCompleted:
				results <- outcome{id: ev.ID, path: ev.Descriptor.Path, size: ev.Descriptor.ReceivedBytes, duration: ev.Duration}
			case event.DownloadFailed:
				results <- outcome{id: ev.ID, path: ev.Descriptor.Path, err: ev.Err}
			}
			return nil
		},
	}
	a.dispatcher.Subscribe(watcher)

	pending, failed := 0, 0
	for _, u := range urls {
		if _, err := a.manager.Add(ctx, u, opts); err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", u, err)
			failed++
			continue
		}
		pending++
	}

	var runErr error
	for pending > 0 {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			pending = 0
		case r := <-results:
			pending--
			if r.err != nil {
				failed++
				fmt.Fprintf(os.Stderr, "failed %s: %v\n", r.path, r.err)
				continue
			}
			if !quiet {
				fmt.Fprintf(os.Stderr, "saved %s (%s in %s)\n", r.path, humanize.IBytes(uint64(r.size)), r.duration.Round(time.Millisecond))
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.dispatcher.Unsubscribe(watcher)
	if err := a.close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}

	if runErr != nil {
		return runErr
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, len(urls))
	}
	return nil
}

func printProgress(name string, received, total, speed int64) {
	if total > 0 {
		fmt.Fprintf(os.Stderr, "%s  %5.1f%%  %s / %s  %s/s\n", name,
			float64(received)*100/float64(total),
			humanize.IBytes(uint64(received)), humanize.IBytes(uint64(total)),
			humanize.IBytes(uint64(speed)))
		return
	}
	fmt.Fprintf(os.Stderr, "%s  %s  %s/s\n", name, humanize.IBytes(uint64(received)), humanize.IBytes(uint64(speed)))
}
