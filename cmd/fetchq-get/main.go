// fetchq-get downloads media URLs from the command line or a list file
// through the fetch queue and shows aggregate progress.
//
//	fetchq-get [flags] URL...
//	fetchq-get [flags] -list urls.txt
//	cat urls.txt | fetchq-get [flags]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/downloadcfg"
	"github.com/tinoosan/fetchq/internal/downloader"
	"github.com/tinoosan/fetchq/internal/downloader/httpfetch"
	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/extract"
	"github.com/tinoosan/fetchq/internal/logging"
	"github.com/tinoosan/fetchq/internal/media"
	"github.com/tinoosan/fetchq/internal/progress"
	"github.com/tinoosan/fetchq/internal/repo"
	"github.com/tinoosan/fetchq/internal/scheduler"
	"github.com/tinoosan/fetchq/internal/service"
)

type options struct {
	root       string
	list       string
	workers    int
	retries    int
	kinds      string
	collision  string
	reorganize bool
	quiet      bool
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stderr, nil))
}

// run returns the process exit code: 0 when every item completed, 1 when
// any failed, 2 on usage errors. A nil fetcher uses HTTP.
func run(ctx context.Context, args []string, stdin io.Reader, stderr io.Writer, fetcher downloader.Fetcher) int {
	var opts options
	fs := flag.NewFlagSet("fetchq-get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.root, "root", ".", "download root")
	fs.StringVar(&opts.list, "list", "", "file with one URL per line (- for stdin)")
	fs.IntVar(&opts.workers, "workers", 4, "concurrent downloads")
	fs.IntVar(&opts.retries, "retries", 3, "retries per item on transient errors")
	fs.StringVar(&opts.kinds, "kinds", "", "comma separated media kinds to allow (default: all)")
	fs.StringVar(&opts.collision, "collision", string(downloadcfg.CollisionSkip), "existing file policy: skip, overwrite or error")
	fs.BoolVar(&opts.reorganize, "reorganize", false, "move files into IMAGES/ and VIDEOS/ afterwards")
	fs.BoolVar(&opts.quiet, "quiet", false, "no progress bar")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	level, err := logging.ParseLevel(opts.logLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	log := logging.NewWithWriter(stderr, level, "text")

	allow, err := parseKinds(opts.kinds)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	urls, err := collectURLs(fs.Args(), opts.list, stdin)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if len(urls) == 0 {
		fmt.Fprintln(stderr, "no URLs given")
		fs.Usage()
		return 2
	}

	ex := extract.NewDirect(allow, &http.Client{Timeout: 15 * time.Second}, log)
	descs, errs := extract.FromList(ctx, ex, urls)
	for _, err := range errs {
		fmt.Fprintln(stderr, "skip:", err)
	}
	if len(descs) == 0 {
		fmt.Fprintln(stderr, "nothing to download")
		return 1
	}

	if fetcher == nil {
		hf := httpfetch.New(nil, httpfetch.DefaultOptions())
		hf.SetLogger(log)
		fetcher = hf
	}
	cfg := scheduler.DefaultConfig()
	cfg.Workers = opts.workers
	cfg.MaxRetries = opts.retries
	cfg.Options = downloadcfg.Options{
		Collision: downloadcfg.ParseCollisionPolicy(opts.collision),
		Partial:   downloadcfg.PartialDelete,
	}
	hub := events.NewHub()
	sched := scheduler.New(cfg, fetcher, repo.NewInMemoryTaskRepo(), hub, log)
	sched.Run()
	mgr := service.NewManager(service.Options{Root: opts.root, Allow: &allow}, sched, hub, log)

	ids, err := mgr.Enqueue(ctx, descs)
	if err != nil {
		fmt.Fprintln(stderr, "enqueue:", err)
	}
	queued := 0
	for _, id := range ids {
		if id != "" {
			queued++
		}
	}
	failed := len(errs) + len(descs) - queued

	if queued > 0 {
		if err := mgr.Start(ctx); err != nil {
			fmt.Fprintln(stderr, "start:", err)
			return 1
		}
		snap := watch(ctx, mgr, hub, stderr, opts.quiet)
		failed += snap.Totals.ByStatus[data.StatusFailed]
		for _, t := range snap.Tasks {
			if t.Status == data.StatusFailed {
				fmt.Fprintf(stderr, "failed: %s: %s\n", t.Source, t.LastError)
			}
		}
		fmt.Fprintf(stderr, "%d/%d completed, %s\n",
			snap.Totals.ByStatus[data.StatusCompleted], queued,
			humanize.Bytes(uint64(snap.Totals.BytesDone+snap.Totals.UnsizedBytes)))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil && !errors.Is(err, data.ErrQueueClosed) {
		fmt.Fprintln(stderr, "shutdown:", err)
	}
	if ctx.Err() != nil {
		fmt.Fprintln(stderr, "interrupted")
		return 1
	}

	if opts.reorganize {
		res, err := media.Reorganize(opts.root, log)
		if err != nil {
			fmt.Fprintln(stderr, "reorganize:", err)
			return 1
		}
		fmt.Fprintf(stderr, "reorganized: %d moved, %d skipped\n", res.Moved, res.Skipped)
	}

	if failed > 0 {
		return 1
	}
	return 0
}

// watch renders progress until no task is left to run or ctx ends. It
// returns the last snapshot.
func watch(ctx context.Context, q service.Queue, hub *events.Hub, w io.Writer, quiet bool) scheduler.Snapshot {
	notices, cancel := hub.Subscribe(64)
	defer cancel()

	var bar *progressbar.ProgressBar
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		snap, err := q.Status(context.Background())
		if err != nil {
			return snap
		}
		t := snap.Totals
		if !quiet {
			if bar == nil {
				bar = newBar(w, t)
			}
			_ = bar.Set64(t.BytesDone + t.UnsizedBytes)
			bar.Describe(fmt.Sprintf("%d/%d files", t.ByStatus[data.StatusCompleted], t.Tasks))
		}
		if settled(t.ByStatus) || snap.Closed {
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(w)
			}
			return snap
		}
		select {
		case <-ctx.Done():
			if bar != nil {
				_ = bar.Exit()
				fmt.Fprintln(w)
			}
			return snap
		case <-notices:
		case <-ticker.C:
		}
	}
}

// newBar shows a byte bar when every size is known and a spinner otherwise.
func newBar(w io.Writer, t progress.Totals) *progressbar.ProgressBar {
	total := int64(-1)
	if t.CountTotal == 0 && t.BytesExpected > 0 {
		total = t.BytesExpected
	}
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSpinnerType(14),
	)
}

// settled reports whether nothing is left to run.
func settled(by map[data.Status]int) bool {
	return by[data.StatusPending]+by[data.StatusActive]+by[data.StatusPaused] == 0
}

func parseKinds(s string) (media.AllowList, error) {
	var kinds []media.Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, ok := media.ParseKind(part)
		if !ok {
			return media.AllowList{}, fmt.Errorf("unknown media kind %q", part)
		}
		kinds = append(kinds, k)
	}
	return media.NewAllowList(kinds...), nil
}

// collectURLs merges positional URLs with the list file. Stdin is read
// when neither is given.
func collectURLs(args []string, list string, stdin io.Reader) ([]string, error) {
	urls := append([]string(nil), args...)
	switch {
	case list == "-" || (list == "" && len(args) == 0):
		if stdin == nil {
			return urls, nil
		}
		more, err := extract.ParseList(stdin)
		if err != nil {
			return nil, err
		}
		urls = append(urls, more...)
	case list != "":
		f, err := os.Open(list)
		if err != nil {
			return nil, fmt.Errorf("open url list: %w", err)
		}
		defer func() { _ = f.Close() }()
		more, err := extract.ParseList(f)
		if err != nil {
			return nil, err
		}
		urls = append(urls, more...)
	}
	return urls, nil
}
