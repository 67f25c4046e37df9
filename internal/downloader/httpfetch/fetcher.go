// Package httpfetch streams a single resource over HTTP into a temporary
// file and renames it into place once the transfer is complete.
package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tinoosan/fetchq/internal/downloadcfg"
	"github.com/tinoosan/fetchq/internal/downloader"
	"github.com/tinoosan/fetchq/internal/fsguard"
	"github.com/tinoosan/fetchq/internal/metrics"
)

// Options configures the fetcher.
type Options struct {
	// ChunkSize is the read buffer size and the cancellation granularity.
	// Default: 64 KiB
	ChunkSize int

	// InactivityTimeout aborts a transfer that received no bytes for this
	// long. Zero disables it.
	// Default: 30s
	InactivityTimeout time.Duration

	// ProgressInterval and ProgressBytes bound the progress callback rate:
	// it fires when either threshold is crossed, and once at the end.
	// Defaults: 250ms, 1 MiB
	ProgressInterval time.Duration
	ProgressBytes    int64

	// Headers are sent with every request; per-request headers win.
	Headers map[string]string

	// MaxIdleConnsPerHost for the default transport.
	// Default: 16
	MaxIdleConnsPerHost int
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:           64 << 10,
		InactivityTimeout:   30 * time.Second,
		ProgressInterval:    250 * time.Millisecond,
		ProgressBytes:       1 << 20,
		MaxIdleConnsPerHost: 16,
	}
}

// Fetcher implements downloader.Fetcher over net/http.
type Fetcher struct {
	client *http.Client
	opts   Options
	log    *slog.Logger
}

var _ downloader.Fetcher = (*Fetcher)(nil)

// New creates a Fetcher. A nil client gets a transport tuned for many
// concurrent downloads; no overall timeout is set because large media
// transfers are bounded by the inactivity watchdog instead.
func New(client *http.Client, opts Options) *Fetcher {
	def := DefaultOptions()
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = def.ProgressInterval
	}
	if opts.ProgressBytes <= 0 {
		opts.ProgressBytes = def.ProgressBytes
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
				MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
				IdleConnTimeout:     90 * time.Second,
				DisableCompression:  true, // byte counts must match the file on disk
			},
		}
	}
	return &Fetcher{client: client, opts: opts, log: slog.Default()}
}

// SetLogger allows wiring a shared application logger into the fetcher.
func (f *Fetcher) SetLogger(l *slog.Logger) {
	if l != nil {
		f.log = l
	}
}

// Fetch downloads req.Source to req.Path. Bytes go to "<path>.part"; the
// final path only ever appears through a rename after the last byte was
// written and synced.
func (f *Fetcher) Fetch(ctx context.Context, req downloader.Request, progress downloader.ProgressFunc) (int64, error) {
	if progress == nil {
		progress = func(int64) {}
	}
	final := req.Path
	lg := f.log.With("task_id", req.TaskID, "path", final)

	if fi, err := os.Stat(final); err == nil && !fi.IsDir() {
		switch req.Options.Collision {
		case downloadcfg.CollisionSkip:
			if req.ExpectedSize < 0 || fi.Size() == req.ExpectedSize {
				lg.Info("target exists, skipping")
				progress(fi.Size())
				return fi.Size(), nil
			}
			// A short or oversized file is not the resource; fetch it again.
			lg.Warn("target exists with wrong size, refetching", "have", fi.Size(), "want", req.ExpectedSize)
		case downloadcfg.CollisionOverwrite:
			// Rename replaces it on success.
		default:
			return 0, downloader.WriteError(fmt.Errorf("%w: %s", downloader.ErrTargetExists, final))
		}
	}

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return 0, writeErr("create directories", err)
	}

	part := fsguard.PartPath(final)
	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
		if req.ExpectedSize >= 0 && offset > req.ExpectedSize {
			offset = 0
		}
	}

	if offset > 0 && offset == req.ExpectedSize {
		lg.Info("partial file already complete, finalizing", "bytes", offset)
		if err := os.Rename(part, final); err != nil {
			return 0, writeErr("rename", err)
		}
		progress(offset)
		return offset, nil
	}

	start := time.Now()
	done, err := f.transfer(ctx, req, part, offset, progress)
	if err != nil {
		if f.dropPartial(ctx, req, err) {
			if rerr := os.Remove(part); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				lg.Warn("remove partial file", "err", rerr)
			}
		}
		return done, err
	}
	metrics.FetchDuration.Observe(time.Since(start).Seconds())

	if err := os.Rename(part, final); err != nil {
		return done, writeErr("rename", err)
	}
	progress(done)
	return done, nil
}

// dropPartial decides whether the .part file survives a failed attempt.
// Size mismatches always drop it; pauses always keep it; everything else
// follows the partial-file policy.
func (f *Fetcher) dropPartial(ctx context.Context, req downloader.Request, err error) bool {
	if errors.Is(err, downloader.ErrSizeMismatch) {
		return true
	}
	if errors.Is(context.Cause(ctx), downloader.ErrPaused) {
		return false
	}
	return !req.Options.KeepPartial()
}

func (f *Fetcher) transfer(ctx context.Context, req downloader.Request, part string, offset int64, progress downloader.ProgressFunc) (int64, error) {
	wctx, wd := newWatchdog(ctx, f.opts.InactivityTimeout)
	defer wd.Stop()

	// abortErr explains why a blocking call on wctx failed.
	abortErr := func(err error) error {
		if ctx.Err() != nil {
			return downloader.CancelledError(context.Cause(ctx))
		}
		if errors.Is(context.Cause(wctx), os.ErrDeadlineExceeded) {
			return downloader.NetworkError(fmt.Errorf("no data for %s: %w", f.opts.InactivityTimeout, os.ErrDeadlineExceeded))
		}
		return downloader.NetworkError(err)
	}

	hreq, err := http.NewRequestWithContext(wctx, http.MethodGet, req.Source, nil)
	if err != nil {
		return offset, downloader.SourceGoneError(fmt.Errorf("create request: %w", err))
	}
	headers := maps.Clone(f.opts.Headers)
	if headers == nil {
		headers = make(map[string]string, len(req.Headers))
	}
	maps.Copy(headers, req.Headers)
	for k, v := range headers {
		hreq.Header.Set(k, v)
	}
	if offset > 0 {
		hreq.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := f.client.Do(hreq)
	if err != nil {
		return offset, abortErr(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		// The partial file no longer matches the source; start over.
		_ = os.Remove(part)
		return 0, downloader.NetworkError(fmt.Errorf("range %d- not satisfiable", offset))
	}
	if err := classifyStatus(resp.StatusCode, resp.Status); err != nil {
		return offset, err
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 && resp.StatusCode == http.StatusPartialContent {
		flags |= os.O_APPEND
	} else {
		offset = 0
		flags |= os.O_TRUNC
	}

	total := req.ExpectedSize
	if resp.ContentLength >= 0 {
		remote := offset + resp.ContentLength
		if total >= 0 && remote > total {
			return offset, downloader.SourceGoneError(fmt.Errorf("%w: remote %d expected %d", downloader.ErrSizeMismatch, remote, total))
		}
		if total < 0 {
			total = remote
		}
	}

	out, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return offset, writeErr("open partial file", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = out.Close()
		}
	}()

	done := offset
	th := newThrottle(f.opts.ProgressInterval, f.opts.ProgressBytes, done)
	buf := make([]byte, f.opts.ChunkSize)
	for {
		// Chunk boundary: the only place a transfer stops voluntarily.
		if ctx.Err() != nil {
			return done, downloader.CancelledError(context.Cause(ctx))
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if ctx.Err() != nil {
				return done, downloader.CancelledError(context.Cause(ctx))
			}
			if req.ExpectedSize >= 0 && done+int64(n) > req.ExpectedSize {
				return done, downloader.SourceGoneError(fmt.Errorf("%w: more than %d bytes", downloader.ErrSizeMismatch, req.ExpectedSize))
			}
			if _, err := out.Write(buf[:n]); err != nil {
				return done, writeErr("write", err)
			}
			done += int64(n)
			metrics.BytesDownloaded.Add(float64(n))
			wd.Kick()
			if th.due(done) {
				progress(done)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return done, abortErr(rerr)
		}
	}

	if total >= 0 && done != total {
		return done, downloader.NetworkError(fmt.Errorf("%w: got %d of %d bytes", io.ErrUnexpectedEOF, done, total))
	}
	if err := out.Sync(); err != nil {
		return done, writeErr("sync", err)
	}
	closed = true
	if err := out.Close(); err != nil {
		return done, writeErr("close", err)
	}
	return done, nil
}

// throttle bounds how often progress is reported.
type throttle struct {
	interval time.Duration
	step     int64
	lastAt   time.Time
	lastN    int64
}

func newThrottle(interval time.Duration, step, start int64) *throttle {
	return &throttle{interval: interval, step: step, lastAt: time.Now(), lastN: start}
}

func (t *throttle) due(n int64) bool {
	now := time.Now()
	if n-t.lastN >= t.step || now.Sub(t.lastAt) >= t.interval {
		t.lastAt, t.lastN = now, n
		return true
	}
	return false
}
