package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/downloader"
	"github.com/tinoosan/fetchq/internal/downloader/httpfetch"
	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/fsguard"
	"github.com/tinoosan/fetchq/internal/media"
	"github.com/tinoosan/fetchq/internal/repo"
	"github.com/tinoosan/fetchq/internal/scheduler"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(t *testing.T, f downloader.Fetcher, allow ...media.Kind) (*Manager, string) {
	t.Helper()
	root := t.TempDir()
	cfg := scheduler.DefaultConfig()
	cfg.Workers = 2
	cfg.Backoff = scheduler.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond}
	hub := events.NewHub()
	s := scheduler.New(cfg, f, repo.NewInMemoryTaskRepo(), hub, quiet)
	s.Run()
	opts := Options{Root: root}
	if len(allow) > 0 {
		al := media.NewAllowList(allow...)
		opts.Allow = &al
	}
	m := NewManager(opts, s, hub, quiet)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, root
}

func noFetch(context.Context, downloader.Request, downloader.ProgressFunc) (int64, error) {
	return 0, errors.New("unexpected fetch")
}

func waitStatus(t *testing.T, m *Manager, id string, want data.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		tk, err := m.Get(context.Background(), id)
		return err == nil && tk.Status == want
	}, 3*time.Second, 2*time.Millisecond, "task %s never reached %s", id, want)
}

func TestEnqueueValidation(t *testing.T) {
	m, root := newManager(t, downloader.FetcherFunc(noFetch), media.KindVideo, media.KindImage)
	ctx := context.Background()

	ds := []data.ResourceDescriptor{
		{Source: "https://cdn.example.com/a.mp4", Target: "site/a.mp4", ExpectedSize: 10},
		{Source: "ftp://example.com/b.mp4", Target: "site/b.mp4"},
		{Source: "https://cdn.example.com/c.mp4", Target: "../../etc/c.mp4"},
		{Source: "https://cdn.example.com/d.pdf", Target: "site/d.pdf"},
		{Source: "https://cdn.example.com/e.mp4", Target: ""},
		{Source: "https://cdn.example.com/a2.mp4", Target: "site/./a.mp4"},
		{Source: "https://cdn.example.com/f.jpg", Target: "site/f.jpg", ExpectedSize: -5},
	}
	ids, err := m.Enqueue(ctx, ds)
	require.Error(t, err)
	require.Len(t, ids, len(ds))

	wantErrs := map[int]error{
		1: data.ErrInvalidSource,
		2: data.ErrUnsafePath,
		3: data.ErrExtensionNotAllowed,
		4: data.ErrTargetPath,
		5: data.ErrDuplicateTarget,
	}
	for i, want := range wantErrs {
		assert.ErrorIs(t, err, want, "item %d", i)
		assert.Empty(t, ids[i], "item %d should not get an id", i)
	}
	var ee *EnqueueError
	require.ErrorAs(t, err, &ee)

	for _, i := range []int{0, 6} {
		_, perr := uuid.Parse(ids[i])
		require.NoError(t, perr, "item %d id %q", i, ids[i])
	}

	a, err := m.Get(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "site", "a.mp4"), a.Target)
	assert.Equal(t, media.KindVideo, a.Kind)
	assert.Equal(t, data.StatusPending, a.Status)

	f, err := m.Get(ctx, ids[6])
	require.NoError(t, err)
	assert.Equal(t, data.UnknownSize, f.ExpectedSize)
	assert.Equal(t, media.KindImage, f.Kind)

	snap, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, ids[0], snap.Tasks[0].ID)
	assert.Equal(t, ids[6], snap.Tasks[1].ID)
}

func TestEndToEndOverHTTP(t *testing.T) {
	files := map[string][]byte{
		"/a.mp4": bytes.Repeat([]byte("a"), 100),
		"/b.jpg": bytes.Repeat([]byte("b"), 200),
		"/c.pdf": bytes.Repeat([]byte("c"), 300),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, r.URL.Path, time.Time{}, bytes.NewReader(b))
	}))
	defer srv.Close()

	f := httpfetch.New(srv.Client(), httpfetch.Options{ChunkSize: 32})
	m, root := newManager(t, f)
	ctx := context.Background()

	var ds []data.ResourceDescriptor
	for _, name := range []string{"a.mp4", "b.jpg", "c.pdf"} {
		ds = append(ds, data.ResourceDescriptor{
			Source:       srv.URL + "/" + name,
			Target:       filepath.Join("set", name),
			ExpectedSize: int64(len(files["/"+name])),
		})
	}
	ds = append(ds, data.ResourceDescriptor{Source: srv.URL + "/missing.mp4", Target: "set/missing.mp4", ExpectedSize: data.UnknownSize})

	sub, unsubscribe := m.Subscribe(512)
	defer unsubscribe()

	ids, err := m.Enqueue(ctx, ds)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	for _, id := range ids[:3] {
		waitStatus(t, m, id, data.StatusCompleted)
	}
	waitStatus(t, m, ids[3], data.StatusFailed)

	for name, body := range files {
		got, err := os.ReadFile(filepath.Join(root, "set", filepath.Base(name)))
		require.NoError(t, err)
		assert.Equal(t, body, got)
		_, err = os.Stat(fsguard.PartPath(filepath.Join(root, "set", filepath.Base(name))))
		assert.ErrorIs(t, err, os.ErrNotExist)
	}

	snap, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(600), snap.Totals.BytesDone)
	assert.Equal(t, int64(600), snap.Totals.BytesExpected)
	assert.Equal(t, 1, snap.Totals.ByStatus[data.StatusFailed])
	assert.Contains(t, snap.Tasks[3].LastError, "SourceGone")

	sawProgress := false
	for len(sub) > 0 {
		if n := <-sub; n.Type == events.NoticeProgress {
			sawProgress = true
		}
	}
	assert.True(t, sawProgress)
}

func TestDelete(t *testing.T) {
	m, root := newManager(t, downloader.FetcherFunc(func(ctx context.Context, req downloader.Request, p downloader.ProgressFunc) (int64, error) {
		if err := os.MkdirAll(filepath.Dir(req.Path), 0o755); err != nil {
			return 0, downloader.WriteError(err)
		}
		if err := os.WriteFile(req.Path, []byte("data"), 0o644); err != nil {
			return 0, downloader.WriteError(err)
		}
		p(4)
		return 4, nil
	}))
	ctx := context.Background()
	ids, err := m.Enqueue(ctx, []data.ResourceDescriptor{
		{Source: "https://x.test/keep.mp4", Target: "keep.mp4", ExpectedSize: 4},
		{Source: "https://x.test/drop.mp4", Target: "drop.mp4", ExpectedSize: 4},
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))
	waitStatus(t, m, ids[0], data.StatusCompleted)
	waitStatus(t, m, ids[1], data.StatusCompleted)

	require.NoError(t, m.Delete(ctx, ids[0], false))
	require.NoError(t, m.Delete(ctx, ids[1], true))

	_, err = os.Stat(filepath.Join(root, "keep.mp4"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "drop.mp4"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.ErrorIs(t, m.Delete(ctx, ids[0], false), data.ErrUnknownTask)
	snap, err := m.Status(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Tasks)
}

func TestShutdownClosesQueueAndHub(t *testing.T) {
	m, _ := newManager(t, downloader.FetcherFunc(noFetch))
	ctx := context.Background()
	sub, _ := m.Subscribe(16)

	require.NoError(t, m.Shutdown(ctx))
	for range sub {
	}

	_, err := m.Enqueue(ctx, []data.ResourceDescriptor{{Source: "https://x.test/a.mp4", Target: "a.mp4"}})
	assert.ErrorIs(t, err, data.ErrQueueClosed)
	assert.ErrorIs(t, m.Start(ctx), data.ErrQueueClosed)
	assert.ErrorIs(t, m.Retry(ctx, "x"), data.ErrQueueClosed)
	assert.ErrorIs(t, m.Shutdown(ctx), data.ErrQueueClosed)
	_, err = m.ClearFinished(ctx)
	assert.ErrorIs(t, err, data.ErrQueueClosed)
}
