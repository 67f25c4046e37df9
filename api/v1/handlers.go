// Package v1 is the HTTP control surface of the fetch queue.
package v1

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tinoosan/fetchq/internal/data"
	"github.com/tinoosan/fetchq/internal/extract"
	"github.com/tinoosan/fetchq/internal/progress"
	"github.com/tinoosan/fetchq/internal/reqid"
	"github.com/tinoosan/fetchq/internal/service"
)

// Handler serves /v1.
type Handler struct {
	l  *slog.Logger
	q  service.Queue
	ex extract.Extractor
}

func NewHandler(l *slog.Logger, q service.Queue, ex extract.Extractor) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{l: l, q: q, ex: ex}
}

type descriptorRequest struct {
	Source       string            `json:"source"`
	Target       string            `json:"target"`
	ExpectedSize *int64            `json:"expectedSize,omitempty"`
	Site         string            `json:"site,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

func (d descriptorRequest) descriptor() data.ResourceDescriptor {
	size := data.UnknownSize
	if d.ExpectedSize != nil {
		size = *d.ExpectedSize
	}
	return data.ResourceDescriptor{
		Source:       d.Source,
		Target:       d.Target,
		ExpectedSize: size,
		Site:         d.Site,
		Headers:      d.Headers,
	}
}

type addRequest struct {
	Items []descriptorRequest `json:"items"`
}

type itemError struct {
	Index  int    `json:"index"`
	Target string `json:"target"`
	Error  string `json:"error"`
}

type enqueueResponse struct {
	IDs    []string    `json:"ids"`
	Errors []itemError `json:"errors,omitempty"`
}

type patchBody struct {
	DesiredStatus string `json:"desiredStatus"`
}

type extractRequest struct {
	URL string `json:"url"`
}

type progressResponse struct {
	Running  bool            `json:"running"`
	Closed   bool            `json:"closed"`
	Fraction float64         `json:"fraction"`
	Totals   progress.Totals `json:"totals"`
}

// ListTasks returns every task in enqueue order, optionally filtered by
// ?status=.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	snap, err := h.q.Status(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	tasks := snap.Tasks
	if s := r.URL.Query().Get("status"); s != "" {
		st, ok := data.ParseStatus(s)
		if !ok {
			fail(w, data.ErrBadStatus)
			return
		}
		filtered := make(data.Tasks, 0, len(tasks))
		for _, t := range tasks {
			if t.Status == st {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	if tasks == nil {
		tasks = data.Tasks{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.q.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// AddTasks enqueues a batch of descriptors. The batch is accepted when at
// least one item was enqueued; per-item rejections are listed alongside.
func (h *Handler) AddTasks(w http.ResponseWriter, r *http.Request) {
	var body addRequest
	if err := decodeJSONStrict(w, r, &body); err != nil {
		fail(w, err)
		return
	}
	if len(body.Items) == 0 {
		fail(w, ErrNoItems)
		return
	}
	ds := make([]data.ResourceDescriptor, len(body.Items))
	for i, it := range body.Items {
		ds[i] = it.descriptor()
	}
	h.enqueue(w, r, ds)
}

// Extract resolves a page URL through the extractor and enqueues the
// result. Extraction failures abort before anything is enqueued.
func (h *Handler) Extract(w http.ResponseWriter, r *http.Request) {
	var body extractRequest
	if err := decodeJSONStrict(w, r, &body); err != nil {
		fail(w, err)
		return
	}
	if body.URL == "" {
		fail(w, ErrURLRequired)
		return
	}
	ds, err := extract.Collect(r.Context(), h.ex, body.URL)
	if err != nil {
		fail(w, err)
		return
	}
	if len(ds) == 0 {
		fail(w, &extract.ExtractionError{URL: body.URL, Err: extract.ErrNoItems})
		return
	}
	reqid.Logger(r.Context(), h.l).Info("extracted", "url", body.URL, "items", len(ds))
	h.enqueue(w, r, ds)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, ds []data.ResourceDescriptor) {
	ids, err := h.q.Enqueue(r.Context(), ds)
	rejected := enqueueErrors(err)
	if err != nil && len(rejected) == 0 {
		fail(w, err)
		return
	}
	resp := enqueueResponse{IDs: ids}
	for _, e := range rejected {
		resp.Errors = append(resp.Errors, itemError{Index: e.Index, Target: e.Target, Error: e.Err.Error()})
	}
	if len(rejected) == len(ds) {
		markErr(w, err)
		writeJSON(w, statusFor(rejected[0].Err), resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func enqueueErrors(err error) []*service.EnqueueError {
	if err == nil {
		return nil
	}
	var errs []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	} else {
		errs = []error{err}
	}
	var out []*service.EnqueueError
	for _, e := range errs {
		var ee *service.EnqueueError
		if errors.As(e, &ee) {
			out = append(out, ee)
		}
	}
	return out
}

// UpdateTask applies a desired status:
// Paused pauses, Active resumes, Cancelled cancels and Pending retries a
// failed task.
func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var body patchBody
	if err := decodeJSONStrict(w, r, &body); err != nil {
		fail(w, err)
		return
	}
	if body.DesiredStatus == "" {
		fail(w, ErrDesiredStatusJSON)
		return
	}
	st, ok := data.ParseStatus(body.DesiredStatus)
	if !ok {
		fail(w, data.ErrBadStatus)
		return
	}

	ctx := r.Context()
	var err error
	switch st {
	case data.StatusPaused:
		err = h.q.Pause(ctx, id)
	case data.StatusActive:
		err = h.q.Resume(ctx, id)
	case data.StatusCancelled:
		err = h.q.Cancel(ctx, id)
	case data.StatusPending:
		err = h.q.Retry(ctx, id)
	default:
		err = data.ErrBadStatus
	}
	if err != nil {
		fail(w, err)
		return
	}
	t, err := h.q.Get(ctx, id)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTask removes a task; ?deleteFiles=true removes its files too.
func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	deleteFiles := false
	if v := r.URL.Query().Get("deleteFiles"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(w, fmt.Errorf("%w: deleteFiles: %v", ErrBadQuery, err))
			return
		}
		deleteFiles = b
	}
	if err := h.q.Delete(r.Context(), mux.Vars(r)["id"], deleteFiles); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// QueueAction handles POST /v1/queue/{action}.
func (h *Handler) QueueAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	switch action := mux.Vars(r)["action"]; action {
	case "start":
		err = h.q.Start(ctx)
	case "pause":
		err = h.q.Pause(ctx)
	case "cancel":
		err = h.q.Cancel(ctx)
	case "clear":
		var n int
		if n, err = h.q.ClearFinished(ctx); err == nil {
			reqid.Logger(ctx, h.l).Info("cleared finished tasks", "removed", n)
		}
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		fail(w, err)
		return
	}
	h.Progress(w, r)
}

// Progress reports aggregate totals.
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	snap, err := h.q.Status(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progressResponse{
		Running:  snap.Running,
		Closed:   snap.Closed,
		Fraction: snap.Totals.Fraction(),
		Totals:   snap.Totals,
	})
}

// writeTimeout bounds a single websocket write to a slow client.
const writeTimeout = 10 * time.Second

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, writeTimeout)
}
