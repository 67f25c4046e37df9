package v1

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/tinoosan/fetchq/internal/events"
	"github.com/tinoosan/fetchq/internal/reqid"
)

// eventsBuffer is the per-connection notice buffer. A client that falls
// further behind loses notices.
const eventsBuffer = 256

// Events streams queue notices over a websocket as JSON. The first message
// is a queue notice carrying the current totals; the stream ends when the
// client goes away or the queue shuts down.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	lg := reqid.Logger(r.Context(), h.l)
	snap, err := h.q.Status(r.Context())
	if err != nil {
		fail(w, err)
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		lg.Warn("websocket accept", "err", err)
		return
	}
	defer func() { _ = c.Close(websocket.StatusInternalError, "unexpected close") }()

	notices, cancel := h.q.Subscribe(eventsBuffer)
	defer cancel()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx once the peer closes.
	ctx := c.CloseRead(r.Context())

	first := events.Notice{Type: events.NoticeQueue, Totals: &snap.Totals, Running: snap.Running, Closed: snap.Closed, At: time.Now()}
	if err := h.send(ctx, c, first); err != nil {
		return
	}
	if snap.Closed {
		_ = c.Close(websocket.StatusNormalClosure, "queue closed")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				_ = c.Close(websocket.StatusGoingAway, "queue closed")
				return
			}
			if err := h.send(ctx, c, n); err != nil {
				if ctx.Err() == nil {
					lg.Debug("websocket write", "err", err)
				}
				return
			}
		}
	}
}

func (h *Handler) send(ctx context.Context, c *websocket.Conn, n events.Notice) error {
	wctx, cancel := withTimeout(ctx)
	defer cancel()
	return wsjson.Write(wctx, c, n)
}
