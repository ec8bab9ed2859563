package api

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/R1ck404/mercel/internal/core/domain"
)

// maxLogLine bounds a single runtime log line.
const maxLogLine = 1 << 20

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// =============================================================================
// Runtime Log Streaming
// =============================================================================

// handleTailLogs streams the project's runtime output as timestamped text
// lines until the client disconnects or the environment dies.
func (h *Handler) handleTailLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rc, err := h.svc.TailLogs(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer rc.Close()
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	err = scanLines(rc, func(line string) error {
		if _, err := io.WriteString(w, domain.NewLogLine(line).String()+"\n"); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Debug("log stream ended", "error", err)
	}
}

// handleTailLogsWebSocket streams the same lines as text messages.
func (h *Handler) handleTailLogsWebSocket(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	rc, err := h.svc.TailLogs(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	defer rc.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The reader goroutine notices the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	stop := context.AfterFunc(ctx, func() { rc.Close() })
	defer stop()

	err = scanLines(rc, func(line string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(domain.NewLogLine(line).String()))
	})
	if err != nil && ctx.Err() == nil {
		h.logger.Debug("websocket log stream ended", "error", err)
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream ended"),
		time.Now().Add(time.Second))
}

func scanLines(r io.Reader, emit func(string) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for sc.Scan() {
		if err := emit(sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}
