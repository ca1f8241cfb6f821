package api

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	streamBuffer       = 16
	streamWriteTimeout = 10 * time.Second
)

// handleStream sends progress snapshots of a source's latest job over a
// websocket until the job finishes or the client goes away. The final
// snapshot is always sent, even if intermediate ones were dropped.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	src, ok := sourceParam(w, r)
	if !ok {
		return
	}
	t, found := s.jobs.Registry().Get(string(src))
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "No import for "+string(src))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())
	updates, stop := t.Subscribe(streamBuffer)
	defer stop()

	write := func(v any) bool {
		wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
		defer cancel()
		return wsjson.Write(wctx, conn, v) == nil
	}

	sentFinal := false
	for {
		select {
		case snap, open := <-updates:
			if !open {
				if !sentFinal && !write(t.Snapshot()) {
					return
				}
				conn.Close(websocket.StatusNormalClosure, "import finished")
				return
			}
			if !write(snap) {
				return
			}
			sentFinal = snap.Status.Terminal()
		case <-ctx.Done():
			return
		}
	}
}
