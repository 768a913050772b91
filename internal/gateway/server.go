package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
)

// Server upgrades HTTP requests to WebSocket connections and runs the message
// loop for each. It implements http.Handler; mount it on the /ws route.
type Server struct {
	handler *Handler
	log     *slog.Logger
}

// NewServer wraps a Handler as an http.Handler.
func NewServer(h *Handler) *Server {
	return &Server{handler: h, log: h.log}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		srv.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newConn(ws, srv.log, srv.handler.metrics)
	sess := newSession(c, srv.log)

	srv.handler.metrics.ActiveConnections.Add(ctx, 1)
	defer srv.handler.metrics.ActiveConnections.Add(context.WithoutCancel(ctx), -1)

	sess.log.Info("client connected", "remote", r.RemoteAddr)
	go sess.run(ctx)

	srv.readLoop(ctx, sess, ws)

	cancel()
	<-sess.done
	if srv.handler.store != nil {
		srv.handler.store.Clear(sess.id)
	}
	_ = ws.Close(websocket.StatusNormalClosure, "")
	sess.log.Info("client disconnected")
}

// readLoop pumps inbound frames into the handler until the peer goes away or
// the send path drops the connection.
func (srv *Server) readLoop(ctx context.Context, sess *session, ws *websocket.Conn) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				return
			}
			sess.log.Debug("read loop ended", "error", err)
			return
		}
		srv.handler.handleMessage(ctx, sess, raw)
		if sess.conn.isDropped() {
			return
		}
	}
}
