package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxvista/voxvista/internal/observe"
)

const (
	// maxSendFailures is how many consecutive failed sends drop a connection.
	maxSendFailures = 3

	// writeTimeout bounds one outbound write.
	writeTimeout = 10 * time.Second
)

// ErrConnectionDropped is returned by send once the failure limit tore the
// connection down.
var ErrConnectionDropped = errors.New("gateway: connection dropped")

// wireConn is the websocket surface conn needs; *websocket.Conn implements it.
type wireConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

var _ wireConn = (*websocket.Conn)(nil)

// conn serialises outbound JSON messages onto one websocket connection and
// tracks consecutive send failures: a single failure is tolerated (the client
// may be mid-reconnect), three in a row drop the connection for good.
type conn struct {
	ws      wireConn
	log     *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	failures int
	dropped  bool
}

func newConn(ws wireConn, log *slog.Logger, metrics *observe.Metrics) *conn {
	return &conn{ws: ws, log: log, metrics: metrics}
}

// send marshals v and writes it as one text message. msgType is the
// protocol-level type tag, used for logging and metrics only.
func (c *conn) send(ctx context.Context, msgType string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", msgType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dropped {
		return ErrConnectionDropped
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = c.ws.Write(wctx, websocket.MessageText, payload)
	cancel()
	if err != nil {
		c.failures++
		c.metrics.SendFailures.Add(ctx, 1)
		c.log.Warn("send failed", "message_type", msgType, "consecutive_failures", c.failures, "error", err)
		if c.failures >= maxSendFailures {
			c.dropped = true
			_ = c.ws.Close(websocket.StatusPolicyViolation, "too many send failures")
			c.log.Warn("connection dropped after repeated send failures")
		}
		return fmt.Errorf("gateway: send %s: %w", msgType, err)
	}

	c.failures = 0
	c.metrics.RecordMessageOut(ctx, msgType)
	return nil
}

// sendError is the fire-and-forget error reply; a failed error send is only
// logged since send already tracked it.
func (c *conn) sendError(ctx context.Context, message string) {
	_ = c.send(ctx, msgError, errorMessage{
		Type:      msgError,
		Message:   message,
		Timestamp: epoch(),
	})
}

// isDropped reports whether the failure limit closed this connection.
func (c *conn) isDropped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
