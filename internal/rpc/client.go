// Package rpc implements a JSON-RPC 2.0 client over a child process's stdio
// pair with Content-Length framing.
//
// The tool server is started from an OS-level command (typically a container
// run spec) and spoken to one request at a time: the transport is strictly
// request/response serialized, guarded by a mutex. There is no retry here —
// callers that want retries wrap the client themselves.
//
// Error taxonomy: [ErrNotConnected] when no child is running,
// [ErrTransportBroken] on EOF or header parse failure (the connection is reset
// so the next Connect re-spawns), [ErrDecode] when the server's body is not
// valid JSON (the connection stays up).
package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Sentinel errors for programmatic checks with errors.Is.
var (
	// ErrNotConnected is returned when an operation requires a live child
	// process and there is none.
	ErrNotConnected = errors.New("rpc: not connected")

	// ErrTransportBroken is returned on EOF, header parse failure, or a write
	// error. The client tears down the child; the next Connect re-spawns it.
	ErrTransportBroken = errors.New("rpc: transport broken")

	// ErrDecode is returned when the server sent a complete frame whose body
	// is not valid JSON. The transport itself stays connected.
	ErrDecode = errors.New("rpc: response body is not valid JSON")
)

// killGracePeriod is how long Close waits after the termination signal before
// force-killing the child.
const killGracePeriod = 5 * time.Second

// Option is a functional option for Client.
type Option func(*Client)

// WithEnv appends environment variables ("KEY=value") to the child process's
// environment on top of the parent's.
func WithEnv(env []string) Option {
	return func(c *Client) { c.env = env }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// Client owns a tool-server child process and exchanges framed JSON-RPC
// messages with it over the child's stdin/stdout. Safe for concurrent use;
// requests are serialized internally.
//
// The zero value is not usable; create instances with [New].
type Client struct {
	command []string
	env     []string
	log     *slog.Logger

	// mu serializes the whole transport: at most one request/response
	// exchange is in flight at any time.
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *lockedBuffer
	exited chan struct{}
	nextID int
}

// New creates a Client for the given command (executable plus arguments).
// The child is not started until [Client.Connect].
func New(command []string, opts ...Option) (*Client, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("rpc: command must not be empty")
	}
	c := &Client{
		command: command,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// request is the JSON-RPC 2.0 request envelope.
type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// Connect spawns the child process and performs the tools/list handshake.
// Idempotent: if the child is already running it returns nil immediately; if
// the child has exited, the stale state is torn down and a fresh child is
// spawned. On handshake failure the child's stderr is drained into the
// returned error for diagnostics.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		select {
		case <-c.exited:
			c.log.Warn("tool server exited, re-spawning", "command", c.command[0])
			c.teardownLocked()
		default:
			return nil
		}
	}

	return c.spawnLocked(ctx)
}

// spawnLocked starts the child and runs the handshake. Caller holds c.mu.
func (c *Client) spawnLocked(ctx context.Context) error {
	cmd := exec.Command(c.command[0], c.command[1:]...)
	cmd.Env = append(os.Environ(), c.env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("rpc: stdout pipe: %w", err)
	}
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("rpc: start tool server: %w", err)
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = bufio.NewReader(stdout)
	c.stderr = stderr
	c.exited = exited
	c.nextID = 1

	// Handshake: tools/list with id=1 and empty params. Connected iff the
	// response carries a result object.
	resp, err := c.exchangeLocked(ctx, request{JSONRPC: "2.0", ID: c.takeIDLocked(), Method: "tools/list", Params: map[string]any{}})
	if err != nil {
		diag := strings.TrimSpace(c.stderr.String())
		c.teardownLocked()
		if diag != "" {
			return fmt.Errorf("rpc: handshake failed: %w (stderr: %s)", err, diag)
		}
		return fmt.Errorf("rpc: handshake failed: %w", err)
	}
	if _, ok := resp["result"].(map[string]any); !ok {
		c.teardownLocked()
		return fmt.Errorf("rpc: handshake response has no result object")
	}

	c.log.Info("tool server connected", "command", c.command[0])
	return nil
}

// ListTools returns the names of the tools the server advertises.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		return nil, ErrNotConnected
	}

	resp, err := c.exchangeLocked(ctx, request{JSONRPC: "2.0", ID: c.takeIDLocked(), Method: "tools/list", Params: map[string]any{}})
	if err != nil {
		return nil, err
	}

	result, ok := resp["result"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("rpc: tools/list response has no result object")
	}
	rawTools, _ := result["tools"].([]any)

	names := make([]string, 0, len(rawTools))
	for _, rt := range rawTools {
		if tool, ok := rt.(map[string]any); ok {
			if name, ok := tool["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// ToolCall sends a caller-built JSON-RPC request string and returns the parsed
// response. The caller is responsible for JSON validity; the client only adds
// framing. A syntactically broken response body yields [ErrDecode] with the
// transport left intact.
func (c *Client) ToolCall(ctx context.Context, rawRequest string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connectedLocked() {
		return nil, ErrNotConnected
	}

	body, err := c.roundTripLocked(ctx, []byte(rawRequest))
	if err != nil {
		return nil, err
	}

	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return resp, nil
}

// Connected reports whether a live child process is attached.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectedLocked()
}

// Close signals the child to terminate, waits up to 5 seconds, force-kills if
// it is still alive, and releases all handles. Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd == nil {
		return nil
	}

	_ = c.stdin.Close()
	_ = c.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case <-c.exited:
	case <-time.After(killGracePeriod):
		c.log.Warn("tool server did not exit, killing", "command", c.command[0])
		_ = c.cmd.Process.Kill()
		<-c.exited
	}

	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.stderr = nil
	c.exited = nil
	return nil
}

// connectedLocked reports liveness. Caller holds c.mu.
func (c *Client) connectedLocked() bool {
	if c.cmd == nil {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// takeIDLocked returns the next request id. Caller holds c.mu.
func (c *Client) takeIDLocked() int {
	id := c.nextID
	c.nextID++
	return id
}

// exchangeLocked marshals req, round-trips it, and decodes the response.
// Caller holds c.mu.
func (c *Client) exchangeLocked(ctx context.Context, req request) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: encode request: %w", err)
	}

	respBody, err := c.roundTripLocked(ctx, body)
	if err != nil {
		return nil, err
	}

	var resp map[string]any
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return resp, nil
}

// roundTripLocked writes one framed request and reads one framed response.
// Any framing or I/O failure tears the connection down and surfaces
// [ErrTransportBroken]. Caller holds c.mu.
func (c *Client) roundTripLocked(ctx context.Context, body []byte) ([]byte, error) {
	if err := writeFrame(c.stdin, body); err != nil {
		c.teardownLocked()
		return nil, fmt.Errorf("%w: %v", ErrTransportBroken, err)
	}

	type frameResult struct {
		body []byte
		err  error
	}
	// The pipe read has no deadline of its own; killing the child on
	// cancellation unblocks it.
	ch := make(chan frameResult, 1)
	stdout := c.stdout
	go func() {
		b, err := readFrame(stdout)
		ch <- frameResult{body: b, err: err}
	}()

	select {
	case <-ctx.Done():
		c.teardownLocked()
		return nil, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			c.teardownLocked()
			return nil, fmt.Errorf("%w: %v", ErrTransportBroken, r.err)
		}
		return r.body, nil
	}
}

// teardownLocked kills the child (if alive) and clears all handles so the
// next Connect starts fresh. Caller holds c.mu.
func (c *Client) teardownLocked() {
	if c.cmd == nil {
		return
	}
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	select {
	case <-c.exited:
	default:
		_ = c.cmd.Process.Kill()
		<-c.exited
	}
	c.cmd = nil
	c.stdin = nil
	c.stdout = nil
	c.stderr = nil
	c.exited = nil
}

// lockedBuffer is a concurrency-safe bytes.Buffer; exec writes to Stderr from
// its own goroutine.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
