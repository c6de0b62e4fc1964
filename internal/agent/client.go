package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/zurk-ai/zurk/internal/logging"
	"github.com/zurk-ai/zurk/pkg/types"
)

// scanBufferSize bounds one stream-json line. Tool results can carry
// whole file contents.
const scanBufferSize = 10 * 1024 * 1024

const maxStderrLines = 30

// CanUseToolFunc decides whether a tool invocation may proceed. The
// returned reason is reported to the agent on denial.
type CanUseToolFunc func(ctx context.Context, toolName string, toolInput map[string]any, toolUseID string) (allowed bool, reason string)

// Options configures one agent CLI process.
type Options struct {
	Binary         string
	WorkDir        string
	Model          string
	PermissionMode types.PermissionMode
	AllowedTools   []string
	SystemPrompt   string
	Resume         string
	CanUseTool     CanUseToolFunc
}

// Client wraps a single agent CLI subprocess speaking stream-json on
// stdin/stdout. Events are delivered on Events(); the channel closes
// when the process exits.
type Client struct {
	opts   Options
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	events chan types.AgentEvent
	log    zerolog.Logger

	writeMu   sync.Mutex
	requestID atomic.Int64

	stderrMu sync.Mutex
	stderr   []string

	waitErr  error
	waitOnce sync.Once
	done     chan struct{}
}

// NewClient prepares a client. Start launches the process.
func NewClient(opts Options) *Client {
	return &Client{
		opts:   opts,
		events: make(chan types.AgentEvent, 64),
		done:   make(chan struct{}),
		log:    logging.ForComponent("agent"),
	}
}

// Start launches the agent CLI and begins reading its output stream.
func (c *Client) Start(ctx context.Context) error {
	binary := c.opts.Binary
	if binary == "" {
		binary = "claude"
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}

	args := []string{
		"--print",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if c.opts.Model != "" {
		args = append(args, "--model", c.opts.Model)
	}
	if c.opts.PermissionMode != "" {
		args = append(args, "--permission-mode", string(c.opts.PermissionMode))
	}
	if len(c.opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(c.opts.AllowedTools, ","))
	}
	if c.opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", c.opts.SystemPrompt)
	}
	if c.opts.Resume != "" {
		args = append(args, "--resume", c.opts.Resume)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = c.opts.WorkDir
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent CLI: %w", err)
	}
	c.cmd = cmd
	c.stdin = stdin

	go c.readStderr(stderr)
	go c.readLoop(ctx, stdout)
	return nil
}

// Events returns the normalized event stream. The channel is closed
// when the agent process exits.
func (c *Client) Events() <-chan types.AgentEvent {
	return c.events
}

// Query sends a user prompt to the agent.
func (c *Client) Query(prompt string) error {
	return c.writeJSON(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	})
}

// Interrupt asks the agent to stop its current turn.
func (c *Client) Interrupt() error {
	id := c.requestID.Add(1)
	return c.writeJSON(map[string]any{
		"type":       "control_request",
		"request_id": fmt.Sprintf("req_%d", id),
		"request":    map[string]any{"subtype": "interrupt"},
	})
}

// Close shuts the process down: stdin is closed to signal EOF, then
// the process is killed if it does not exit within a grace period.
func (c *Client) Close() error {
	if c.stdin != nil {
		_ = c.stdin.Close()
	}
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		_ = c.cmd.Process.Kill()
		<-c.done
	}
	return nil
}

// Err returns the process exit error after the event channel closes.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.waitErr
	default:
		return nil
	}
}

// StderrTail returns the last captured stderr lines for diagnostics.
func (c *Client) StderrTail() string {
	c.stderrMu.Lock()
	defer c.stderrMu.Unlock()
	return strings.Join(c.stderr, "\n")
}

func (c *Client) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.stdin == nil {
		return ErrNotConnected
	}
	_, err = c.stdin.Write(append(data, '\n'))
	return err
}

func (c *Client) readLoop(ctx context.Context, stdout io.Reader) {
	defer func() {
		c.waitOnce.Do(func() {
			c.waitErr = c.cmd.Wait()
			close(c.done)
		})
		close(c.events)
	}()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), scanBufferSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			c.log.Debug().Str("line", truncateLine(line)).Msg("unparseable agent output")
			continue
		}
		if probe.Type == "control_request" {
			req := make([]byte, len(line))
			copy(req, line)
			go c.handleControlRequest(ctx, req)
			continue
		}

		events, err := decodeEvents(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("failed to decode agent event")
			continue
		}
		for _, ev := range events {
			select {
			case c.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn().Err(err).Msg("agent stream read error")
	}
}

// handleControlRequest answers the CLI's permission requests. The only
// subtype acted on is can_use_tool; everything else gets a success
// response so the agent is never left waiting.
func (c *Client) handleControlRequest(ctx context.Context, line []byte) {
	var msg wireMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return
	}
	var req struct {
		Subtype   string         `json:"subtype"`
		ToolName  string         `json:"tool_name"`
		Input     map[string]any `json:"input"`
		ToolUseID string         `json:"tool_use_id"`
	}
	if err := json.Unmarshal(msg.Request, &req); err != nil {
		return
	}

	response := map[string]any{}
	if req.Subtype == "can_use_tool" {
		allowed := true
		reason := ""
		if c.opts.CanUseTool != nil {
			allowed, reason = c.opts.CanUseTool(ctx, req.ToolName, req.Input, req.ToolUseID)
		}
		if allowed {
			response["behavior"] = "allow"
			response["updatedInput"] = req.Input
		} else {
			response["behavior"] = "deny"
			response["message"] = reason
		}
	}

	if err := c.writeJSON(map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": msg.RequestID,
			"response":   response,
		},
	}); err != nil {
		c.log.Warn().Err(err).Msg("failed to answer control request")
	}
}

func (c *Client) readStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.stderrMu.Lock()
		c.stderr = append(c.stderr, scanner.Text())
		if len(c.stderr) > maxStderrLines {
			c.stderr = c.stderr[len(c.stderr)-maxStderrLines:]
		}
		c.stderrMu.Unlock()
	}
}

func truncateLine(line []byte) string {
	const n = 200
	if len(line) <= n {
		return string(line)
	}
	return string(line[:n]) + "..."
}
