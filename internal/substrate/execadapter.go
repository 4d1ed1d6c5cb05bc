package substrate

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxOutputBytes caps how much of a subprocess's stderr we keep, so a
// runaway agent process can't exhaust memory. Grounded on the cub
// executor's limitedWriter / maxOutputSize pattern.
const maxOutputBytes = 10 * 1024 * 1024

// wireRequest/wireResponse are the newline-delimited JSON messages
// exchanged over the subprocess's stdin/stdout. One process serves one
// session across possibly many turns, unlike the cub executor's
// one-shot-per-claim subprocess; invoke keeps the pipe open so
// ContinueSession can write a second line instead of spawning anew.
type wireRequest struct {
	Kind            string            `json:"kind"` // "invoke" | "continue" | "terminate"
	CorrelationID   string            `json:"correlation_id,omitempty"`
	AgentName       string            `json:"agent_name,omitempty"`
	TaskID          string            `json:"task_id,omitempty"`
	TaskTitle       string            `json:"task_title,omitempty"`
	TaskDescription string            `json:"task_description,omitempty"`
	Context         string            `json:"context,omitempty"`
	SystemPrompt    string            `json:"system_prompt,omitempty"`
	Tools           []string          `json:"tools,omitempty"`
	MaxTurns        int               `json:"max_turns,omitempty"`
	Message         string            `json:"message,omitempty"`
	Extra           map[string]string `json:"extra,omitempty"`
}

type wireResponse struct {
	SessionID  string     `json:"session_id"`
	OutputText string     `json:"output_text"`
	Artifacts  []string   `json:"artifacts"`
	ToolCalls  []ToolCall `json:"tool_calls"`
	TurnsUsed  int        `json:"turns_used"`
	Status     Status     `json:"status"`
	Error      string     `json:"error,omitempty"`
}

// limitedWriter discards bytes past a size limit instead of growing
// without bound, the same defense the cub executor applies to
// subprocess stdout/stderr.
type limitedWriter struct {
	w       io.Writer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	toWrite := p
	if len(p) > remaining {
		toWrite = p[:remaining]
	}
	n, err := lw.w.Write(toWrite)
	lw.written += n
	return len(p), err
}

// session tracks a live agent subprocess so ContinueSession can address
// it by id without re-provisioning anything.
type session struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader
	stderr *bytes.Buffer
	cancel context.CancelFunc
}

// ExecAdapter runs agent subprocesses with a fixed command line,
// communicating over stdin/stdout with one JSON object per line. This is
// the only Adapter implementation in this tree: no vendor LLM SDK is
// wired, keeping the Adapter boundary backend-agnostic.
type ExecAdapter struct {
	command []string

	mu       sync.Mutex
	sessions map[string]*session
}

// NewExecAdapter builds an adapter that launches command (argv[0] plus
// args) for each new session.
func NewExecAdapter(command []string) *ExecAdapter {
	return &ExecAdapter{command: command, sessions: map[string]*session{}}
}

func (a *ExecAdapter) spawn(ctx context.Context, workDir string, timeout time.Duration) (*session, context.Context, error) {
	if len(a.command) == 0 {
		return nil, nil, fmt.Errorf("substrate: command is empty")
	}
	childCtx, cancel := context.WithTimeout(ctx, timeout)
	cmd := exec.CommandContext(childCtx, a.command[0], a.command[1:]...)
	cmd.Dir = workDir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("substrate: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("substrate: stdout pipe: %w", err)
	}
	stderrBuf := &bytes.Buffer{}
	cmd.Stderr = &limitedWriter{w: stderrBuf, limit: maxOutputBytes}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("substrate: start: %w", err)
	}

	s := &session{
		cmd:    cmd,
		stdin:  stdin,
		reader: bufio.NewReaderSize(io.LimitReader(stdout, maxOutputBytes), 64*1024),
		stderr: stderrBuf,
		cancel: cancel,
	}
	return s, childCtx, nil
}

func (a *ExecAdapter) exchange(s *session, childCtx context.Context, req wireRequest) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("substrate: encode request: %w", err)
	}
	if _, err := s.stdin.Write(append(line, '\n')); err != nil {
		return Response{}, fmt.Errorf("substrate: write stdin: %w", err)
	}

	respLine, err := s.reader.ReadBytes('\n')
	if err != nil {
		if childCtx.Err() != nil {
			return Response{Status: StatusTimeout}, fmt.Errorf("substrate: timed out waiting for response: %w", childCtx.Err())
		}
		return Response{}, fmt.Errorf("substrate: read response (stderr=%q): %w", truncate(s.stderr.String(), 2000), err)
	}

	var wr wireResponse
	if err := json.Unmarshal(respLine, &wr); err != nil {
		return Response{}, fmt.Errorf("substrate: decode response: %w", err)
	}
	if wr.Error != "" {
		return Response{SessionID: wr.SessionID, Status: StatusError}, fmt.Errorf("substrate: agent error: %s", wr.Error)
	}
	return Response{
		SessionID:  wr.SessionID,
		OutputText: wr.OutputText,
		Artifacts:  wr.Artifacts,
		ToolCalls:  wr.ToolCalls,
		TurnsUsed:  wr.TurnsUsed,
		Status:     wr.Status,
	}, nil
}

// Invoke starts a fresh subprocess for req and performs its first turn.
// The process is kept alive (registered under the returned session id)
// so ContinueSession can address it without re-spawning.
func (a *ExecAdapter) Invoke(ctx context.Context, req Request) (Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute // matches default per-turn substrate timeout
	}
	s, childCtx, err := a.spawn(ctx, req.WorkDir, timeout)
	if err != nil {
		return Response{}, err
	}

	resp, err := a.exchange(s, childCtx, wireRequest{
		Kind:            "invoke",
		CorrelationID:   req.CorrelationID,
		AgentName:       req.AgentName,
		TaskID:          req.TaskID,
		TaskTitle:       req.TaskTitle,
		TaskDescription: req.TaskDescription,
		Context:         req.Context,
		SystemPrompt:    req.SystemPrompt,
		Tools:           req.Tools,
		MaxTurns:        req.MaxTurns,
	})
	if err != nil {
		s.cancel()
		return resp, err
	}

	sid := resp.SessionID
	if sid == "" {
		sid = uuid.NewString()
		resp.SessionID = sid
	}
	a.mu.Lock()
	a.sessions[sid] = s
	a.mu.Unlock()
	return resp, nil
}

// ContinueSession sends msg to an already-running session.
func (a *ExecAdapter) ContinueSession(ctx context.Context, sessionID, msg string) (Response, error) {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return Response{}, fmt.Errorf("substrate: unknown session %q", sessionID)
	}
	return a.exchange(s, ctx, wireRequest{Kind: "continue", Message: msg})
}

// TerminateSession closes the session's stdin and kills its subprocess,
// releasing the entry regardless of whether the process exits cleanly.
func (a *ExecAdapter) TerminateSession(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	_ = s.stdin.Close()
	s.cancel()
	_ = s.cmd.Wait()
	return nil
}

// HealthCheck spawns the configured command with a "health" probe
// argument and expects a clean exit within a short timeout.
func (a *ExecAdapter) HealthCheck(ctx context.Context) error {
	if len(a.command) == 0 {
		return fmt.Errorf("substrate: command is empty")
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(probeCtx, a.command[0], append(a.command[1:], "health")...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("substrate: health check failed: %s: %w", truncate(string(out), 2000), err)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
