package substrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// echoAgentScript is a minimal stand-in "agent": it reads one JSON line
// from stdin and writes back a fixed response line, twice (so both
// Invoke and one ContinueSession round-trip succeed), then exits.
const echoAgentScript = `#!/bin/sh
read -r _
echo '{"session_id":"sess-1","output_text":"first turn","turns_used":1,"status":"Complete"}'
read -r _
echo '{"session_id":"sess-1","output_text":"second turn","turns_used":2,"status":"Complete"}'
`

func writeEchoAgent(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(path, []byte(echoAgentScript), 0o755); err != nil {
		t.Fatalf("write agent script: %v", err)
	}
	return path
}

func TestExecAdapter_InvokeAndContinueSession(t *testing.T) {
	script := writeEchoAgent(t)
	adapter := NewExecAdapter([]string{"sh", script})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := adapter.Invoke(ctx, Request{
		TaskID:   "task-1",
		WorkDir:  t.TempDir(),
		Timeout:  5 * time.Second,
		MaxTurns: 2,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.OutputText != "first turn" {
		t.Fatalf("unexpected output: %q", resp.OutputText)
	}
	if resp.SessionID == "" {
		t.Fatal("expected a session id")
	}

	resp2, err := adapter.ContinueSession(ctx, resp.SessionID, "keep going")
	if err != nil {
		t.Fatalf("continue session: %v", err)
	}
	if resp2.OutputText != "second turn" {
		t.Fatalf("unexpected continuation output: %q", resp2.OutputText)
	}

	if err := adapter.TerminateSession(ctx, resp.SessionID); err != nil {
		t.Fatalf("terminate session: %v", err)
	}
}

func TestExecAdapter_InvokeEmptyCommand(t *testing.T) {
	adapter := NewExecAdapter(nil)
	if _, err := adapter.Invoke(context.Background(), Request{WorkDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestExecAdapter_ContinueUnknownSession(t *testing.T) {
	adapter := NewExecAdapter([]string{"sh", "-c", "true"})
	if _, err := adapter.ContinueSession(context.Background(), "nope", "hi"); err == nil {
		t.Fatal("expected error for unknown session")
	}
}
