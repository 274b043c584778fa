// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/ragent/internal/agent"
	"github.com/jeranaias/ragent/internal/budget"
	"github.com/jeranaias/ragent/internal/config"
	"github.com/jeranaias/ragent/internal/cost"
	"github.com/jeranaias/ragent/internal/retrieval"
	"github.com/jeranaias/ragent/internal/session"
)

// =============================================================================
// HELPERS
// =============================================================================

const toolUseResponse = `{
  "stop_reason": "tool_use",
  "output": {"message": {"role": "assistant", "content": [
    {"text": "Let me calculate that."},
    {"toolUse": {"toolUseId": "tu_1", "name": "calculator", "input": {"expression": "2^10"}}}
  ]}},
  "usage": {"input_tokens": 852, "output_tokens": 123},
  "budget_info": {"current_usage": 10, "monthly_limit": 50, "remaining": 40, "percentage_used": 20}
}`

const finalResponse = `{
  "stop_reason": "end_turn",
  "output": {"message": {"role": "assistant", "content": [{"text": "The answer is 1024."}]}},
  "usage": {"input_tokens": 1000, "output_tokens": 20},
  "budget_info": {"current_usage": 10.1, "monthly_limit": 50, "remaining": 39.9, "percentage_used": 20.2}
}`

const budgetExceededResponse = `{"error":"Monthly limit exceeded","message":"You have used $50.00 of your $50.00 limit","budget_info":{"current_usage":50,"monthly_limit":50,"remaining":0,"percentage_used":100}}`

// modelServer replies with the scripted bodies in order and records every
// request body.
type modelServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []string
}

func newModelServer(t *testing.T, status int, bodies ...string) *modelServer {
	t.Helper()
	ms := &modelServer{}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		ms.mu.Lock()
		n := len(ms.requests)
		ms.requests = append(ms.requests, string(data))
		ms.mu.Unlock()

		body := bodies[len(bodies)-1]
		if n < len(bodies) {
			body = bodies[n]
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(ms.Close)
	return ms
}

func (ms *modelServer) calls() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.requests...)
}

// isolate points HOME, the working directory and every credential variable
// at empty test locations and returns the sessions directory.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	for _, key := range []string{"MODEL_API_URL", "MODEL_API_KEY", "KB_API_URL", "KB_API_KEY",
		"RAGENT_MODEL_ID", "RAGENT_MAX_ITERATIONS", "RAGENT_LOG_LEVEL", "RAGENT_VERBOSE"} {
		t.Setenv(key, "")
	}
	dir := filepath.Join(t.TempDir(), "sessions")
	t.Setenv("RAGENT_SESSIONS_DIR", dir)
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// scriptedInput feeds fixed lines to the REPL, then io.EOF.
type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) Prompt(string) (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

func (s *scriptedInput) Close() error { return nil }

func testConfig(t *testing.T, modelURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Model.APIURL = modelURL
	cfg.Model.APIKey = "test-key"
	cfg.Session.Dir = filepath.Join(t.TempDir(), "sessions")
	cfg.Session.AutoSave = false
	cfg.UI.Markdown = false
	return cfg
}

func newTestChat(t *testing.T, cfg *config.Config, resume string, lines ...string) (*chatSession, *bytes.Buffer) {
	t.Helper()
	rt, err := newRuntime(context.Background(), cfg, zerolog.Nop(), resume)
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })

	var out bytes.Buffer
	c := newChatSession(rt, &scriptedInput{lines: lines}, &out, false)
	c.interrupt = func(ctx context.Context) (context.Context, context.CancelFunc) {
		return context.WithCancel(ctx)
	}
	return c, &out
}

// =============================================================================
// COMMANDS
// =============================================================================

func TestVersionCommand(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ragent dev")
	assert.Contains(t, out, config.DefaultModelID)
}

func TestAskCommand_AnswersAndSaves(t *testing.T) {
	dir := isolate(t)
	server := newModelServer(t, http.StatusOK, toolUseResponse, finalResponse)
	t.Setenv("MODEL_API_URL", server.URL)
	t.Setenv("MODEL_API_KEY", "test-key")

	out, err := runCLI(t, "ask", "what is 2^10?")
	require.NoError(t, err)
	assert.Contains(t, out, "The answer is 1024.")
	assert.Contains(t, out, "Session total:")
	assert.Contains(t, out, "Saved to")

	calls := server.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1], `"toolUseId":"tu_1"`)
	assert.Contains(t, calls[1], "1024")

	out, err = runCLI(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "what is 2^10?")
	assert.Contains(t, out, dir)
}

func TestAskCommand_NotConfigured(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "ask", "hello")
	assert.ErrorIs(t, err, ErrModelNotConfigured)
}

func TestAskCommand_BudgetExceeded(t *testing.T) {
	isolate(t)
	server := newModelServer(t, http.StatusTooManyRequests, budgetExceededResponse)
	t.Setenv("MODEL_API_URL", server.URL)
	t.Setenv("MODEL_API_KEY", "test-key")

	out, err := runCLI(t, "ask", "hello")
	assert.ErrorIs(t, err, ErrTurnFailed)
	assert.Contains(t, out, "[Budget exceeded]")
	assert.Contains(t, out, "Please wait until next month")
	assert.Len(t, server.calls(), 1)
}

func TestSessionsCommand_Empty(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved sessions")
}

func TestRetrieveCommand_SavesResults(t *testing.T) {
	isolate(t)

	var got retrieval.Query
	kb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "kb-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"status":"success","results":[
			{"rank":7,"text":"Revenue grew 12%.","score":0.91,"metadata":{"company":"Acme"}},
			{"rank":9,"text":"Margins held.","score":0.85}]}`)
	}))
	defer kb.Close()
	t.Setenv("KB_API_URL", kb.URL)
	t.Setenv("KB_API_KEY", "kb-key")

	saveDir := t.TempDir()
	out, err := runCLI(t, "retrieve", "-k", "5", "--company", "Acme", "-t", "semantic", "--save", "--dir", saveDir, "revenue", "growth")
	require.NoError(t, err)

	assert.Equal(t, retrieval.Query{Query: "revenue growth", K: 5, SearchType: "SEMANTIC", CompanyName: "Acme"}, got)
	assert.Contains(t, out, "#1")
	assert.Contains(t, out, "Revenue grew 12%.")
	assert.Contains(t, out, "[Saved]")

	matches, err := filepath.Glob(filepath.Join(saveDir, "retrieval_*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var saved retrieval.SavedResults
	require.NoError(t, json.Unmarshal(data, &saved))
	require.Len(t, saved.Response.Results, 2)
	assert.Equal(t, 1, saved.Response.Results[0].Rank)
	assert.Equal(t, 2, saved.Response.Results[1].Rank)
}

func TestRetrieveCommand_RejectsOutOfRangeK(t *testing.T) {
	isolate(t)

	called := false
	kb := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer kb.Close()
	t.Setenv("KB_API_URL", kb.URL)
	t.Setenv("KB_API_KEY", "kb-key")

	_, err := runCLI(t, "retrieve", "-k", "51", "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "k")
	assert.False(t, called)
}

// =============================================================================
// REPL
// =============================================================================

func TestChatSession_CommandsAndExit(t *testing.T) {
	server := newModelServer(t, http.StatusOK, toolUseResponse, finalResponse)
	cfg := testConfig(t, server.URL)

	c, out := newTestChat(t, cfg, "",
		"help",
		"verbose off",
		"what is 2^10?",
		"status",
		"reset",
		"save",
		"quit",
	)
	require.NoError(t, c.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "verbose on|off")
	assert.Contains(t, text, "[Verbose mode: OFF]")
	assert.NotContains(t, text, "calling model")
	assert.Contains(t, text, "The answer is 1024.")
	assert.Contains(t, text, "Session Status")
	assert.Contains(t, text, "[Conversation cleared: 4 turns]")
	assert.Contains(t, text, "[Saved]")
	assert.Contains(t, text, "Goodbye!")
	assert.Contains(t, text, "Total session cost: $")

	rec := c.rt.agent.Recorder()
	assert.Equal(t, 2, rec.Requests())
	assert.Empty(t, c.rt.agent.History())

	path := filepath.Join(cfg.Session.Dir, c.rt.agent.Snapshot().FileName())
	saved, err := session.Load(path)
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), saved.SessionID)
	assert.Equal(t, 2, saved.TotalRequests)
	assert.InDelta(t, rec.TotalCost(), saved.SessionCost, 1e-12)
}

func TestChatSession_VerboseShowsToolActivity(t *testing.T) {
	server := newModelServer(t, http.StatusOK, toolUseResponse, finalResponse)
	cfg := testConfig(t, server.URL)
	cfg.UI.Verbose = true

	c, out := newTestChat(t, cfg, "", "what is 2^10?")
	require.NoError(t, c.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "calling model")
	assert.Contains(t, text, "calculator")
	assert.Contains(t, text, "1024")
}

func TestChatSession_EOFSaves(t *testing.T) {
	cfg := testConfig(t, "")

	c, out := newTestChat(t, cfg, "")
	require.NoError(t, c.run(context.Background()))

	assert.Contains(t, out.String(), "Goodbye!")
	assert.FileExists(t, filepath.Join(cfg.Session.Dir, c.rt.agent.Snapshot().FileName()))
}

func TestChatSession_NotConfiguredTurnFails(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.Model.APIKey = ""

	c, out := newTestChat(t, cfg, "", "hello")
	require.NoError(t, c.run(context.Background()))

	text := out.String()
	assert.Contains(t, text, "not configured")
	assert.Contains(t, text, "[Error]")
	assert.Equal(t, 0, c.rt.agent.Recorder().Requests())
}

func TestChatSession_Resume(t *testing.T) {
	server := newModelServer(t, http.StatusOK, finalResponse)
	cfg := testConfig(t, server.URL)

	first, _ := newTestChat(t, cfg, "", "hello there", "quit")
	require.NoError(t, first.run(context.Background()))
	id := first.rt.agent.Recorder().ID()
	cost := first.rt.agent.Recorder().TotalCost()
	require.NoError(t, first.rt.Close())

	second, out := newTestChat(t, cfg, id[:8])
	assert.Len(t, second.rt.agent.History(), 2)
	assert.Equal(t, id, second.rt.agent.Recorder().ID())
	assert.InDelta(t, cost, second.rt.agent.Recorder().TotalCost(), 1e-12)

	require.NoError(t, second.run(context.Background()))
	assert.True(t, strings.Contains(out.String(), "Resumed:"))
}

func TestChatSession_ResumeUnknown(t *testing.T) {
	cfg := testConfig(t, "")
	_, err := newRuntime(context.Background(), cfg, zerolog.Nop(), "does-not-exist")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestExportCommand(t *testing.T) {
	dir := isolate(t)
	server := newModelServer(t, http.StatusOK, finalResponse)
	t.Setenv("MODEL_API_URL", server.URL)
	t.Setenv("MODEL_API_KEY", "test-key")

	_, err := runCLI(t, "ask", "--quiet", "hello")
	require.NoError(t, err)

	outDir := t.TempDir()
	_, err = runCLI(t, "export", "session_", "-o", outDir)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	files, err := filepath.Glob(filepath.Join(dir, "session_*.json"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	out, err := runCLI(t, "export", filepath.Base(files[0]), "-o", outDir)
	require.NoError(t, err)
	assert.Contains(t, out, "[Exported]")

	md, err := filepath.Glob(filepath.Join(outDir, "session_*.md"))
	require.NoError(t, err)
	require.Len(t, md, 1)
	data, err := os.ReadFile(md[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "The answer is 1024.")
}

func TestPrinterOutcome_LabelsBudgetBand(t *testing.T) {
	tests := []struct {
		severity budget.Severity
		used     float64
		want     string
	}{
		{budget.SeverityNone, 10, "$10.00 / $100.00"},
		{budget.SeverityInfo, 80, "notice: $80.00"},
		{budget.SeverityWarning, 95, "warning: $95.00"},
	}

	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			var buf bytes.Buffer
			p := newPrinter(&buf, false, false, false)
			rec := session.NewRecorder(cost.NewCalculator(cost.DefaultRates()))
			p.outcome(&agent.Outcome{
				State:    agent.StateDone,
				Answer:   "ok",
				Budget:   &budget.Snapshot{CurrentUsage: tt.used, MonthlyLimit: 100},
				Severity: tt.severity,
			}, rec)
			assert.Contains(t, buf.String(), tt.want)
			if tt.severity == budget.SeverityNone {
				assert.NotContains(t, buf.String(), "notice:")
				assert.NotContains(t, buf.String(), "warning:")
			}
		})
	}
}
