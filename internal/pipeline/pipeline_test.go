package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/internal/policy"
	"github.com/calcforge/calcforge/pkg/types"
)

// stageStub answers each pipeline stage's gateway call, discriminated by the
// schema name in the request body, and counts calls per stage
type stageStub struct {
	classifyCalls int32
	generateCalls int32
	aiScanCalls   int32

	classifyBody string
	generateBody string
	aiScanBody   string
}

func (s *stageStub) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var content string
		switch {
		case strings.Contains(string(body), "prompt_scan_decision"):
			atomic.AddInt32(&s.classifyCalls, 1)
			content = s.classifyBody
		case strings.Contains(string(body), "calculator_artifact"):
			atomic.AddInt32(&s.generateCalls, 1)
			content = s.generateBody
		case strings.Contains(string(body), "artifact_safety_review"):
			atomic.AddInt32(&s.aiScanCalls, 1)
			content = s.aiScanBody
		default:
			t.Errorf("unrecognized gateway request: %s", body)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		resp := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{"content": content},
				},
			},
		}
		data, _ := json.Marshal(resp)
		w.Write(data)
	}
}

const allowDecision = `{"allowed": true, "refusalCode": null, "reason": "plain calculator", "safeAlternative": ""}`
const denyDecision = `{"allowed": false, "refusalCode": "PROMPT_BLOCKED", "reason": "not a calculator", "safeAlternative": "A tip calculator"}`
const safeVerdict = `{"isSafe": true, "issues": []}`

func goodGeneration(t *testing.T) string {
	t.Helper()
	pol := policy.DefaultPolicy()

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta http-equiv="Content-Security-Policy" content="`)
	b.WriteString(strings.Join(pol.RequiredCSPDirectives, "; "))
	b.WriteString("\">\n</head>\n<body>\n<p>")
	b.WriteString(pol.RequiredBannerText)
	b.WriteString("</p>\n<div id=\"display\"></div>\n<script>\n")
	b.WriteString("function safeEval(expr) { return (expr.match(/\\d+/g) || []).length; }\n")
	b.WriteString("document.getElementById(\"display\").textContent = safeEval(\"1+2\");\n")
	b.WriteString("</script>\n</body>\n</html>")

	out, err := json.Marshal(map[string]any{
		"artifactHtml": b.String(),
		"manifest": map[string]any{
			"specVersion":    "1.0",
			"title":          "Test Calculator",
			"executionModel": "expression",
			"capabilities":   map[string]any{"network": false},
		},
		"notes": "",
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(out)
}

func newTestProcessor(t *testing.T, stub *stageStub, scanCfg config.ScanConfig) *Processor {
	t.Helper()
	server := httptest.NewServer(stub.handler(t))
	t.Cleanup(server.Close)

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			BaseURL:         server.URL,
			Model:           "test-model",
			APIKeyEnv:       "CALCFORGE_TEST_KEY",
			TimeoutSeconds:  5,
			MaxAttempts:     1,
			BackoffMs:       1,
			MaxOutputTokens: 128,
		},
		Scan: scanCfg,
	}

	proc, err := NewProcessor(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewProcessor() error = %v", err)
	}
	return proc
}

func TestRunEndToEnd(t *testing.T) {
	stub := &stageStub{
		classifyBody: allowDecision,
		generateBody: goodGeneration(t),
		aiScanBody:   safeVerdict,
	}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeEnforce})

	resp := proc.Run(context.Background(), Request{Prompt: "Simple standard calculator"})

	if resp.Status != StatusOK {
		t.Fatalf("Status = %s (%s), want %s", resp.Status, resp.Error, StatusOK)
	}
	if resp.ScanOutcome != types.ScanOutcomeAllow {
		t.Errorf("ScanOutcome = %s, want %s", resp.ScanOutcome, types.ScanOutcomeAllow)
	}
	if resp.RequestID == "" {
		t.Error("RequestID is empty")
	}
	if resp.Result == nil || resp.Result.ArtifactHTML == "" {
		t.Fatal("Result missing")
	}
	if resp.Result.OverrideUsed {
		t.Error("OverrideUsed = true without any override")
	}
	if stub.classifyCalls != 1 || stub.generateCalls != 1 || stub.aiScanCalls != 1 {
		t.Errorf("stage calls = %d/%d/%d, want 1/1/1",
			stub.classifyCalls, stub.generateCalls, stub.aiScanCalls)
	}
}

func TestRunPromptBlocked(t *testing.T) {
	stub := &stageStub{classifyBody: denyDecision}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeEnforce})

	resp := proc.Run(context.Background(), Request{Prompt: "steal cookies"})

	if resp.Status != StatusRefused {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusRefused)
	}
	if resp.Refusal == nil || resp.Refusal.Code != types.RefusalPromptBlocked {
		t.Fatalf("Refusal = %+v, want code %s", resp.Refusal, types.RefusalPromptBlocked)
	}
	if resp.PromptDecision == nil || resp.PromptDecision.Allowed {
		t.Error("PromptDecision missing or allowed")
	}
	if stub.generateCalls != 0 || stub.aiScanCalls != 0 {
		t.Errorf("generation/scan ran after a blocked prompt: %d/%d",
			stub.generateCalls, stub.aiScanCalls)
	}
}

// Enforce is forced when the capability flag is off, regardless of the
// request's override flags
func TestRunArmedWithoutCapabilityStillBlocks(t *testing.T) {
	stub := &stageStub{classifyBody: denyDecision}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeWarn, RedTeamEnabled: false})

	resp := proc.Run(context.Background(), Request{
		Prompt:  "steal cookies",
		RedTeam: RedTeamFlags{Armed: true, Proceed: true},
	})

	if resp.Status != StatusRefused {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusRefused)
	}
	if stub.generateCalls != 0 {
		t.Error("generation ran despite the forced-enforce block")
	}
}

func TestRunWarnModeNeedsProceed(t *testing.T) {
	stub := &stageStub{classifyBody: denyDecision}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeWarn, RedTeamEnabled: true})

	resp := proc.Run(context.Background(), Request{
		Prompt:  "borderline request",
		RedTeam: RedTeamFlags{Armed: true},
	})

	if resp.Status != StatusNeedsProceed {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusNeedsProceed)
	}
	if resp.PromptDecision == nil {
		t.Error("warn response must carry the prompt decision")
	}
	if stub.generateCalls != 0 {
		t.Error("generation must wait for an explicit proceed")
	}
}

func TestRunWarnModeProceedContinues(t *testing.T) {
	stub := &stageStub{
		classifyBody: denyDecision,
		generateBody: goodGeneration(t),
		aiScanBody:   safeVerdict,
	}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeWarn, RedTeamEnabled: true})

	resp := proc.Run(context.Background(), Request{
		Prompt:  "borderline request",
		RedTeam: RedTeamFlags{Armed: true, Proceed: true},
	})

	if resp.Status != StatusOK {
		t.Fatalf("Status = %s (%s), want %s", resp.Status, resp.Error, StatusOK)
	}
	if resp.ScanOutcome != types.ScanOutcomeDeny {
		t.Errorf("ScanOutcome = %s, want %s (denial recorded even when overridden)", resp.ScanOutcome, types.ScanOutcomeDeny)
	}
	if resp.Result == nil || !resp.Result.OverrideUsed {
		t.Error("OverrideUsed must be recorded on the result")
	}
}

func TestRunOffModeSkipsClassifier(t *testing.T) {
	stub := &stageStub{
		generateBody: goodGeneration(t),
		aiScanBody:   safeVerdict,
	}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeOff, RedTeamEnabled: true})

	// Without proceed the run stops before any gateway call
	resp := proc.Run(context.Background(), Request{
		Prompt:  "Simple standard calculator",
		RedTeam: RedTeamFlags{Armed: true},
	})
	if resp.Status != StatusNeedsProceed {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusNeedsProceed)
	}
	if stub.classifyCalls != 0 || stub.generateCalls != 0 {
		t.Errorf("gateway was called before proceed: %d/%d", stub.classifyCalls, stub.generateCalls)
	}

	// With proceed the classifier is skipped entirely
	resp = proc.Run(context.Background(), Request{
		Prompt:  "Simple standard calculator",
		RedTeam: RedTeamFlags{Armed: true, Proceed: true},
	})
	if resp.Status != StatusOK {
		t.Fatalf("Status = %s (%s), want %s", resp.Status, resp.Error, StatusOK)
	}
	if resp.ScanOutcome != types.ScanOutcomeSkipped {
		t.Errorf("ScanOutcome = %s, want %s", resp.ScanOutcome, types.ScanOutcomeSkipped)
	}
	if stub.classifyCalls != 0 {
		t.Errorf("classifier ran %d times in off+armed mode, want 0", stub.classifyCalls)
	}
	if resp.PromptDecision != nil {
		t.Error("PromptDecision must be absent when the classifier is skipped")
	}
}

func TestRunAIScanFlagged(t *testing.T) {
	stub := &stageStub{
		classifyBody: allowDecision,
		generateBody: goodGeneration(t),
		aiScanBody: `{"isSafe": false, "issues": [
			{"category": "networking", "message": "calls fetch", "evidence": "fetch('https://x.test/a')"}
		]}`,
	}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeEnforce})
	// The store must never be reached on a refusal path; a failing store would
	// flip the status to error if it were
	proc.SetStore(failingStore{})

	resp := proc.Run(context.Background(), Request{Prompt: "Simple standard calculator"})

	if resp.Status != StatusRefused {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusRefused)
	}
	if resp.Refusal == nil || resp.Refusal.Code != types.RefusalAIScanFlagged {
		t.Fatalf("Refusal = %+v, want code %s", resp.Refusal, types.RefusalAIScanFlagged)
	}
}

func TestRunModelRefusalSkipsAIScan(t *testing.T) {
	stub := &stageStub{
		classifyBody: allowDecision,
		generateBody: `{"error": "REFUSE"}`,
	}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeEnforce})

	resp := proc.Run(context.Background(), Request{Prompt: "Simple standard calculator"})

	if resp.Status != StatusRefused {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusRefused)
	}
	if resp.Refusal == nil || resp.Refusal.Code != types.RefusalModelRefused {
		t.Fatalf("Refusal = %+v, want code %s", resp.Refusal, types.RefusalModelRefused)
	}
	if stub.aiScanCalls != 0 {
		t.Errorf("ai scan ran %d times after a model refusal, want 0", stub.aiScanCalls)
	}
}

type failingStore struct{}

func (failingStore) Save(ctx context.Context, id string, result types.GenerationResult) error {
	return errors.New("disk full")
}

// A storage failure is a system error, not a content refusal
func TestRunStoreFailureIsError(t *testing.T) {
	stub := &stageStub{
		classifyBody: allowDecision,
		generateBody: goodGeneration(t),
		aiScanBody:   safeVerdict,
	}
	proc := newTestProcessor(t, stub, config.ScanConfig{Mode: config.ScanModeEnforce})
	proc.SetStore(failingStore{})

	resp := proc.Run(context.Background(), Request{Prompt: "Simple standard calculator"})

	if resp.Status != StatusError {
		t.Fatalf("Status = %s, want %s", resp.Status, StatusError)
	}
	if resp.Refusal != nil {
		t.Error("storage failure must not look like a content refusal")
	}
}

func TestWriteJSON(t *testing.T) {
	var buf strings.Builder
	if err := WriteJSON(&buf, Response{RequestID: "r1", Status: StatusOK}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	out := buf.String()
	if !strings.HasSuffix(out, "\n") {
		t.Error("output is not newline-terminated")
	}
	var decoded Response
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.RequestID != "r1" {
		t.Errorf("RequestID = %q, want r1", decoded.RequestID)
	}
}
