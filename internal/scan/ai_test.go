package scan

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/internal/llm"
	"github.com/calcforge/calcforge/internal/policy"
)

func aiScannerAgainst(t *testing.T, handler http.HandlerFunc, failOpen bool) *AIScanner {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := llm.NewClient(config.ProviderConfig{
		BaseURL:         server.URL,
		Model:           "test-model",
		APIKeyEnv:       "CALCFORGE_TEST_KEY",
		TimeoutSeconds:  5,
		MaxAttempts:     1,
		BackoffMs:       1,
		MaxOutputTokens: 128,
	}, logger)

	pol := policy.DefaultPolicy()
	return NewAIScanner(client, &pol, failOpen, logger)
}

func serveVerdict(verdict string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{"content": verdict},
				},
			},
		}
		data, _ := json.Marshal(resp)
		w.Write(data)
	}
}

func TestAIScanSafeVerdict(t *testing.T) {
	s := aiScannerAgainst(t, serveVerdict(`{"isSafe": true, "issues": []}`), false)

	report, err := s.Scan(context.Background(), "<html></html>")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if report.Skipped {
		t.Error("Skipped = true on a successful scan")
	}
	if report.ModelSafe == nil || !*report.ModelSafe {
		t.Errorf("ModelSafe = %v, want true", report.ModelSafe)
	}
	if report.Triage.Blocked() {
		t.Error("clean verdict must not block")
	}
}

func TestAIScanDisallowedFinding(t *testing.T) {
	verdict := `{"isSafe": false, "issues": [
		{"category": "networking", "message": "calls fetch", "evidence": "fetch('https://x.test/a')"}
	]}`
	s := aiScannerAgainst(t, serveVerdict(verdict), false)

	report, err := s.Scan(context.Background(), "<html></html>")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if !report.Triage.Blocked() {
		t.Fatalf("triage = %+v, want blocked", report.Triage)
	}
	if len(report.Triage.Disallowed) != 1 {
		t.Errorf("Disallowed = %d, want 1", len(report.Triage.Disallowed))
	}
}

func TestAIScanAllowListedFinding(t *testing.T) {
	verdict := `{"isSafe": false, "issues": [
		{"category": "inline_script", "message": "artifact uses an inline script"}
	]}`
	s := aiScannerAgainst(t, serveVerdict(verdict), false)

	report, err := s.Scan(context.Background(), "<html></html>")
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if report.Triage.Blocked() {
		t.Error("allow-listed finding must not block")
	}
	if len(report.Triage.Allowed) != 1 {
		t.Errorf("Allowed = %d, want 1", len(report.Triage.Allowed))
	}
}

func TestAIScanFailOpenSkips(t *testing.T) {
	s := aiScannerAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, true)

	report, err := s.Scan(context.Background(), "<html></html>")
	if err != nil {
		t.Fatalf("Scan() error = %v, want fail-open skip", err)
	}
	if !report.Skipped {
		t.Error("Skipped = false, want true")
	}
}

func TestAIScanFailClosedErrors(t *testing.T) {
	s := aiScannerAgainst(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, false)

	if _, err := s.Scan(context.Background(), "<html></html>"); err == nil {
		t.Fatal("expected error when fail-closed scan call fails")
	}
}
