package obs

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                        "/",
		"/metrics":                "/metrics",
		"/auth/login":             "/auth/login",
		"/auth/login/":            "/auth/login",
		"/auth/refresh?x=1":       "/auth/refresh",
		"/auth/me":                "/auth/me",
		"/expenses/01HZX0ABCDEF":  "other",
		"/auth/register/../admin": "other",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}

func TestInstrumentPassesStatusThrough(t *testing.T) {
	Init()
	Init()
	handler := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/register", nil))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestErrorLogIncludesErrField(t *testing.T) {
	logger := Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	Error("auth.test.fail", errors.New("boom"), map[string]any{"subject": "u1"})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["level"] != "error" || entry["msg"] != "auth.test.fail" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["err"] != "boom" || entry["subject"] != "u1" {
		t.Fatalf("fields missing: %v", entry)
	}
}

func TestBuildInfoIsExposed(t *testing.T) {
	InitBuildInfo("1.2.3", "abc")
	InitBuildInfo("1.2.3", "abc")

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()
	if !strings.Contains(body, `spendly_build_info{commit="abc"`) {
		t.Fatalf("build info missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "spendly_start_time_seconds") {
		t.Fatal("start time missing from exposition")
	}
}
