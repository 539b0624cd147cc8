package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarcoPoloResearchLab/ddlkit/internal/auth"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/postgres"
	"github.com/MarcoPoloResearchLab/ddlkit/internal/sqlite"
)

type stubValidator struct {
	subject string
	err     error
}

func (s stubValidator) ValidateToken(string) (string, error) {
	return s.subject, s.err
}

func newTestRouter(deps Dependencies) http.Handler {
	gin.SetMode(gin.TestMode)
	return NewHTTPHandler(deps)
}

func performJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func mustMarshal(t *testing.T, value json.Marshaler) json.RawMessage {
	t.Helper()
	encoded, err := value.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal snapshot: %v", err)
	}
	return encoded
}

func usersSnapshot() *sqlite.Snapshot {
	return sqlite.NewSnapshot().MustAdd(
		sqlite.Table{Name: "users"},
		sqlite.Column{Table: "users", Name: "id", Type: "integer", NotNull: true},
	)
}

func TestHealthz(t *testing.T) {
	recorder := performJSON(t, newTestRouter(Dependencies{}), http.MethodGet, "/healthz", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
}

func TestVersionsListsDialects(t *testing.T) {
	recorder := performJSON(t, newTestRouter(Dependencies{}), http.MethodGet, "/v1/versions", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}
	var response struct {
		Dialects []versionsPayload `json:"dialects"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.Dialects) != 2 || response.Dialects[0].Current != "7" || response.Dialects[1].Current != "8" {
		t.Fatalf("unexpected versions %+v", response.Dialects)
	}
}

func TestGenerate(t *testing.T) {
	handler := newTestRouter(Dependencies{})
	current := mustMarshal(t, usersSnapshot())

	testCases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"create table", map[string]any{"current": current}, http.StatusOK, ""},
		{"dialect mismatch", map[string]any{"previous": mustMarshal(t, postgres.NewSnapshot()), "current": current}, http.StatusConflict, "dialect_mismatch"},
		{"outdated", map[string]any{"current": json.RawMessage(`{"version":"6","dialect":"sqlite"}`)}, http.StatusUnprocessableEntity, "snapshot_outdated"},
		{"unsupported", map[string]any{"current": json.RawMessage(`{"version":"3","dialect":"sqlite"}`)}, http.StatusUnprocessableEntity, "unsupported_version"},
		{"malformed", map[string]any{"current": json.RawMessage(`{"version":"7","dialect":"sqlite","ddl":[{"entityType":"bogus"}]}`)}, http.StatusBadRequest, "invalid_snapshot"},
		{"missing current", map[string]any{}, http.StatusBadRequest, "invalid_request"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := performJSON(t, handler, http.MethodPost, "/v1/generate", testCase.body)
			if recorder.Code != testCase.status {
				t.Fatalf("expected status %d, got %d: %s", testCase.status, recorder.Code, recorder.Body.String())
			}
			if testCase.code != "" && !strings.Contains(recorder.Body.String(), `"`+testCase.code+`"`) {
				t.Fatalf("expected error code %s, got %s", testCase.code, recorder.Body.String())
			}
		})
	}

	recorder := performJSON(t, handler, http.MethodPost, "/v1/generate", map[string]any{"current": current, "breakpoints": false})
	var response generateResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(response.Statements) != 1 || !strings.HasPrefix(response.SQL, `CREATE TABLE "users"`) || strings.Contains(response.SQL, "statement-breakpoint") {
		t.Fatalf("unexpected response %+v", response)
	}

	recorder = performJSON(t, handler, http.MethodPost, "/v1/generate", map[string]any{"previous": current, "current": current})
	response = generateResponsePayload{}
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.Statements == nil || len(response.Statements) != 0 {
		t.Fatalf("expected an empty statement list, got %s", recorder.Body.String())
	}
}

func TestUpgrade(t *testing.T) {
	handler := newTestRouter(Dependencies{})
	legacy := json.RawMessage(`{"version":"6","dialect":"sqlite","id":"a","prevId":"00000000-0000-0000-0000-000000000000","tables":{},"views":{},"enums":{},"_meta":{"tables":{},"columns":{}}}`)

	recorder := performJSON(t, handler, http.MethodPost, "/v1/upgrade", map[string]any{"dialect": "sqlite", "snapshot": legacy})
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	var response upgradeResponsePayload
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if response.FromVersion != "6" || response.ToVersion != "7" {
		t.Fatalf("unexpected versions %+v", response)
	}
	if _, err := sqlite.ParseSnapshot(response.Snapshot); err != nil {
		t.Fatalf("upgraded snapshot does not decode: %v", err)
	}

	recorder = performJSON(t, handler, http.MethodPost, "/v1/upgrade", map[string]any{"dialect": "postgresql", "snapshot": legacy})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected conflict for mismatched dialect, got %d", recorder.Code)
	}
	recorder = performJSON(t, handler, http.MethodPost, "/v1/upgrade", map[string]any{"dialect": "oracle", "snapshot": legacy})
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request for unknown dialect, got %d", recorder.Code)
	}
}

func TestAuthorizationGuardsAPI(t *testing.T) {
	handler := newTestRouter(Dependencies{Validator: stubValidator{subject: "ci"}})

	recorder := performJSON(t, handler, http.MethodGet, "/v1/versions", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized without a token, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/v1/versions", http.NoBody)
	request.Header.Set("Authorization", "Bearer token")
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected ok with a token, got %d", recorder.Code)
	}

	recorder = performJSON(t, handler, http.MethodGet, "/healthz", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("health check must stay open, got %d", recorder.Code)
	}
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/v1/versions", http.NoBody)
	request.Header.Set("Authorization", "Bearer expired-token")
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		validator: stubValidator{err: auth.ErrExpiredToken},
		logger:    zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entries[0].Level)
	}
	hasExpired := false
	for _, field := range entries[0].Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredToken) {
			hasExpired = true
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entries[0].Context)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestRouter(Dependencies{})
	request := httptest.NewRequest(http.MethodOptions, "/v1/generate", http.NoBody)
	request.Header.Set("Origin", "https://tools.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if !strings.Contains(strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers")), "authorization") {
		t.Fatalf("expected Authorization to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Headers"))
	}
}
