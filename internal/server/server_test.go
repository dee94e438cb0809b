package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brian-mwirigi/codesession/internal/session"
	"github.com/brian-mwirigi/codesession/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// seedStore creates two completed sessions and one active one.
func seedStore(t *testing.T) *store.Store {
	t.Helper()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	st, err := store.Open(filepath.Join(t.TempDir(), "codesession.db"),
		store.WithLogger(quiet), store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	for i, name := range []string{"alpha", "beta", "gamma"} {
		id, err := st.CreateSession(ctx, store.NewSession{
			Name:      name,
			WorkDir:   "/work/" + name,
			StartTime: now.Add(time.Duration(i-3) * time.Hour),
		})
		require.NoError(t, err)
		require.NoError(t, st.RecordFileChange(ctx, id, "main.go", session.ChangeModified, time.Time{}))
		_, err = st.RecordAIUsage(ctx, session.AIUsage{
			SessionID: id, Provider: "anthropic", Model: "claude-sonnet-4",
			Tokens: 1500, PromptTokens: session.Int64(1000), CompletionTokens: session.Int64(500),
			Cost: 0.0105,
		})
		require.NoError(t, err)
		if name != "gamma" {
			_, err = st.EndSession(ctx, id, now.Add(time.Duration(i-2)*time.Hour), "")
			require.NoError(t, err)
		}
	}
	return st
}

func do(t *testing.T, h http.Handler, target string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorDetail {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestHealthEndpoint(t *testing.T) {
	srv := New(seedStore(t), Options{Token: "secret", Logger: quiet})

	w := do(t, srv, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestSessionsEndpoint(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	w := do(t, srv, "/api/sessions?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var page sessionsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	assert.Equal(t, int64(3), page.Total)
	require.Len(t, page.Sessions, 2)
	assert.Equal(t, "gamma", page.Sessions[0].Name, "newest first")

	w = do(t, srv, "/api/sessions?status=completed")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	assert.Equal(t, int64(2), page.Total)

	w = do(t, srv, "/api/sessions?q=bet")
	require.NoError(t, json.NewDecoder(w.Body).Decode(&page))
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, "beta", page.Sessions[0].Name)

	w = do(t, srv, "/api/sessions?q=nothing-matches")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"sessions":[]`)
}

func TestSessionsEndpoint_BadParams(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	for _, target := range []string{
		"/api/sessions?status=paused",
		"/api/sessions?limit=-1",
		"/api/sessions?offset=abc",
		"/api/sessions/abc",
		"/api/stats/daily?days=x",
	} {
		w := do(t, srv, target)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Equal(t, "invalid_input", decodeError(t, w).Code, target)
	}
}

func TestSessionDetailEndpoint(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	w := do(t, srv, "/api/sessions/1")
	require.Equal(t, http.StatusOK, w.Code)
	var d session.Detail
	require.NoError(t, json.NewDecoder(w.Body).Decode(&d))
	assert.Equal(t, "alpha", d.Session.Name)
	require.Len(t, d.FileChanges, 1)
	require.Len(t, d.AIUsage, 1)
	assert.Equal(t, 0.0105, d.AIUsage[0].Cost)

	w = do(t, srv, "/api/sessions/99")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Code)
}

func TestStatsEndpoints(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	w := do(t, srv, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var st store.Stats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&st))
	assert.Equal(t, int64(2), st.TotalSessions, "only completed sessions")
	assert.Equal(t, 0.021, st.TotalCost)

	w = do(t, srv, "/api/stats/models")
	require.Equal(t, http.StatusOK, w.Code)
	var models []store.ModelUsage
	require.NoError(t, json.NewDecoder(w.Body).Decode(&models))
	require.Len(t, models, 1)
	assert.Equal(t, int64(3), models[0].Calls)
	assert.Equal(t, 0.0315, models[0].Cost)

	w = do(t, srv, "/api/stats/ratios")
	require.Equal(t, http.StatusOK, w.Code)
	var ratios []store.TokenRatio
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ratios))
	require.Len(t, ratios, 1)
	assert.Equal(t, 2.0, ratios[0].Ratio)

	for _, target := range []string{
		"/api/stats/daily?days=7",
		"/api/stats/providers",
		"/api/stats/hotspots?limit=5",
		"/api/stats/heatmap",
		"/api/stats/projects",
	} {
		w := do(t, srv, target)
		assert.Equal(t, http.StatusOK, w.Code, target)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"), target)
		assert.True(t, strings.HasPrefix(w.Body.String(), "["), "%s returns an array: %s", target, w.Body.String())
	}
}

func TestExportEndpoint(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	w := do(t, srv, "/api/export?format=csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "codesession-export.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 4, "header plus three sessions")
	assert.True(t, strings.HasPrefix(lines[0], "id,name,status"))

	w = do(t, srv, "/api/export")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []session.Session
	require.NoError(t, json.NewDecoder(w.Body).Decode(&sessions))
	assert.Len(t, sessions, 3)

	w = do(t, srv, "/api/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuth(t *testing.T) {
	srv := New(seedStore(t), Options{Token: "secret", Logger: quiet})

	w := do(t, srv, "/api/stats")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeError(t, w).Code)

	w = do(t, srv, "/api/stats", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, srv, "/api/stats", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	srv := New(seedStore(t), Options{RateLimit: 1, Logger: quiet})

	// Burst is twice the rate.
	assert.Equal(t, http.StatusOK, do(t, srv, "/api/health").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, "/api/health").Code)
	w := do(t, srv, "/api/health")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limited", decodeError(t, w).Code)
}

func TestRequestID(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	w := do(t, srv, "/api/health")
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	w = do(t, srv, "/api/health", RequestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestUnknownRoute(t *testing.T) {
	srv := New(seedStore(t), Options{Logger: quiet})

	w := do(t, srv, "/api/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeError(t, w).Code)
}

type failingStore struct {
	Store
}

func (failingStore) ListSessions(ctx context.Context, f store.ListFilter) ([]session.Session, int64, error) {
	return nil, 0, errors.New("disk I/O error")
}

func TestInternalErrorsAreOpaque(t *testing.T) {
	srv := New(failingStore{}, Options{Logger: quiet})

	w := do(t, srv, "/api/sessions")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	e := decodeError(t, w)
	assert.Equal(t, "internal", e.Code)
	assert.NotContains(t, e.Message, "disk")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(session.CodeAlreadyActive))
	assert.Equal(t, http.StatusConflict, statusFor(session.CodeBudgetExceeded))
	assert.Equal(t, http.StatusBadRequest, statusFor(session.CodeMissingTokens))
	assert.Equal(t, http.StatusInternalServerError, statusFor("mystery"))
}
