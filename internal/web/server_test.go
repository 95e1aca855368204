package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/shortlinks/internal/config"
	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/store/memory"
)

const (
	testBaseURL = "https://sho.rt/r"
	testKey     = "web-test-passphrase-0123"
)

type testEnv struct {
	store  *memory.Store
	server *Server
}

func newTestEnv(t *testing.T, key string, opts Options) *testEnv {
	t.Helper()
	store := memory.New(memory.WithTransactions())
	var keys *core.KeyProvider
	if key != "" {
		keys = core.NewKeyProvider(store, key, time.Minute)
	}
	svc := core.NewService(store, keys, core.ServiceConfig{BaseURL: testBaseURL}, core.WithAuditSinks(store))
	srv := NewServer(svc, opts)
	t.Cleanup(srv.Close)
	return &testEnv{store: store, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) create(t *testing.T, target, owner string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/links", fmt.Sprintf(`{"target":%q,"ownerId":%q}`, target, owner))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp createLinkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Code
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	rec := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	down := newTestEnv(t, "", Options{Health: func(ctx context.Context) error { return errors.New("db down") }})
	rec = down.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	rec := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateGetRedirect(t *testing.T) {
	env := newTestEnv(t, "", Options{})

	rec := env.do(t, http.MethodPost, "/api/links", `{"target":"https://example.com/docs","ownerId":"alice","ownerName":"Alice"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created createLinkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Code)
	assert.Equal(t, testBaseURL+"/"+created.Code, created.ShortURL)
	assert.Equal(t, "/api/links/"+created.Code, rec.Header().Get("Location"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = env.do(t, http.MethodGet, "/api/links/"+created.Code, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var link core.ShortLink
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &link))
	assert.Equal(t, "https://example.com/docs", link.Target)
	assert.Equal(t, "alice", link.OwnerID)

	rec = env.do(t, http.MethodGet, "/r/"+created.Code, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/docs", rec.Header().Get("Location"))
}

func TestCreate_Errors(t *testing.T) {
	env := newTestEnv(t, "", Options{})

	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"relative target", `{"target":"/not/absolute"}`, http.StatusBadRequest, "VAL002"},
		{"empty target", `{"target":""}`, http.StatusBadRequest, "VAL002"},
		{"malformed json", `{"target":`, http.StatusBadRequest, "VAL004"},
		{"empty body", ``, http.StatusBadRequest, "VAL004"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/links", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.NotEmpty(t, resp.RequestID)
		})
	}
}

func TestGet_Missing(t *testing.T) {
	env := newTestEnv(t, "", Options{})

	for _, path := range []string{"/api/links/nosuchcode", "/r/nosuchcode", "/r/bad code!"} {
		rec := env.do(t, http.MethodGet, strings.ReplaceAll(path, " ", "%20"), "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Equal(t, "LNK001", decodeError(t, rec).Code)
	}
}

func TestDeleteLink(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	code := env.create(t, "https://example.com/a", "alice")

	rec := env.do(t, http.MethodDelete, "/api/links/"+code+"?ownerId=bob", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/links/"+code+"?ownerId=alice", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"code":%q,"deleted":true}`, code), rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/links/"+code, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/links/"+code, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOwnerLinks(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	for i := 0; i < 5; i++ {
		env.create(t, fmt.Sprintf("https://example.com/%d", i), "carol")
	}
	env.create(t, "https://example.com/other", "dave")

	rec := env.do(t, http.MethodGet, "/api/owners/carol/links?page=2&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var page core.LinkPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.Limit)
	assert.Len(t, page.Links, 2)

	rec = env.do(t, http.MethodGet, "/api/owners/nobody/links?page=abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"links":[]`)
}

func TestBatchDelete(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	a := env.create(t, "https://example.com/a", "alice")
	b := env.create(t, "https://example.com/b", "alice")

	rec := env.do(t, http.MethodPost, "/api/links/batch-delete",
		fmt.Sprintf(`{"codes":[%q,%q,%q,"missing1"],"ownerId":"alice"}`, a, b, a))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"requested":4,"deleted":2}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/links/batch-delete", `{"codes":[]}`)
	assert.JSONEq(t, `{"requested":0,"deleted":0}`, rec.Body.String())

	codes := make([]string, core.MaxBatchDeleteCodes+1)
	for i := range codes {
		codes[i] = fmt.Sprintf("code%04d", i)
	}
	body, _ := json.Marshal(batchDeleteRequest{Codes: codes})
	rec = env.do(t, http.MethodPost, "/api/links/batch-delete", string(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "LNK005", decodeError(t, rec).Code)
}

func TestExportImport_RoundTrip(t *testing.T) {
	src := newTestEnv(t, "", Options{})
	for i := 0; i < 12; i++ {
		src.create(t, fmt.Sprintf("https://example.com/page/%d", i), "alice")
	}

	rec := src.do(t, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload core.ExportPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 12, payload.Count)
	assert.False(t, payload.Encrypted)

	dst := newTestEnv(t, "", Options{})
	rec = dst.do(t, http.MethodPost, "/api/import", payload.Content)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result core.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 12, result.Imported)
	assert.Equal(t, "report", result.Format)

	wrapped, _ := json.Marshal(map[string]string{"content": payload.Content})
	rec = dst.do(t, http.MethodPost, "/api/import", string(wrapped))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result = core.BatchResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 12, result.Skipped)
}

func TestExportDownload_EncryptedRoundTrip(t *testing.T) {
	src := newTestEnv(t, testKey, Options{})
	for i := 0; i < 5; i++ {
		src.create(t, fmt.Sprintf("https://example.com/secret/%d", i), "alice")
	}

	rec := src.do(t, http.MethodGet, "/api/export?download=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"shortlinks-export-")
	assert.Equal(t, "5", rec.Header().Get("X-Export-Count"))
	file := rec.Body.String()
	assert.NotContains(t, file, "https://example.com/secret/")

	dst := newTestEnv(t, testKey, Options{})
	rec = dst.do(t, http.MethodPost, "/api/import", file)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var result core.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Encrypted)
	assert.Equal(t, 5, result.Imported)

	nokey := newTestEnv(t, "", Options{})
	rec = nokey.do(t, http.MethodPost, "/api/import", file)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMP004", decodeError(t, rec).Code)
}

func TestImport_Errors(t *testing.T) {
	env := newTestEnv(t, "", Options{MaxImportBytes: 64})

	rec := env.do(t, http.MethodPost, "/api/import", "just some prose")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IMP001", decodeError(t, rec).Code)

	rec = env.do(t, http.MethodPost, "/api/import", strings.Repeat("x", 65))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "IMP003", decodeError(t, rec).Code)
}

func TestImport_PerRecordErrorsAreNotFailures(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	rec := env.do(t, http.MethodPost, "/api/import",
		`{"items":[{"code":"bad code!","target":"https://example.com"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result core.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 1, result.Errors)
	require.Len(t, result.Messages, 1)
	assert.Contains(t, result.Messages[0], "code")
}

func TestImportStatus(t *testing.T) {
	env := newTestEnv(t, "", Options{})
	rec := env.do(t, http.MethodGet, "/api/import/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status core.LimiterStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 0, status.Active)
	assert.Equal(t, status.MaxConcurrent, status.Available)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, "", Options{RateLimit: config.RateLimitConfig{
		Enabled: true, RequestsPerMinute: 2, BulkLimit: 1,
	}})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/import/status", "").Code)
	}
	rec := env.do(t, http.MethodGet, "/api/import/status", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)

	// Bulk routes have their own bucket.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/export", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodGet, "/api/export", "").Code)

	// Health and metrics are never limited.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)
	defer rl.stop()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.allow("1.1.1.1"))
	assert.False(t, rl.allow("1.1.1.1"))
	assert.True(t, rl.allow("2.2.2.2"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.allow("1.1.1.1"))

	now = now.Add(3 * time.Minute)
	rl.evict()
	rl.mu.Lock()
	assert.Empty(t, rl.visitors)
	rl.mu.Unlock()

	rl.stop()
	rl.stop()
}

func TestAuditCarriesRequestMeta(t *testing.T) {
	env := newTestEnv(t, "", Options{TrustedProxies: []string{"10.0.0.0/8"}})

	req := httptest.NewRequest(http.MethodPost, "/api/links", bytes.NewBufferString(`{"target":"https://example.com/x"}`))
	req.RemoteAddr = "10.0.0.5:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.20")
	req.Header.Set("User-Agent", "audit-test/1.0")
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	entries := env.store.AuditEntries()
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, core.ActionLinkCreate, last.Action)
	assert.Equal(t, "198.51.100.20", last.IPAddress)
	assert.Equal(t, "audit-test/1.0", last.UserAgent)
	assert.NotEmpty(t, last.RequestID)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.ValidationError{Field: "target", Message: "bad"}, http.StatusBadRequest},
		{fmt.Errorf("parse: %w", core.ErrNoRecognizedFormat), http.StatusBadRequest},
		{core.ErrDecryptionFailed, http.StatusBadRequest},
		{core.ErrNotFound, http.StatusNotFound},
		{core.ErrCodeConflict, http.StatusConflict},
		{core.ErrDuplicateCode, http.StatusConflict},
		{core.ErrBatchTooLarge, http.StatusRequestEntityTooLarge},
		{core.ErrExportTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge},
		{core.ErrTooManyImports, http.StatusTooManyRequests},
		{fmt.Errorf("find: %w", core.ErrStoreUnavailable), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestUnwrapContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Code: abc", "Code: abc"},
		{"wrapper", `{"content":"Code: abc"}`, "Code: abc"},
		{"encrypted export keeps iv", `{"content":"xyz","iv":"abc"}`, `{"content":"xyz","iv":"abc"}`},
		{"items object", `{"items":[]}`, `{"items":[]}`},
		{"non-string content", `{"content":5}`, `{"content":5}`},
		{"array", `[{"code":"abcd"}]`, `[{"code":"abcd"}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, unwrapContent(tt.in))
		})
	}
}
