package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seekhub/knowledge-mcp-server/internal/domain"
	"github.com/seekhub/knowledge-mcp-server/internal/usecases"
)

func newTestServer(t *testing.T, opts ...StreamableHTTPOption) *httptest.Server {
	t.Helper()

	catalog := usecases.NewCatalog()
	catalog.Register(
		&domain.Tool{Name: "query_domain_knowledge", Description: "search the knowledge base"},
		func(ctx context.Context, args map[string]interface{}) *domain.ToolOutcome {
			return &domain.ToolOutcome{
				Success: true,
				Results: []domain.SearchResult{{ID: "doc-1", Title: "Replication", Score: 0.9}},
			}
		},
	)
	dispatcher := usecases.NewDispatcher("test-server", "0.0.1", catalog, nil)

	store := NewSessionStore(time.Minute, 0, nil)
	srv := NewStreamableHTTPServer(store, dispatcher.Dispatch, opts...)

	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		ts.Close()
		store.Close()
	})
	return ts
}

func doRequest(t *testing.T, ts *httptest.Server, method, body string, headers map[string]string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+"/mcp", reader)
	require.NoError(t, err)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func initializeSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"1.0"}}}`,
		nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	id := resp.Header.Get(SessionIDHeader)
	require.NotEmpty(t, id)
	return id
}

func decodeBody(t *testing.T, r io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(r).Decode(&out))
	return out
}

func TestInitializeMintsSession(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{"protocolVersion":"2024-11-05"}}`,
		nil)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, resp.Header.Get(SessionIDHeader), 32)

	body := decodeBody(t, resp.Body)
	assert.Equal(t, "init", body["id"])
	result, ok := body["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, usecases.ProtocolVersion, result["protocolVersion"])
}

func TestRequestWithoutSessionRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExistingSessionReused(t *testing.T) {
	ts := newTestServer(t)
	sessionID := initializeSession(t, ts)

	resp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
		map[string]string{SessionIDHeader: sessionID})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, resp.Header.Get(SessionIDHeader))
}

func TestNotificationOnlyAccepted(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestReplyShapeMatchesInput(t *testing.T) {
	ts := newTestServer(t)
	sessionID := initializeSession(t, ts)

	t.Run("bare object yields bare object", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost,
			`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			map[string]string{SessionIDHeader: sessionID})
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(strings.TrimSpace(string(data)), "{"))
	})

	t.Run("batch yields array in order", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost,
			`[{"jsonrpc":"2.0","id":1,"method":"tools/list"},{"jsonrpc":"2.0","id":2,"method":"tools/list"}]`,
			map[string]string{SessionIDHeader: sessionID})
		defer resp.Body.Close()

		var replies []map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&replies))
		require.Len(t, replies, 2)
		assert.Equal(t, float64(1), replies[0]["id"])
		assert.Equal(t, float64(2), replies[1]["id"])
	})

	t.Run("malformed batch member answered in place", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost,
			`[{"jsonrpc":"2.0","id":1,"method":"tools/list"},{"jsonrpc":"2.0","id":true,"method":"x"}]`,
			map[string]string{SessionIDHeader: sessionID})
		defer resp.Body.Close()

		var replies []map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&replies))
		require.Len(t, replies, 2)
		errObj, ok := replies[1]["error"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(domain.ErrCodeInvalidRequest), errObj["code"])
		assert.Nil(t, replies[1]["id"])
	})
}

func TestParseAndBatchErrors(t *testing.T) {
	ts := newTestServer(t)

	t.Run("invalid JSON", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, `{"jsonrpc":`, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody(t, resp.Body)
		errObj := body["error"].(map[string]interface{})
		assert.Equal(t, float64(domain.ErrCodeParse), errObj["code"])
	})

	t.Run("scalar payload", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, `42`, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody(t, resp.Body)
		errObj := body["error"].(map[string]interface{})
		assert.Equal(t, float64(domain.ErrCodeParse), errObj["code"])
	})

	t.Run("empty batch", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, `[]`, nil)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody(t, resp.Body)
		errObj := body["error"].(map[string]interface{})
		assert.Equal(t, float64(domain.ErrCodeInvalidRequest), errObj["code"])
	})
}

func TestContentNegotiation(t *testing.T) {
	ts := newTestServer(t)

	t.Run("wrong content type", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost, `{}`,
			map[string]string{"Content-Type": "text/plain"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("unacceptable accept header", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost,
			`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
			map[string]string{"Accept": "text/plain"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})
}

func TestPostSSEReply(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":"init","method":"initialize","params":{}}`,
		map[string]string{"Accept": "text/event-stream"})
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(SessionIDHeader))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "id: 0\n")
	assert.Contains(t, body, "event: message\n")
	assert.Contains(t, body, `"protocolVersion"`)
}

func TestPostSSEBatchDispatchesTrailingNotification(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	handler := func(ctx context.Context, msg domain.Message) *domain.JSONRPCResponse {
		mu.Lock()
		if msg.Request != nil {
			seen = append(seen, msg.Request.Method)
		}
		mu.Unlock()
		if msg.Kind == domain.KindRequest {
			return domain.CreateResponse(msg.Request.ID, map[string]string{"ok": "yes"})
		}
		return nil
	}

	store := NewSessionStore(time.Minute, 0, nil)
	defer store.Close()
	ts := httptest.NewServer(NewStreamableHTTPServer(store, handler))
	defer ts.Close()

	resp := doRequest(t, ts, http.MethodPost,
		`[{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}},{"jsonrpc":"2.0","method":"notifications/initialized"}]`,
		map[string]string{"Accept": "text/event-stream"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"id":1`)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"initialize", "notifications/initialized"}, seen)
}

func TestDeleteSession(t *testing.T) {
	ts := newTestServer(t)
	sessionID := initializeSession(t, ts)

	t.Run("missing header", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodDelete, "", nil)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("delete then delete again", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodDelete, "",
			map[string]string{SessionIDHeader: sessionID})
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = doRequest(t, ts, http.MethodDelete, "",
			map[string]string{SessionIDHeader: sessionID})
		resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("deleted session no longer usable", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodPost,
			`{"jsonrpc":"2.0","id":9,"method":"tools/list"}`,
			map[string]string{SessionIDHeader: sessionID})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestOriginValidation(t *testing.T) {
	ts := newTestServer(t, WithAllowedOrigins([]string{
		"https://app.example.com",
		"http://localhost:*",
	}))

	cases := []struct {
		name   string
		origin string
		want   int
	}{
		{"no origin header", "", http.StatusOK},
		{"exact match", "https://app.example.com", http.StatusOK},
		{"prefix wildcard", "http://localhost:3000", http.StatusOK},
		{"mismatch", "https://evil.example.com", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.origin != "" {
				headers["Origin"] = tc.origin
			}
			resp := doRequest(t, ts, http.MethodPost,
				`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`, headers)
			defer resp.Body.Close()
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}

	t.Run("mismatch rejected on every verb", func(t *testing.T) {
		headers := map[string]string{"Origin": "https://evil.example.com"}
		for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodOptions} {
			resp := doRequest(t, ts, method, "", headers)
			resp.Body.Close()
			assert.Equal(t, http.StatusForbidden, resp.StatusCode, method)
		}
	})
}

func TestOptionsPreflight(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodOptions, "",
		map[string]string{"Origin": "https://app.example.com"})
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), SessionIDHeader)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t)

	resp := doRequest(t, ts, http.MethodPut, "{}", nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", resp.Header.Get("Allow"))
}

func TestUnknownPath(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/other")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetStream(t *testing.T) {
	ts := newTestServer(t)

	t.Run("requires event-stream accept", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodGet, "",
			map[string]string{"Accept": "application/json"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotAcceptable, resp.StatusCode)
	})

	t.Run("requires valid session", func(t *testing.T) {
		resp := doRequest(t, ts, http.MethodGet, "",
			map[string]string{"Accept": "text/event-stream"})
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("connected event then server push", func(t *testing.T) {
		sessionID := initializeSession(t, ts)

		req, err := http.NewRequest(http.MethodGet, ts.URL+"/mcp", nil)
		require.NoError(t, err)
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set(SessionIDHeader, sessionID)

		resp, err := ts.Client().Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		br := bufio.NewReader(resp.Body)
		event := readSSEEvent(t, br)
		assert.Equal(t, "connected", event["event"])
		assert.Contains(t, event["data"], sessionID)
	})
}

// readSSEEvent reads one event's fields up to the blank-line terminator.
func readSSEEvent(t *testing.T, br *bufio.Reader) map[string]string {
	t.Helper()
	fields := map[string]string{}
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return fields
		}
		parts := strings.SplitN(line, ": ", 2)
		require.Len(t, parts, 2, "unexpected SSE line %q", line)
		fields[parts[0]] = parts[1]
	}
}

func TestFullToolCallFlow(t *testing.T) {
	ts := newTestServer(t)
	sessionID := initializeSession(t, ts)

	listResp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
		map[string]string{SessionIDHeader: sessionID})
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	listBody := decodeBody(t, listResp.Body)
	tools := listBody["result"].(map[string]interface{})["tools"].([]interface{})
	require.Len(t, tools, 1)

	callResp := doRequest(t, ts, http.MethodPost,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"query_domain_knowledge","arguments":{"query":"replication"}}}`,
		map[string]string{SessionIDHeader: sessionID})
	defer callResp.Body.Close()
	require.Equal(t, http.StatusOK, callResp.StatusCode)

	callBody := decodeBody(t, callResp.Body)
	result := callBody["result"].(map[string]interface{})
	assert.NotEqual(t, true, result["isError"])
	content := result["content"].([]interface{})
	require.Len(t, content, 1)
	text := content[0].(map[string]interface{})["text"].(string)
	assert.Contains(t, text, "doc-1")
}
