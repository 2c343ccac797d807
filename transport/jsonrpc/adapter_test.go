package jsonrpc

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/raffel-dev/raffel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T, logCalls *int64) *Adapter {
	t.Helper()
	registry := core.NewRegistry()
	require.NoError(t, registry.RegisterProcedure("greet", func(ctx *core.Context, payload []byte) ([]byte, error) {
		var in struct {
			Name string `json:"name"`
		}
		_ = json.Unmarshal(payload, &in)
		out, _ := json.Marshal(map[string]string{"message": "Hello, " + in.Name + "!"})
		return out, nil
	}))
	require.NoError(t, registry.RegisterEvent("log", func(ctx *core.Context, payload []byte) error {
		atomic.AddInt64(logCalls, 1)
		return nil
	}))

	router := core.NewRouter(registry, core.NewChain(), slog.Default())
	return New(router)
}

func TestAdapter_S3_Batch(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	body := `[
		{"jsonrpc":"2.0","method":"greet","params":{"name":"Alice"},"id":1},
		{"jsonrpc":"2.0","method":"log"},
		{"jsonrpc":"2.0","method":"greet","params":{"name":"Bob"},"id":2}
	]`

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var responses []response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&responses))
	assert.Len(t, responses, 2)

	ids := []string{string(responses[0].ID), string(responses[1].ID)}
	assert.ElementsMatch(t, []string{"1", "2"}, ids)
	assert.EqualValues(t, 1, atomic.LoadInt64(&logCalls))
}

func TestAdapter_EmptyBatch_Invalid(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var errResp response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotNil(t, errResp.Error)
	assert.Equal(t, -32600, errResp.Error.Code)
}

func TestAdapter_NotificationOnlyBatch_204(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`[{"jsonrpc":"2.0","method":"log"}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAdapter_InvalidJSONRPCVersion(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`{"jsonrpc":"1.0","method":"greet","id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var errResp response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotNil(t, errResp.Error)
	assert.Equal(t, -32600, errResp.Error.Code)
}

func TestAdapter_WrongMethod_405(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAdapter_WrongContentType_415(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "text/plain", strings.NewReader(`{"jsonrpc":"2.0","method":"greet","id":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	var errResp response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotNil(t, errResp.Error)
}

func TestAdapter_ParseError(t *testing.T) {
	var logCalls int64
	adapter := newTestAdapter(t, &logCalls)
	srv := httptest.NewServer(adapter)
	defer srv.Close()

	resp, err := http.Post(srv.URL, "application/json", strings.NewReader(`not json`))
	require.NoError(t, err)
	defer resp.Body.Close()

	var errResp response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	require.NotNil(t, errResp.Error)
	assert.Equal(t, -32700, errResp.Error.Code)
}
