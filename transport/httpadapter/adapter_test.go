package httpadapter

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/raffel-dev/raffel/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name string `json:"name"`
}

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	registry := core.NewRegistry()
	require.NoError(t, registry.RegisterProcedure("greet", func(ctx *core.Context, payload []byte) ([]byte, error) {
		var in greetInput
		_ = json.Unmarshal(payload, &in)
		out, _ := json.Marshal(map[string]string{"message": "Hello, " + in.Name + "!"})
		return out, nil
	}))
	require.NoError(t, registry.RegisterStream("counter", func(ctx *core.Context, payload []byte) (*core.Stream, error) {
		var in struct {
			Count int `json:"count"`
		}
		_ = json.Unmarshal(payload, &in)
		stream, items := core.NewStream(0)
		go func() {
			defer close(items)
			for i := 1; i <= in.Count; i++ {
				b, _ := json.Marshal(map[string]int{"value": i})
				select {
				case items <- core.StreamItem{Payload: b}:
				case <-stream.Done():
					return
				}
			}
		}()
		return stream, nil
	}))

	router := core.NewRouter(registry, core.NewChain(), slog.Default())
	return New(router, "")
}

func TestAdapter_S1_RESTProcedure(t *testing.T) {
	adapter := newTestAdapter(t)
	srv := httptest.NewServer(adapter.Handler(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/greet", "application/json", strings.NewReader(`{"name":"World"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "Hello, World!", out["message"])
}

func TestAdapter_S2_SSEStream(t *testing.T) {
	adapter := newTestAdapter(t)
	srv := httptest.NewServer(adapter.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/streams/counter?count=3")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	joined := strings.Join(lines, "\n")
	assert.Contains(t, joined, `"value":1`)
	assert.Contains(t, joined, `"value":3`)
	assert.Contains(t, joined, "event: end")
}

func TestAdapter_UnknownProcedure_404(t *testing.T) {
	adapter := newTestAdapter(t)
	srv := httptest.NewServer(adapter.Handler(nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/missing", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdapter_Healthz(t *testing.T) {
	adapter := newTestAdapter(t)
	srv := httptest.NewServer(adapter.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdapter_Readyz_Draining(t *testing.T) {
	adapter := newTestAdapter(t)
	srv := httptest.NewServer(adapter.Handler(func() bool { return false }))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAdapter_RegistryIntrospection(t *testing.T) {
	adapter := newTestAdapter(t)
	srv := httptest.NewServer(adapter.Handler(nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/_registry")
	require.NoError(t, err)
	defer resp.Body.Close()

	var entries []registryEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entries))
	assert.NotEmpty(t, entries)
}
