package handlers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/qdash-dev/copilot/internal/sse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upstreamCall struct {
	path   string
	header http.Header
	body   string
}

func newRelayApp(upstream string) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	NewRelayHandler(upstream).Register(app)
	return app
}

// serveApp runs app on a real listener so responses can be read while they
// are still being written.
func serveApp(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func TestRelayPassesErrorsThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"detail":"calibration database unavailable"}`)
	}))
	defer upstream.Close()

	app := newRelayApp(upstream.URL)
	req := httptest.NewRequest("POST", AnalyzeStreamPath, strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "500 Internal Server Error", resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, `{"detail":"calibration database unavailable"}`, string(body))
}

func TestRelayKeepsUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Not authenticated"}`)
	}))
	defer upstream.Close()

	resp, err := newRelayApp(upstream.URL).Test(httptest.NewRequest("POST", ChatStreamPath, strings.NewReader(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestRelayForwardsBodyAndSelectedHeaders(t *testing.T) {
	calls := make(chan upstreamCall, 2)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls <- upstreamCall{path: r.URL.Path, header: r.Header.Clone(), body: string(body)}
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: result\ndata: {\"explanation\":\"ok\"}\n\n")
	}))
	defer upstream.Close()

	app := newRelayApp(upstream.URL + "/")
	payload := `{"message":"T1 trend for Q3?","session_id":"s1","history":[],"context":{"qid":"3"}}`

	req := httptest.NewRequest("POST", ChatStreamPath, strings.NewReader(payload))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer jwt")
	req.Header.Set("X-Username", "alice")
	req.Header.Set("X-Project-Id", "proj-9")
	req.Header.Set("X-Request-Id", "req-1")
	req.Header.Set("Cookie", "access_token=jwt")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache, no-transform", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "no", resp.Header.Get("X-Accel-Buffering"))

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "event: result\ndata: {\"explanation\":\"ok\"}\n\n", string(body))

	call := <-calls
	assert.Equal(t, UpstreamChatPath, call.path)
	assert.Equal(t, payload, call.body)
	assert.Equal(t, "application/json", call.header.Get("Content-Type"))
	assert.Equal(t, "Bearer jwt", call.header.Get("Authorization"))
	assert.Equal(t, "alice", call.header.Get("X-Username"))
	assert.Equal(t, "proj-9", call.header.Get("X-Project-Id"))
	assert.Empty(t, call.header.Get("Cookie"))
	assert.Empty(t, call.header.Get("X-Request-Id"))
}

func TestRelayOmitsAbsentHeaders(t *testing.T) {
	calls := make(chan upstreamCall, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls <- upstreamCall{path: r.URL.Path, header: r.Header.Clone()}
	}))
	defer upstream.Close()

	resp, err := newRelayApp(upstream.URL).Test(httptest.NewRequest("POST", AnalyzeStreamPath, strings.NewReader(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	call := <-calls
	assert.Equal(t, UpstreamAnalyzePath, call.path)
	_, hasAuth := call.header["Authorization"]
	_, hasUser := call.header["X-Username"]
	_, hasProject := call.header["X-Project-Id"]
	assert.False(t, hasAuth)
	assert.False(t, hasUser)
	assert.False(t, hasProject)
}

func TestRelayUnreachableUpstream(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	url := upstream.URL
	upstream.Close()

	resp, err := newRelayApp(url).Test(httptest.NewRequest("POST", AnalyzeStreamPath, strings.NewReader(`{}`)))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"detail":"copilot upstream unreachable`)
}

func TestRelayAbortsUpstreamWhenContextEnds(t *testing.T) {
	started := make(chan struct{})
	aborted := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
		close(aborted)
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	NewRelayHandler(upstream.URL).WithContext(ctx).Register(app)

	go func() {
		<-started
		cancel()
	}()

	resp, err := app.Test(httptest.NewRequest("POST", ChatStreamPath, strings.NewReader(`{}`)), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	select {
	case <-aborted:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream call kept running")
	}
}

func TestRelayRejectsGet(t *testing.T) {
	resp, err := newRelayApp("http://127.0.0.1:1").Test(httptest.NewRequest("GET", AnalyzeStreamPath, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusMethodNotAllowed, resp.StatusCode)
}

func TestRelayStreamsFramesAsTheyArrive(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: status\ndata: {\"message\":\"step 1\"}\n\n")
		w.(http.Flusher).Flush()

		select {
		case <-release:
		case <-time.After(5 * time.Second):
			return
		}
		_, _ = io.WriteString(w, "event: result\ndata: {\"explanation\":\"done\"}\n\n")
	}))
	defer upstream.Close()

	base := serveApp(t, newRelayApp(upstream.URL))

	resp, err := http.Post(base+AnalyzeStreamPath, "application/json", strings.NewReader(`{"message":"go"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	dec := sse.NewDecoder(resp.Body)

	first := make(chan sse.Event, 1)
	go func() {
		ev, err := dec.Next()
		if err == nil {
			first <- ev
		}
		close(first)
	}()

	select {
	case ev, ok := <-first:
		require.True(t, ok, "stream ended before the first frame")
		assert.Equal(t, sse.Event{Event: "status", Data: `{"message":"step 1"}`}, ev)
	case <-time.After(3 * time.Second):
		t.Fatal("first frame was held back until the upstream finished")
	}

	close(release)
	ev, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "result", ev.Event)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPipeFlushesEveryChunk(t *testing.T) {
	var sink strings.Builder
	w := bufio.NewWriterSize(&sink, 1<<16)

	n, err := pipe(w, strings.NewReader("event: a\ndata: 1\n\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 18, n)
	assert.Equal(t, "event: a\ndata: 1\n\n", sink.String(), "nothing left in the buffer")
}

func TestHealth(t *testing.T) {
	app := fiber.New()
	app.Get("/health", NewHealthHandler("http://upstream:2004").Health)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.Contains(t, string(body), `"upstream":"http://upstream:2004"`)
}

func TestAccessLoggerSamplesPaths(t *testing.T) {
	var out strings.Builder
	app := fiber.New()
	app.Use(AccessLogger(AccessLogConfig{
		Output:  &out,
		Sampled: map[string]uint64{"/health": 3},
	}))
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/other", func(c *fiber.Ctx) error { return c.SendString("ok") })

	for i := 0; i < 7; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/health", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
	assert.Equal(t, 2, strings.Count(out.String(), "[sampled: 3 calls]"))

	_, err := app.Test(httptest.NewRequest("GET", "/other", nil))
	require.NoError(t, err)
	assert.Contains(t, out.String(), "/other")
}

func TestMockUpstream(t *testing.T) {
	app := fiber.New()
	NewMockUpstreamHandler(0, false).Register(app)

	post := func(path, body string) *http.Response {
		req := httptest.NewRequest("POST", path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp
	}

	t.Run("analyze answers with blocks", func(t *testing.T) {
		resp := post(UpstreamAnalyzePath, `{"message":"summarize","context":{"qid":"4"}}`)
		require.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

		body, _ := io.ReadAll(resp.Body)
		events, rest := sse.Parse(string(body))
		assert.Empty(t, rest)
		require.NotEmpty(t, events)

		last := events[len(events)-1]
		assert.Equal(t, "result", last.Event)
		assert.Contains(t, last.Data, `"blocks"`)
		for _, ev := range events[:len(events)-1] {
			assert.Equal(t, "status", ev.Event)
		}
		assert.Contains(t, events[len(events)-2].Data, `"completed_tools":["get_chip_summary","get_qubit_params"]`)
	})

	t.Run("chat answers with an explanation", func(t *testing.T) {
		resp := post(UpstreamChatPath, `{"message":"hello","history":[{"role":"user","content":"x"}]}`)
		body, _ := io.ReadAll(resp.Body)
		events, _ := sse.Parse(string(body))
		require.NotEmpty(t, events)
		assert.Equal(t, `{"explanation":"You asked: hello (following 1 earlier messages)"}`, events[len(events)-1].Data)
	})

	t.Run("error command", func(t *testing.T) {
		resp := post(UpstreamChatPath, `{"message":"/error please"}`)
		body, _ := io.ReadAll(resp.Body)
		events, _ := sse.Parse(string(body))
		require.NotEmpty(t, events)
		assert.Equal(t, sse.Event{Event: "error", Data: `{"detail":"mock analysis error"}`}, events[len(events)-1])
	})

	t.Run("fail command", func(t *testing.T) {
		resp := post(UpstreamChatPath, `{"message":"/fail"}`)
		assert.Equal(t, 500, resp.StatusCode)
	})

	t.Run("empty message", func(t *testing.T) {
		resp := post(UpstreamChatPath, `{"message":"  "}`)
		assert.Equal(t, fiber.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("auth required", func(t *testing.T) {
		strict := fiber.New()
		NewMockUpstreamHandler(0, true).Register(strict)
		req := httptest.NewRequest("POST", UpstreamChatPath, strings.NewReader(`{"message":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := strict.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 401, resp.StatusCode)

		req = httptest.NewRequest("POST", UpstreamChatPath, strings.NewReader(`{"message":"hi"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", "jwt"))
		resp, err = strict.Test(req)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	})
}
