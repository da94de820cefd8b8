package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"sonara/internal/config"
	"sonara/internal/jobs"
	"sonara/internal/observability"
	"sonara/internal/playback"
	"sonara/internal/protocol"
	"sonara/internal/store"
	"sonara/internal/tts"
)

type fixture struct {
	st       *store.InMemoryStore
	mock     *tts.MockClient
	registry *jobs.Registry
	hub      *Hub
	server   *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Config{AllowAnyOrigin: true}
	st := store.NewInMemoryStore()
	mock := tts.NewMockClient([]byte(strings.Repeat("x", 64)))
	registry := jobs.NewRegistry()
	logs := jobs.NewLogStore(st)
	hub := NewHub()
	metrics := observability.NewMetrics("test_httpapi_" + time.Now().Format("150405000000000"))

	runner := jobs.NewRunner(jobs.Config{InterChunkDelay: time.Millisecond},
		func(string) tts.Client { return mock },
		registry, logs, st, nil, metrics, hub)
	coordinator := playback.NewCoordinator(nil, st.LoadAudio, hub)
	t.Cleanup(coordinator.Close)

	srv := New(cfg, runner, logs, st, coordinator, hub, metrics)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &fixture{st: st, mock: mock, registry: registry, hub: hub, server: ts}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	doc := store.Document{
		Bookmarks: []store.Bookmark{{
			ID:               "job-1",
			Title:            "Article",
			ExtractedContent: "A short article body.",
		}},
		Settings: store.Settings{OpenAIAPIKey: "sk-test", OpenAIVoice: "coral"},
	}
	if err := f.st.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func postJSON(t *testing.T, url string, body any) (*http.Response, protocol.Response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	res, err := http.Post(url, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer res.Body.Close()
	var parsed protocol.Response
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res, parsed
}

func TestHealthAndReady(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(f.server.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d", path, res.StatusCode)
		}
	}
}

func TestGenerateJobHTTP(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, parsed := postJSON(t, f.server.URL+"/v1/audio/jobs", map[string]string{"jobId": "job-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !parsed.OK || !parsed.Completed || parsed.JobID != "job-1" {
		t.Fatalf("response = %+v", parsed)
	}

	// The payload is downloadable afterwards.
	audioRes, err := http.Get(f.server.URL + "/v1/audio/jobs/job-1/audio")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer audioRes.Body.Close()
	if audioRes.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", audioRes.StatusCode)
	}
	if ct := audioRes.Header.Get("Content-Type"); ct != "audio/mpeg" {
		t.Fatalf("content type = %q", ct)
	}
	data, _ := io.ReadAll(audioRes.Body)
	if len(data) != 64 {
		t.Fatalf("payload = %d bytes", len(data))
	}
}

func TestGenerateJobErrors(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, _ := postJSON(t, f.server.URL+"/v1/audio/jobs", map[string]string{"jobId": "missing"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown bookmark status = %d", res.StatusCode)
	}

	f.registry.Admit("job-1")
	res, _ = postJSON(t, f.server.URL+"/v1/audio/jobs", map[string]string{"jobId": "job-1"})
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate job status = %d", res.StatusCode)
	}
	f.registry.Release("job-1")

	res, _ = postJSON(t, f.server.URL+"/v1/audio/jobs", map[string]string{})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing jobId status = %d", res.StatusCode)
	}
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t)

	res, err := http.Post(f.server.URL+"/v1/audio/jobs/job-1/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("cancel of idle job status = %d", res.StatusCode)
	}

	f.registry.Admit("job-1")
	res, err = http.Post(f.server.URL+"/v1/audio/jobs/job-1/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d", res.StatusCode)
	}
	if !f.registry.Cancelled("job-1") {
		t.Fatalf("cancellation flag not set")
	}
}

func TestLogsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	postJSON(t, f.server.URL+"/v1/audio/jobs", map[string]string{"jobId": "job-1"})

	res, err := http.Get(f.server.URL + "/v1/audio/logs?jobId=job-1")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	defer res.Body.Close()
	var parsed struct {
		Logs []store.JobLogEntry `json:"logs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(parsed.Logs) == 0 {
		t.Fatalf("no log entries returned")
	}
	if parsed.Logs[0].Status != "success" {
		t.Fatalf("newest entry = %q", parsed.Logs[0].Status)
	}
}

func TestVoicesEndpoint(t *testing.T) {
	f := newFixture(t)
	res, err := http.Get(f.server.URL + "/v1/voices")
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	defer res.Body.Close()
	var parsed struct {
		Voices  []string `json:"voices"`
		Default string   `json:"default"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if parsed.Default != tts.DefaultVoice {
		t.Fatalf("default voice = %q", parsed.Default)
	}
	if len(parsed.Voices) == 0 {
		t.Fatalf("empty voice list")
	}
}

func TestPlaybackEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	postJSON(t, f.server.URL+"/v1/audio/jobs", map[string]string{"jobId": "job-1"})

	res, parsed := postJSON(t, f.server.URL+"/v1/playback/load", map[string]any{"jobId": "job-1"})
	if res.StatusCode != http.StatusOK || !parsed.OK {
		t.Fatalf("load: status=%d resp=%+v", res.StatusCode, parsed)
	}
	if parsed.State == nil || parsed.State.LoadedJobID != "job-1" {
		t.Fatalf("load state = %+v", parsed.State)
	}

	res, parsed = postJSON(t, f.server.URL+"/v1/playback/play", map[string]any{"jobId": "job-1"})
	if res.StatusCode != http.StatusOK || parsed.State == nil || !parsed.State.Playing {
		t.Fatalf("play: status=%d resp=%+v", res.StatusCode, parsed)
	}

	res, parsed = postJSON(t, f.server.URL+"/v1/playback/rate", map[string]any{"rate": 9.0})
	if res.StatusCode != http.StatusOK || parsed.State.PlaybackRate != 2.0 {
		t.Fatalf("rate: status=%d resp=%+v", res.StatusCode, parsed)
	}

	res, parsed = postJSON(t, f.server.URL+"/v1/playback/volume", map[string]any{"volume": 1.5})
	if res.StatusCode != http.StatusOK || parsed.State.Volume != 1.0 {
		t.Fatalf("volume: status=%d resp=%+v", res.StatusCode, parsed)
	}

	stateRes, err := http.Get(f.server.URL + "/v1/playback/state")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	defer stateRes.Body.Close()
	var stateParsed protocol.Response
	if err := json.NewDecoder(stateRes.Body).Decode(&stateParsed); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if stateParsed.State == nil || stateParsed.State.LoadedJobID != "job-1" {
		t.Fatalf("state = %+v", stateParsed.State)
	}

	res, parsed = postJSON(t, f.server.URL+"/v1/playback/stop", nil)
	if res.StatusCode != http.StatusOK || parsed.State.Playing {
		t.Fatalf("stop: status=%d resp=%+v", res.StatusCode, parsed)
	}
	if parsed.State.LoadedJobID != "" {
		t.Fatalf("stop must release the track: %+v", parsed.State)
	}
}

func TestPlaybackLoadMissingAudio(t *testing.T) {
	f := newFixture(t)
	res, _ := postJSON(t, f.server.URL+"/v1/playback/load", map[string]any{"jobId": "nope"})
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", res.StatusCode)
	}
}

func TestObserverWebSocket(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "GENERATE_AUDIO", "jobId": "job-1"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The job completion response and the AUDIO_READY broadcast both arrive
	// on this connection, in either order.
	var sawResponse, sawReady bool
	deadline := time.Now().Add(5 * time.Second)
	for !(sawResponse && sawReady) {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read (response=%v ready=%v): %v", sawResponse, sawReady, err)
		}
		var generic map[string]any
		if err := json.Unmarshal(raw, &generic); err != nil {
			t.Fatalf("decode: %v", err)
		}
		switch {
		case generic["type"] == "AUDIO_READY":
			sawReady = true
		case generic["ok"] == true && generic["completed"] == true:
			sawResponse = true
		}
	}

	// Invalid message gets an error envelope back.
	if err := conn.WriteJSON(map[string]string{"type": "GENERATE_AUDIO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var errResp protocol.Response
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&errResp); err != nil {
		t.Fatalf("read error response: %v", err)
	}
	if errResp.OK || errResp.Error == "" {
		t.Fatalf("expected error response, got %+v", errResp)
	}
}

func TestObserverWebSocketStateQuery(t *testing.T) {
	f := newFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "GET_AUDIO_STATE"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp protocol.Response
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !resp.OK || resp.State == nil {
		t.Fatalf("response = %+v", resp)
	}
	if resp.State.LoadedJobID != "" {
		t.Fatalf("expected nothing loaded, got %+v", resp.State)
	}
}
