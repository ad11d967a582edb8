package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/phishr/phishr/internal/app"
	"github.com/phishr/phishr/internal/logging"
	"github.com/phishr/phishr/internal/model"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	cfg := app.DefaultConfig()
	cfg.ArtifactsDir = t.TempDir()
	cfg.FetcherCfg.Retries = 0
	cfg.FetcherCfg.TaskDelay = 0
	cfg.FetcherCfg.Timeout = 2 * time.Second

	application, err := app.New(cfg, logging.NewTestLogger(false))
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() { application.Close() })

	srv, err := NewServer(Config{ListenAddr: ":0", BatchLimit: 3}, application)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

// pageServer serves a trivial page for the scan handlers to fetch.
func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	ps := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><title>page</title></html>"))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != "ok" {
		t.Errorf("Status = %q, want ok", health.Status)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORS origin header = %q, want *", got)
	}
}

func TestModelEndpointWithoutArtifacts(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/model")
	if err != nil {
		t.Fatalf("GET /api/model: %v", err)
	}
	defer resp.Body.Close()

	var mr ModelResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if mr.Loaded || mr.Model != "" {
		t.Errorf("fresh store reports model %+v, want unloaded", mr)
	}
}

func TestScanEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	ps := pageServer(t)

	resp := postJSON(t, ts.URL+"/api/scan", ScanRequest{URL: ps.URL})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var v model.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode verdict: %v", err)
	}
	if v.State != model.StateScored {
		t.Errorf("State = %q, want scored", v.State)
	}
	if v.URL != ps.URL {
		t.Errorf("URL = %q, want %q", v.URL, ps.URL)
	}
}

func TestScanEndpointRejectsRelativeURL(t *testing.T) {
	_, ts := newTestServer(t)

	for _, raw := range []string{"", "not-a-url", "/relative/path"} {
		resp := postJSON(t, ts.URL+"/api/scan", ScanRequest{URL: raw})
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("scan %q: status = %d, want 400", raw, resp.StatusCode)
		}
	}
}

func TestScanEndpointRejectsBadJSON(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/scan", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestBatchScanEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	ps := pageServer(t)

	resp := postJSON(t, ts.URL+"/api/scan/batch", BatchScanRequest{URLs: []string{ps.URL + "/a", ps.URL + "/b"}})
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var verdicts []*model.Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdicts); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(verdicts) != 2 {
		t.Fatalf("got %d verdicts, want 2", len(verdicts))
	}
}

func TestBatchScanLimits(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/scan/batch", BatchScanRequest{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty batch: status = %d, want 400", resp.StatusCode)
	}

	// BatchLimit is 3 in the test server.
	big := BatchScanRequest{URLs: []string{"http://a/", "http://b/", "http://c/", "http://d/"}}
	resp = postJSON(t, ts.URL+"/api/scan/batch", big)
	resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized batch: status = %d, want 413", resp.StatusCode)
	}
}

func TestOptionsPreflight(t *testing.T) {
	_, ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, ts.URL+"/api/scan", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "POST" {
		t.Errorf("allow-methods = %q, want POST", got)
	}
}

func TestScanWebSocketStreamsProgress(t *testing.T) {
	_, ts := newTestServer(t)
	ps := pageServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scan"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	urls := []string{ps.URL + "/1", ps.URL + "/2"}
	if err := conn.WriteJSON(BatchScanRequest{URLs: urls}); err != nil {
		t.Fatalf("write request frame: %v", err)
	}

	// Progress frames arrive per completion, not necessarily in input order.
	seen := make(map[int]bool)
	frames := 0
	for {
		var ev ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read frame after %d frames: %v", frames, err)
		}
		frames++
		if ev.Done {
			break
		}
		if ev.Index < 0 || ev.Index >= len(urls) || ev.Total != len(urls) {
			t.Fatalf("frame = {Index:%d Total:%d}", ev.Index, ev.Total)
		}
		if seen[ev.Index] {
			t.Fatalf("index %d reported twice", ev.Index)
		}
		seen[ev.Index] = true
		if ev.Verdict == nil || ev.Verdict.URL != urls[ev.Index] {
			t.Errorf("frame for index %d carries verdict %+v, want %q", ev.Index, ev.Verdict, urls[ev.Index])
		}
	}

	if frames != len(urls)+1 {
		t.Fatalf("got %d frames, want %d progress + 1 done", frames, len(urls))
	}
	if len(seen) != len(urls) {
		t.Errorf("progress covered %d of %d URLs", len(seen), len(urls))
	}
}

func TestScanWebSocketRejectsEmptyBatch(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/scan"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(BatchScanRequest{}); err != nil {
		t.Fatalf("write request frame: %v", err)
	}
	var errResp ErrorResponse
	if err := conn.ReadJSON(&errResp); err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	if errResp.Error == "" {
		t.Error("expected an error frame for an empty batch")
	}
}

func TestSwaggerDoc(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/swagger/doc.json")
	if err != nil {
		t.Fatalf("GET /swagger/doc.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		t.Fatalf("doc.json is not JSON: %v", err)
	}
	if _, ok := doc["paths"]; !ok {
		t.Error("doc.json has no paths section")
	}
}
