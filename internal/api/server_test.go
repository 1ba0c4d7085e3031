package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dot-do/functions-sub012/internal/backend"
	"github.com/dot-do/functions-sub012/internal/engine"
	"github.com/dot-do/functions-sub012/internal/model"
	"github.com/dot-do/functions-sub012/internal/store"
)

// testServer bundles a fully wired server over an in-memory store with its
// HTTP listener.
type testServer struct {
	ts     *httptest.Server
	engine *engine.Engine
	human  *backend.HumanBackend
}

func newTestServer(t *testing.T, cfg engine.Config, run backend.RunnerFunc) *testServer {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	reg := backend.NewRegistry()
	reg.Register(model.FlavorScript, backend.NewScriptBackend(run))
	human := backend.NewHumanBackend()
	reg.Register(model.FlavorHuman, human)

	eng := engine.NewEngine(cfg, reg, db, logger)
	srv := NewServer(":0", db, reg, eng, human, time.Second, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{ts: ts, engine: eng, human: human}
}

func defaultConfig() engine.Config {
	return engine.Config{
		MaxConcurrent:   2,
		MaxQueue:        2,
		DefaultCacheTTL: time.Minute,
		Retry:           engine.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
	}
}

func (s *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	resp, err := http.Post(s.ts.URL+path, "application/json", &buf)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (s *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(s.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func (s *testServer) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, s.ts.URL+path, nil)
	if err != nil {
		t.Fatalf("build DELETE %s: %v", path, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func executeBody(functionID string, payload string) map[string]any {
	return map[string]any{
		"function_id": functionID,
		"flavor":      model.FlavorScript,
		"payload":     json.RawMessage(payload),
	}
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	health := decodeJSON[map[string]string](t, resp)
	if health["status"] != "ok" {
		t.Errorf("status field = %q", health["status"])
	}
	if health["state"] != "cold" {
		t.Errorf("state field = %q, want cold before any execution", health["state"])
	}
}

func TestExecuteEndpoint(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.post(t, "/v1/executions", executeBody("fn-1", `{"n":42}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	result := decodeJSON[model.Result](t, resp)
	if result.Status != model.StatusCompleted {
		t.Fatalf("result status = %q, error = %+v", result.Status, result.Error)
	}
	if string(result.Output) != `{"n":42}` {
		t.Errorf("output = %s", result.Output)
	}

	// The execution was persisted and is retrievable by ID.
	resp = s.get(t, "/v1/executions/"+result.ExecutionID)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get execution status = %d", resp.StatusCode)
	}
	exec := decodeJSON[model.Execution](t, resp)
	if exec.ID != result.ExecutionID || exec.Status != model.StatusCompleted {
		t.Errorf("persisted execution = %+v", exec)
	}
	if exec.FunctionID != "fn-1" {
		t.Errorf("persisted function ID = %q", exec.FunctionID)
	}
}

func TestExecuteRejectsBadRequests(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	// Malformed JSON.
	resp, err := http.Post(s.ts.URL+"/v1/executions", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed JSON status = %d, want 400", resp.StatusCode)
	}

	// Missing function_id.
	resp = s.post(t, "/v1/executions", map[string]any{"flavor": model.FlavorScript})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing function_id status = %d, want 400", resp.StatusCode)
	}

	// Unknown flavor.
	resp = s.post(t, "/v1/executions", map[string]any{"function_id": "fn-1", "flavor": "nope"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown flavor status = %d, want 400", resp.StatusCode)
	}
}

func TestExecuteCapacityMapsTo429(t *testing.T) {
	release := make(chan struct{})
	run := func(ctx context.Context, payload []byte, _ string) ([]byte, error) {
		select {
		case <-release:
			return payload, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	cfg := defaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxQueue = 0
	s := newTestServer(t, cfg, run)

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		body, _ := json.Marshal(executeBody("fn-1", `1`))
		resp, err := http.Post(s.ts.URL+"/v1/executions", "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && s.engine.State().ActiveExecutions == 0 {
		time.Sleep(time.Millisecond)
	}

	resp := s.post(t, "/v1/executions", executeBody("fn-2", `2`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
	result := decodeJSON[model.Result](t, resp)
	if result.Error == nil || result.Error.Name != "CapacityError" {
		t.Errorf("error = %+v, want CapacityError", result.Error)
	}

	close(release)
	<-firstDone
}

func TestListExecutions(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	for i := 0; i < 3; i++ {
		resp := s.post(t, "/v1/executions", executeBody(fmt.Sprintf("fn-%d", i), `{}`))
		resp.Body.Close()
	}

	resp := s.get(t, "/v1/executions?limit=2")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	list := decodeJSON[listExecutionsResponse](t, resp)
	if list.Total != 3 {
		t.Errorf("total = %d, want 3", list.Total)
	}
	if len(list.Executions) != 2 {
		t.Errorf("page size = %d, want 2", len(list.Executions))
	}
	if list.Limit != 2 || list.Offset != 0 {
		t.Errorf("pagination echo = limit %d offset %d", list.Limit, list.Offset)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.get(t, "/v1/executions/no-such-id")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAbortExecutionNotActive(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.delete(t, "/v1/executions/no-such-id")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.post(t, "/v1/executions", executeBody("fn-1", `{}`))
	resp.Body.Close()

	resp = s.get(t, "/v1/state")
	state := decodeJSON[engine.State](t, resp)
	if state.State != "warm" || !state.IsWarm {
		t.Errorf("state = %+v, want warm after an execution", state)
	}
	if len(state.LoadedFunctions) != 1 || state.LoadedFunctions[0] != "fn-1" {
		t.Errorf("loaded functions = %v", state.LoadedFunctions)
	}
}

func TestBackendsEndpoint(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.get(t, "/v1/backends")
	infos := decodeJSON[[]backend.Info](t, resp)
	if len(infos) != 2 {
		t.Fatalf("backends = %d, want 2", len(infos))
	}
	// Sorted by flavor: human before script.
	if infos[0].Flavor != model.FlavorHuman || infos[1].Flavor != model.FlavorScript {
		t.Errorf("backend order = [%s %s]", infos[0].Flavor, infos[1].Flavor)
	}
}

func TestCacheEndpoints(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	body := executeBody("fn-1", `{"x":1}`)
	body["cache"] = map[string]any{"enabled": true}
	resp := s.post(t, "/v1/executions", body)
	resp.Body.Close()
	resp = s.post(t, "/v1/executions", body)
	result := decodeJSON[model.Result](t, resp)
	if !result.Metrics.CacheHit {
		t.Fatalf("second identical request missed the cache")
	}

	resp = s.get(t, "/v1/cache/stats")
	stats := decodeJSON[map[string]any](t, resp)
	if stats["hits"].(float64) != 1 {
		t.Errorf("cache stats = %v, want 1 hit", stats)
	}

	resp = s.delete(t, "/v1/cache")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("purge status = %d", resp.StatusCode)
	}

	// After the purge the same request misses again.
	resp = s.post(t, "/v1/executions", body)
	result = decodeJSON[model.Result](t, resp)
	if result.Metrics.CacheHit {
		t.Errorf("request after purge hit the cache")
	}
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.post(t, "/v1/executions", executeBody("fn-1", `{}`))
	resp.Body.Close()

	resp = s.get(t, "/v1/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	stats := decodeJSON[statsResponse](t, resp)
	if stats.Total != 1 {
		t.Errorf("total = %d, want 1", stats.Total)
	}
	if stats.ByFlavor[model.FlavorScript] != 1 {
		t.Errorf("by_flavor = %v", stats.ByFlavor)
	}
}

func TestDrainEndpoint(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.post(t, "/v1/drain", map[string]any{"timeout_ms": 100})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	summary := decodeJSON[engine.DrainSummary](t, resp)
	if !summary.Drained || summary.ActiveExecutionsAborted != 0 || summary.QueuedExecutionsDropped != 0 {
		t.Errorf("summary = %+v, want clean drain of idle engine", summary)
	}

	// The drained instance refuses new work with 503.
	resp = s.post(t, "/v1/executions", executeBody("fn-1", `{}`))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("post-drain status = %d, want 503", resp.StatusCode)
	}
}

func TestTaskEndpoints(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	execDone := make(chan *backend.Response, 1)
	go func() {
		resp, _ := s.human.Execute(context.Background(), &model.Request{
			FunctionID: "fn-approval",
			Flavor:     model.FlavorHuman,
			Payload:    []byte("sign off"),
		})
		execDone <- resp
	}()

	var tasks []*backend.Task
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		resp := s.get(t, "/v1/tasks")
		tasks = decodeJSON[[]*backend.Task](t, resp)
		if len(tasks) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if len(tasks) != 1 {
		t.Fatalf("pending tasks = %d, want 1", len(tasks))
	}

	resp := s.post(t, "/v1/tasks/"+tasks[0].ID+"/resolve", map[string]any{
		"output": json.RawMessage(`"approved"`),
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d", resp.StatusCode)
	}

	human := <-execDone
	if human == nil || string(human.Output) != `"approved"` {
		t.Errorf("human execution output = %+v", human)
	}

	// Unknown task IDs are 404s.
	resp = s.post(t, "/v1/tasks/no-such-task/reject", map[string]any{"reason": "x"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reject unknown task status = %d, want 404", resp.StatusCode)
	}
}

func TestEventsEndpointFinishedExecution(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.post(t, "/v1/executions", executeBody("fn-1", `{}`))
	result := decodeJSON[model.Result](t, resp)

	// A finished execution's stream closes immediately with a done event.
	resp = s.get(t, "/v1/executions/"+result.ExecutionID+"/events")
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if !strings.Contains(string(body), "event: done") {
		t.Errorf("stream = %q, missing done event", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, defaultConfig(), nil)

	resp := s.post(t, "/v1/executions", executeBody("fn-1", `{}`))
	resp.Body.Close()

	resp = s.get(t, "/metrics")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "functiond_executions_total") {
		t.Errorf("metrics output missing execution counter")
	}
}
