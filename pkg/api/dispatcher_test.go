package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pilot/pkg/config"
	"github.com/openfroyo/pilot/pkg/engine"
	"github.com/openfroyo/pilot/pkg/orchestrator"
	"github.com/openfroyo/pilot/pkg/policy"
	"github.com/openfroyo/pilot/pkg/stores"
	"github.com/openfroyo/pilot/pkg/telemetry"
)

const brokenTemplate = `
template: {
	name: "broken"
	steps: [
		{name: "first", script: "emit('starting')"},
		{name: "explode", depends_on: ["first"], script: "fail('boom')"},
	]
}
`

const spinTemplate = `
template: {
	name: "spin"
	steps: [
		{name: "warm", script: "emit('warming up')"},
		{name: "spin", depends_on: ["warm"], script: """
			def spin():
			    n = 0
			    for i in range(1000000000):
			        n += i
			    return n
			spin()
			"""},
	]
}
`

type harness struct {
	t       *testing.T
	store   *stores.SQLiteStore
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	store, err := stores.NewSQLiteStore(stores.Config{Path: filepath.Join(dir, "pilot.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	tmplDir := filepath.Join(dir, "templates")
	if err := os.Mkdir(tmplDir, 0o755); err != nil {
		t.Fatalf("failed to create template dir: %v", err)
	}
	for file, src := range map[string]string{"broken.cue": brokenTemplate, "spin.cue": spinTemplate} {
		if err := os.WriteFile(filepath.Join(tmplDir, file), []byte(src), 0o600); err != nil {
			t.Fatalf("failed to write template: %v", err)
		}
	}
	templates, err := config.NewTemplates(config.TemplatesConfig{Dir: tmplDir, Default: config.DefaultTemplate}, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to load templates: %v", err)
	}

	tel := telemetry.NewNopTelemetry()
	metrics, err := telemetry.NewMetrics(telemetry.DefaultConfig().Metrics)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	tel.Metrics = metrics

	admitter, err := policy.NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	lc := engine.NewLifecycle(store, orchestrator.NewRunner(tel), templates, tel, engine.WithAdmitter(admitter))
	cfg := config.Default()
	d := NewDispatcher(engine.NewBridge(tel), lc, cfg, tel)
	srv := NewServer(cfg.Server, d, tel, ReadinessCheck{Name: "store", Check: store.HealthCheck})

	return &harness{t: t, store: store, handler: srv.Handler()}
}

func (h *harness) do(method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	h.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			h.t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func (h *harness) create(name, template string) string {
	h.t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name, "template": template})
	rec, _ := h.do(http.MethodPost, "/api/start_project", string(body))
	if rec.Code != http.StatusOK {
		h.t.Fatalf("create %s: status %d: %s", name, rec.Code, rec.Body.String())
	}

	_, list := h.do(http.MethodGet, "/api/list_projects", "")
	for _, p := range list["projects"].([]interface{}) {
		project := p.(map[string]interface{})
		if project["name"] == name {
			return project["id"].(string)
		}
	}
	h.t.Fatalf("project %s not listed", name)
	return ""
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(http.MethodPost, "/api/start_project", `{"name":"demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start_project status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["output"] != "Project 'demo' created successfully" {
		t.Errorf("output = %q", body["output"])
	}

	rec, body = h.do(http.MethodGet, "/api/list_projects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list_projects status = %d", rec.Code)
	}
	projects := body["projects"].([]interface{})
	if len(projects) != 1 {
		t.Fatalf("got %d projects", len(projects))
	}
	project := projects[0].(map[string]interface{})
	id := project["id"].(string)
	if project["name"] != "demo" {
		t.Errorf("name = %v", project["name"])
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("id %q is not a UUID", id)
	}

	rec, body = h.do(http.MethodPost, "/api/run_project", `{"id":"`+id+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("run_project status = %d: %s", rec.Code, rec.Body.String())
	}
	output := body["output"].(string)
	for _, want := range []string{
		"Scaffolding project 'demo'",
		"Which language should 'demo' use?",
		"Configured for go",
		"Built 3 directories for go",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("run output missing %q:\n%s", want, output)
		}
	}

	rec, body = h.do(http.MethodDelete, "/api/delete_project/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete_project status = %d: %s", rec.Code, rec.Body.String())
	}
	if body["output"] != "Project '"+id+"' deleted successfully" {
		t.Errorf("output = %q", body["output"])
	}

	_, body = h.do(http.MethodGet, "/api/list_projects", "")
	if got := body["projects"].([]interface{}); len(got) != 0 {
		t.Errorf("projects after delete = %v", got)
	}
}

func TestRunProject_LoadFailure(t *testing.T) {
	h := newHarness(t)

	for _, id := range []string{uuid.NewString(), "42"} {
		t.Run(id, func(t *testing.T) {
			rec, body := h.do(http.MethodPost, "/api/run_project", `{"id":"`+id+`"}`)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body["error"] != "Failed to run project '"+id+"'" {
				t.Errorf("error = %q", body["error"])
			}
			if _, ok := body["output"]; ok {
				t.Error("a run that never started should not return output")
			}
		})
	}
}

func TestRunProject_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	id := h.create("idle", "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/run_project", strings.NewReader(`{"id":"`+id+`"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Failed to run project '"+id+"'") {
		t.Errorf("body = %s", rec.Body.String())
	}

	// Nothing started, so the project runs normally afterwards.
	rec, _ = h.do(http.MethodPost, "/api/run_project", `{"id":"`+id+`"}`)
	if rec.Code != http.StatusOK {
		t.Errorf("run after cancelled request: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunProject_InterruptedReturnsOutput(t *testing.T) {
	h := newHarness(t)
	id := h.create("endless", "spin")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/run_project", strings.NewReader(`{"id":"`+id+`"}`)).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	if body["error"] != "Failed to run project '"+id+"'" {
		t.Errorf("error = %q", body["error"])
	}
	if output, _ := body["output"].(string); !strings.Contains(output, "warming up") {
		t.Errorf("output should carry what the run emitted before the interrupt: %q", output)
	}

	// The interrupted run was rolled back and released the project.
	rec, _ = h.do(http.MethodDelete, "/api/delete_project/"+id, "")
	if rec.Code != http.StatusOK {
		t.Errorf("delete after interrupt: status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRunProject_FailureReturnsOutput(t *testing.T) {
	h := newHarness(t)
	id := h.create("fragile", "broken")

	rec, body := h.do(http.MethodPost, "/api/run_project", `{"id":"`+id+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if body["error"] != "Failed to run project '"+id+"'" {
		t.Errorf("error = %q", body["error"])
	}
	output, _ := body["output"].(string)
	if !strings.Contains(output, "starting") || !strings.Contains(output, "Error:") || !strings.Contains(output, "boom") {
		t.Errorf("output should carry the step output and the error:\n%s", output)
	}

	// The failed run was rolled back: the first step runs again.
	_, body = h.do(http.MethodPost, "/api/run_project", `{"id":"`+id+`"}`)
	if output, _ := body["output"].(string); !strings.Contains(output, "starting") {
		t.Errorf("rollback should discard the first step's checkpoint:\n%s", output)
	}
}

func TestStartProject_Rejections(t *testing.T) {
	h := newHarness(t)
	h.create("taken", "")

	tests := []struct {
		name string
		body string
		want string
	}{
		{"duplicate", `{"name":"taken"}`, "Failed to create project 'taken'"},
		{"blank", `{"name":"   "}`, "Failed to create project '   '"},
		{"unknown template", `{"name":"x","template":"nope"}`, "Failed to create project 'x'"},
		{"policy", `{"name":"` + strings.Repeat("a", 200) + `"}`, "Failed to create project '" + strings.Repeat("a", 200) + "'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := h.do(http.MethodPost, "/api/start_project", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body["error"] != tt.want {
				t.Errorf("error = %q, want %q", body["error"], tt.want)
			}
		})
	}
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"missing body", http.MethodPost, "/api/start_project", "", "Request body is required"},
		{"bad json", http.MethodPost, "/api/start_project", `{"name":`, "Request body is not valid JSON"},
		{"missing name", http.MethodPost, "/api/start_project", `{}`, "Invalid request: 'name' is required"},
		{"missing id", http.MethodPost, "/api/run_project", `{}`, "Invalid request: 'id' is required"},
		{"negative step", http.MethodPost, "/api/run_project", `{"id":"` + uuid.NewString() + `","step":-1}`, "Invalid request: 'step' must be at least 0"},
		{"malformed path id", http.MethodDelete, "/api/delete_project/not-a-uuid", "", "Invalid project id 'not-a-uuid'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := h.do(tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if body["error"] != tt.want {
				t.Errorf("error = %q, want %q", body["error"], tt.want)
			}
		})
	}
}

func TestDeleteProject_NotFound(t *testing.T) {
	h := newHarness(t)
	id := uuid.NewString()

	rec, body := h.do(http.MethodDelete, "/api/delete_project/"+id, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body["error"] != "Failed to delete project '"+id+"'" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestUnexpectedErrorIsGeneric(t *testing.T) {
	h := newHarness(t)
	if err := h.store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	rec, body := h.do(http.MethodGet, "/api/list_projects", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body["error"] != "An unexpected error occurred" {
		t.Errorf("error = %q", body["error"])
	}
	if strings.Contains(rec.Body.String(), "closed") {
		t.Error("diagnostics must not leak to the client")
	}
}

func TestShowConfig(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(http.MethodGet, "/api/show_config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	server, ok := body["server"].(map[string]interface{})
	if !ok || server["addr"] != "127.0.0.1:5000" {
		t.Errorf("unexpected config %v", body)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)

	rec, body := h.do(http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", rec.Code, body)
	}

	rec, body = h.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusOK || body["status"] != "ready" {
		t.Errorf("readyz = %d %v", rec.Code, body)
	}

	_ = h.store.Close()
	rec, body = h.do(http.MethodGet, "/readyz", "")
	if rec.Code != http.StatusServiceUnavailable || body["status"] != "not_ready" {
		t.Errorf("readyz with a closed store = %d %v", rec.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.do(http.MethodGet, "/api/list_projects", "")

	rec, _ := h.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	text := rec.Body.String()
	if !strings.Contains(text, `pilot_http_requests_total{code="200",method="GET",route="GET /api/list_projects"}`) {
		t.Errorf("request metric missing:\n%s", text)
	}
	if !strings.Contains(text, "pilot_bridge_invocations_total") {
		t.Errorf("bridge metric missing")
	}
}
