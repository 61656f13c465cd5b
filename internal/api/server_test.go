package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanchatmangpt/wrkflo/internal/engine"
	"github.com/seanchatmangpt/wrkflo/internal/loader"
	"github.com/seanchatmangpt/wrkflo/internal/scheduler"
	"github.com/seanchatmangpt/wrkflo/internal/service"
	"github.com/seanchatmangpt/wrkflo/internal/store"
	"github.com/seanchatmangpt/wrkflo/internal/transport"
	"github.com/seanchatmangpt/wrkflo/pkg/schema"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router   *gin.Engine
	upstream *httptest.Server
	store    store.Store
}

func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /pets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"id": r.PathValue("id"), "name": "Fluffy"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newTestEnv builds a router over a real service. withHistory controls
// whether a libSQL store (and with it the scheduler) is configured.
func newTestEnv(t *testing.T, withHistory bool) *testEnv {
	t.Helper()
	env := &testEnv{upstream: newUpstream(t)}
	client := transport.NewHTTPClient(transport.Config{})

	var st store.Store
	if withHistory {
		ls, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "api.db"))
		require.NoError(t, err)
		require.NoError(t, ls.Migrate(context.Background()))
		t.Cleanup(func() { _ = ls.Close() })
		st = ls
	}
	env.store = st

	svc := service.New(service.Deps{
		Loader: loader.New(client, nil),
		Engine: engine.New(service.EngineConfig(client, st, 0, nil)),
		Store:  st,
	})
	var sched *scheduler.Scheduler
	if st != nil {
		sched = scheduler.NewScheduler(st, svc, nil)
	}
	env.router = NewServer(svc, sched, nil, "test").SetupRoutes()
	return env
}

func (e *testEnv) document() string {
	return fmt.Sprintf(`{
		"arazzo": "1.0.0",
		"info": {"title": "Pets", "version": "1.0.0"},
		"sourceDescriptions": [{"name": "api", "url": "inline", "operations": [
			{"operationId": "getPet", "url": "%s/pets/{id}"}
		]}],
		"workflows": [{
			"workflowId": "adopt",
			"inputs": {"type": "object", "required": ["petId"], "properties": {"petId": {"type": "string"}}},
			"steps": [{
				"stepId": "getPet",
				"operationId": "getPet",
				"parameters": [{"name": "id", "in": "path", "value": "$inputs.petId"}],
				"successCriteria": [{"condition": "$statusCode == 200"}],
				"outputs": {"name": "$response.body#/name"}
			}],
			"outputs": {"petName": "$steps.getPet.outputs.name"}
		}]
	}`, e.upstream.URL)
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) startRun(t *testing.T) engine.RunResult {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/runs", StartRunRequest{
		Document: e.document(),
		Inputs:   map[string]any{"petId": "7"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[engine.RunResult](t, w)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.True(t, resp.History)
	assert.NotNil(t, resp.Scheduler)
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t, false)
	env.startRun(t)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wrkflo_runs_total")
}

func TestStartRun(t *testing.T) {
	env := newTestEnv(t, true)

	result := env.startRun(t)
	assert.Equal(t, schema.RunStatusSucceeded, result.Status)
	assert.Equal(t, "adopt", result.WorkflowID)
	assert.Equal(t, "Fluffy", result.Outputs["petName"])
	assert.NotEmpty(t, result.RunID)
}

func TestStartRun_Query(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/v1/runs", StartRunRequest{
		Document: env.document(),
		Inputs:   map[string]any{"petId": "7"},
		Query:    ".outputs.petName",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Fluffy", decode[string](t, w))

	w = env.do(t, http.MethodPost, "/v1/runs?query=.status", StartRunRequest{
		Document: env.document(),
		Inputs:   map[string]any{"petId": "7"},
		Query:    ".outputs.petName",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "succeeded", decode[string](t, w))
}

func TestStartRun_Errors(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		body   any
		status int
		code   string
	}{
		{
			name:   "missing document",
			body:   map[string]any{"workflowId": "adopt"},
			status: http.StatusBadRequest,
			code:   schema.ErrCodeValidation,
		},
		{
			name:   "invalid document",
			body:   StartRunRequest{Document: `{"arazzo": "9.9.9"}`},
			status: http.StatusBadRequest,
			code:   schema.ErrCodeValidation,
		},
		{
			name:   "unknown workflow",
			body:   StartRunRequest{Document: env.document(), WorkflowID: "nope"},
			status: http.StatusNotFound,
			code:   schema.ErrCodeNotFound,
		},
		{
			name:   "invalid inputs",
			body:   StartRunRequest{Document: env.document(), Inputs: map[string]any{"petId": 7}},
			status: http.StatusBadRequest,
			code:   schema.ErrCodeValidation,
		},
		{
			name:   "bad query",
			body:   StartRunRequest{Document: env.document(), Inputs: map[string]any{"petId": "7"}, Query: ".["},
			status: http.StatusBadRequest,
			code:   schema.ErrCodeQuery,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/v1/runs", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			resp := decode[ErrorResponse](t, w)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.status, resp.Status)
		})
	}
}

func TestRunHistory(t *testing.T) {
	env := newTestEnv(t, true)
	result := env.startRun(t)

	w := env.do(t, http.MethodGet, "/v1/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[RunsListResponse](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, result.RunID, list.Runs[0].ID)

	w = env.do(t, http.MethodGet, "/v1/runs?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, decode[RunsListResponse](t, w).Count)

	w = env.do(t, http.MethodGet, "/v1/runs/"+result.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	run := decode[store.Run](t, w)
	assert.Equal(t, schema.RunStatusSucceeded, run.Status)

	w = env.do(t, http.MethodGet, "/v1/runs/"+result.RunID+"/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	events := decode[struct {
		Events []*store.Event `json:"events"`
		Count  int            `json:"count"`
	}](t, w)
	require.NotZero(t, events.Count)
	assert.Equal(t, schema.EventRunStarted, events.Events[0].Type)

	w = env.do(t, http.MethodGet, "/v1/runs/"+result.RunID+"/steps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	steps := decode[struct {
		Steps map[string]*store.StepSummary `json:"steps"`
	}](t, w)
	require.Contains(t, steps.Steps, "getPet")
	assert.Equal(t, 1, steps.Steps["getPet"].Executions)
}

func TestRunHistory_NotFound(t *testing.T) {
	env := newTestEnv(t, true)

	for _, path := range []string{"/v1/runs/missing", "/v1/runs/missing/events", "/v1/runs/missing/steps"} {
		w := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestRunHistory_Disabled(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/v1/runs", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, schema.ErrCodeStore, decode[ErrorResponse](t, w).Code)
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/v1/validate", ValidateRequest{Document: env.document()})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["valid"])

	w = env.do(t, http.MethodPost, "/v1/validate", ValidateRequest{Document: `{"arazzo": "1.0.0"}`})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["valid"])
	assert.NotEmpty(t, resp["errors"])

	w = env.do(t, http.MethodPost, "/v1/validate", ValidateRequest{Document: "{not yaml"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSchedules(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodPost, "/v1/schedules", CreateScheduleRequest{
		DocumentPath:   "/srv/docs/adopt.arazzo.yaml",
		WorkflowID:     "adopt",
		CronExpression: "*/5 * * * *",
		Inputs:         map[string]any{"petId": "7"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := decode[store.ScheduledJob](t, w)
	assert.NotEmpty(t, job.ID)
	assert.True(t, job.Enabled)
	require.NotNil(t, job.NextRunAt)

	w = env.do(t, http.MethodGet, "/v1/schedules", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[map[string]any](t, w)["count"])

	w = env.do(t, http.MethodDelete, "/v1/schedules/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodDelete, "/v1/schedules/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSchedules_InvalidCron(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodPost, "/v1/schedules", CreateScheduleRequest{
		DocumentPath:   "/srv/docs/adopt.arazzo.yaml",
		CronExpression: "every tuesday",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, schema.ErrCodeValidation, decode[ErrorResponse](t, w).Code)
}

func TestSchedules_Disabled(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/v1/schedules", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
