package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoro-ai/kokoro/pkg/audit"
	"github.com/kokoro-ai/kokoro/pkg/brain"
	"github.com/kokoro-ai/kokoro/pkg/capability"
	"github.com/kokoro-ai/kokoro/pkg/config"
	"github.com/kokoro-ai/kokoro/pkg/decision"
	"github.com/kokoro-ai/kokoro/pkg/execution"
	"github.com/kokoro-ai/kokoro/pkg/handlers"
	"github.com/kokoro-ai/kokoro/pkg/learning"
	"github.com/kokoro-ai/kokoro/pkg/memory"
	"github.com/kokoro-ai/kokoro/pkg/orchestrator"
	"github.com/kokoro-ai/kokoro/pkg/proactive"
	"github.com/kokoro-ai/kokoro/pkg/protocol"
	"github.com/kokoro-ai/kokoro/pkg/state"
	"github.com/kokoro-ai/kokoro/pkg/understanding"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.InMemoryStore) {
	t.Helper()

	store := memory.NewInMemoryStore()
	catalog, err := capability.Build(config.DefaultCapabilities(), handlers.Build(handlers.Deps{Store: store}))
	require.NoError(t, err)

	executor := execution.NewExecutor(catalog, execution.NewLocalDeduper(time.Minute), nil)
	orch := orchestrator.New(state.NewMemoryStore(), executor, nil)
	auditor := audit.NewAuditor(nil, nil)

	cfg := &config.BrainConfig{}
	cfg.SetDefaults()
	b := brain.New(brain.Deps{
		Config:       cfg,
		Builder:      brain.NewContextBuilder(memory.NewAccess(store, nil), 300*time.Millisecond, nil),
		Orchestrator: orch,
		Understander: understanding.NewEngine(catalog, nil),
		Decider:      decision.NewEngine(catalog),
		Catalog:      catalog,
		Executor:     executor,
		Auditor:      auditor,
		Recorder:     learning.NewRecorder(store, nil),
		Writer:       store,
	})

	generator := proactive.NewGenerator(catalog, executor, auditor, nil, nil)
	serverCfg := &config.ServerConfig{}
	serverCfg.SetDefaults()

	srv := New(serverCfg, b, WithProactive(generator))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMessageEndpoint(t *testing.T) {
	ts, store := newTestServer(t)
	require.NoError(t, store.CreateTask(t.Context(), "org1", memory.Task{
		ID: "t1", Body: "週報を書く", AssignedTo: "user1", Status: "open", CreatedAt: time.Now(),
	}))

	resp := postJSON(t, ts.URL+"/v1/messages", messageRequest{
		TenantID: "org1", RoomID: "room1", UserID: "user1", SenderName: "佐藤",
		Text: "タスクを見せて",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "task_list", body.ActionTaken)
	assert.Contains(t, body.Message, "週報を書く")
	assert.True(t, body.Success)
}

func TestMessageEndpointValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	cases := []messageRequest{
		{RoomID: "r", UserID: "u", Text: "hi"},
		{TenantID: "org1", UserID: "u", Text: "hi"},
		{TenantID: "org1", RoomID: "r", Text: "hi"},
		{TenantID: "org1", RoomID: "r", UserID: "u"},
	}
	for _, c := range cases {
		resp := postJSON(t, ts.URL+"/v1/messages", c)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}
}

func TestMessageEndpointRejectsMalformedJSON(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/messages", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProactiveEndpointExecutesLowRisk(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/proactive", proactiveRequest{
		TenantID: "org1", RoomID: "room1", UserID: "user1",
		Action: "task_list", Reason: "morning_digest",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body protocol.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Message)
}

func TestProactiveEndpointDropsUnknownAction(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/proactive", proactiveRequest{
		TenantID: "org1", RoomID: "room1", UserID: "user1",
		Action: "delete_everything", Reason: "test",
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}
