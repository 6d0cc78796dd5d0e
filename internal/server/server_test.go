package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/intentc/api/schemas"
	"github.com/xkilldash9x/intentc/internal/compiler"
	"github.com/xkilldash9x/intentc/internal/config"
	"github.com/xkilldash9x/intentc/internal/engine"
	"github.com/xkilldash9x/intentc/internal/safety"
	"github.com/xkilldash9x/intentc/internal/store"
)

const (
	testSecret = "test-secret"
	testIssuer = "intentc-test"
)

// testConfig overrides the server section of the default config.
type testConfig struct {
	config.Interface
	serverCfg config.ServerConfig
}

func (c testConfig) Server() config.ServerConfig { return c.serverCfg }

// stubCompiler returns a canned result or error, persisting the result
// the way the real compiler does.
type stubCompiler struct {
	store schemas.IntentStore
	err   error
}

func (c *stubCompiler) Compile(ctx context.Context, intent string, sess schemas.Session) (*schemas.CompiledIntent, error) {
	if c.err != nil {
		return nil, c.err
	}
	ci := &schemas.CompiledIntent{
		ID:             uuid.NewString(),
		OriginalIntent: intent,
		Plan: schemas.ExecutionPlan{
			ID:    uuid.NewString(),
			Name:  "stub plan",
			Steps: []schemas.PlanStep{{ID: "step-1", Order: 1, Name: "step", RiskLevel: schemas.RiskLow}},
		},
		BasicProgram: "' program\n",
		Confidence:   0.9,
		CompiledAt:   time.Now().UTC(),
		SessionID:    sess.ID,
		BotID:        sess.BotID,
	}
	if err := c.store.SaveCompiledIntent(ctx, ci); err != nil {
		return nil, err
	}
	return ci, nil
}

type fixture struct {
	server   *Server
	router   http.Handler
	store    *store.Memory
	compiler *stubCompiler
}

func newFixture(t *testing.T, serverCfg config.ServerConfig, limiter *safety.Limiter) *fixture {
	t.Helper()
	mem := store.NewMemory()
	auditor, err := safety.NewAuditor(mem, zap.NewNop())
	require.NoError(t, err)

	cfg := testConfig{Interface: config.NewDefaultConfig(), serverCfg: serverCfg}
	eng, err := engine.New(cfg, zap.NewNop(), mem, auditor, engine.NewSimulatedEngine(0.7, zap.NewNop()))
	require.NoError(t, err)

	stub := &stubCompiler{store: mem}
	srv, err := New(cfg, zap.NewNop(), stub, eng, mem, limiter)
	require.NoError(t, err)

	return &fixture{server: srv, router: srv.Router(), store: mem, compiler: stub}
}

func openFixture(t *testing.T) *fixture {
	return newFixture(t, config.ServerConfig{AuthDisabled: true}, nil)
}

func bearerToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"iss": testIssuer,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (bool, map[string]any, string) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	data := map[string]any{}
	if len(envelope.Data) > 0 {
		require.NoError(t, json.Unmarshal(envelope.Data, &data))
	}
	return envelope.Success, data, envelope.Error
}

func TestAuth_MissingToken(t *testing.T) {
	fx := newFixture(t, config.ServerConfig{JWTSecret: testSecret, JWTIssuer: testIssuer}, nil)

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	success, _, errMsg := decodeEnvelope(t, rec)
	assert.False(t, success)
	assert.Contains(t, errMsg, "bearer token")
}

func TestAuth_ValidToken(t *testing.T) {
	fx := newFixture(t, config.ServerConfig{JWTSecret: testSecret, JWTIssuer: testIssuer}, nil)

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/stats", nil,
		map[string]string{"Authorization": "Bearer " + bearerToken(t, "ops@example.com")})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuth_WrongSecretRejected(t *testing.T) {
	fx := newFixture(t, config.ServerConfig{JWTSecret: "other-secret", JWTIssuer: testIssuer}, nil)

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/stats", nil,
		map[string]string{"Authorization": "Bearer " + bearerToken(t, "ops@example.com")})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCompile_Success(t *testing.T) {
	fx := openFixture(t)

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/compile", map[string]any{
		"intent":  "create a CRM",
		"session": map[string]string{"id": "sess-1", "bot_id": "bot-1"},
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	success, data, _ := decodeEnvelope(t, rec)
	assert.True(t, success)
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "create a CRM", data["original_intent"])

	// The compiled intent is retrievable afterwards.
	_, err := fx.store.GetCompiledIntent(context.Background(), data["id"].(string))
	assert.NoError(t, err)
}

func TestCompile_MissingIntent(t *testing.T) {
	fx := openFixture(t)
	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/compile",
		map[string]any{"session": map[string]string{"id": "s"}}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCompile_CompileErrorIsUnprocessable(t *testing.T) {
	fx := openFixture(t)
	fx.compiler.err = &compiler.CompileError{Stage: "plan", Reason: "model returned unparseable JSON"}

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/compile",
		map[string]any{"intent": "do something"}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	success, _, errMsg := decodeEnvelope(t, rec)
	assert.False(t, success)
	assert.Contains(t, errMsg, "compile failed at plan")
}

func TestCompile_RateLimited(t *testing.T) {
	fx := newFixture(t, config.ServerConfig{AuthDisabled: true}, safety.NewLimiter(1))

	body := map[string]any{"intent": "x", "session": map[string]string{"bot_id": "bot-1"}}
	first := doJSON(t, fx.router, http.MethodPost, "/api/autotask/compile", body, nil)
	require.Equal(t, http.StatusCreated, first.Code)

	second := doJSON(t, fx.router, http.MethodPost, "/api/autotask/compile", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func TestExecute_UnknownIntent(t *testing.T) {
	fx := openFixture(t)
	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/execute",
		map[string]string{"compiled_intent_id": "ghost"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompileThenExecute(t *testing.T) {
	fx := openFixture(t)

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/compile",
		map[string]any{"intent": "build it"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	_, data, _ := decodeEnvelope(t, rec)

	rec = doJSON(t, fx.router, http.MethodPost, "/api/autotask/execute",
		map[string]string{"compiled_intent_id": data["id"].(string)}, nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	success, taskData, _ := decodeEnvelope(t, rec)
	assert.True(t, success)
	assert.Equal(t, string(schemas.TaskPending), taskData["status"])
}

func TestGetTask_NotFound(t *testing.T) {
	fx := openFixture(t)
	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPause_ConflictForPendingTask(t *testing.T) {
	fx := openFixture(t)
	task := seedTask(t, fx.store, schemas.TaskPending)

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/pause", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestPauseResumeCancelFlow(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)
	task := seedTaskFor(t, fx.store, ci.ID, schemas.TaskExecuting)

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/pause", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/resume", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/cancel", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	current, err := fx.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskCancelled, current.Status)

	// Cancelling again conflicts.
	rec = doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestApprove_ResolverFromToken(t *testing.T) {
	fx := newFixture(t, config.ServerConfig{JWTSecret: testSecret, JWTIssuer: testIssuer}, nil)
	headers := map[string]string{"Authorization": "Bearer " + bearerToken(t, "ops@example.com")}

	ci := seedCompiledIntent(t, fx.store)
	task := seedTaskFor(t, fx.store, ci.ID, schemas.TaskAwaitingApproval)
	approval := seedApproval(t, fx.store, task.ID)

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/approve",
		map[string]any{"approval_id": approval.ID, "approve": true, "comment": "looks fine"}, headers)
	require.Equal(t, http.StatusOK, rec.Code)

	approvals, err := fx.store.ListApprovals(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, schemas.ApprovalApproved, approvals[0].Status)
	assert.Equal(t, "ops@example.com", approvals[0].Resolver)

	current, err := fx.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskExecuting, current.Status)
}

func TestApprove_AlreadyResolvedConflicts(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)
	task := seedTaskFor(t, fx.store, ci.ID, schemas.TaskAwaitingApproval)
	approval := seedApproval(t, fx.store, task.ID)

	body := map[string]any{"approval_id": approval.ID, "approve": true}
	first := doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/approve", body, nil)
	require.Equal(t, http.StatusOK, first.Code)

	second := doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/approve", body, nil)
	assert.Equal(t, http.StatusConflict, second.Code)
}

func TestDecide_ResumesTask(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)
	task := seedTaskFor(t, fx.store, ci.ID, schemas.TaskAwaitingDecision)

	now := time.Now().UTC()
	decision := &schemas.PendingDecision{
		ID:     uuid.NewString(),
		TaskID: task.ID,
		Title:  "pick one",
		Options: []schemas.DecisionOption{
			{ID: "opt-a", Label: "a"},
			{ID: "opt-b", Label: "b"},
		},
		Status:    schemas.DecisionPending,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, fx.store.CreateDecision(context.Background(), decision))

	rec := doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/decide",
		map[string]string{"decision_id": decision.ID, "option_id": "opt-b"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	current, err := fx.store.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskExecuting, current.Status)
}

func TestListTasksAndStats(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)
	seedTaskFor(t, fx.store, ci.ID, schemas.TaskExecuting)
	seedTaskFor(t, fx.store, ci.ID, schemas.TaskCompleted)

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/tasks", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ := decodeEnvelope(t, rec)
	assert.Equal(t, float64(2), data["count"])

	rec = doJSON(t, fx.router, http.MethodGet, "/api/autotask/tasks?status=EXECUTING", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ = decodeEnvelope(t, rec)
	assert.Equal(t, float64(1), data["count"])

	rec = doJSON(t, fx.router, http.MethodGet, "/api/autotask/stats", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, stats, _ := decodeEnvelope(t, rec)
	assert.Equal(t, float64(2), stats["total"])
	assert.Equal(t, float64(1), stats["completed"])
}

func TestSimulatePlanEndpoint(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/simulate/"+ci.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, data, _ := decodeEnvelope(t, rec)
	assert.NotEmpty(t, data["id"])
	assert.Contains(t, data["summary"], "Simulated")
}

func TestRouteAliases(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)
	task := seedTaskFor(t, fx.store, ci.ID, schemas.TaskExecuting)

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/list", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ := decodeEnvelope(t, rec)
	assert.Equal(t, float64(1), data["count"])

	rec = doJSON(t, fx.router, http.MethodPost, "/api/autotask/simulate/"+ci.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ = decodeEnvelope(t, rec)
	assert.Contains(t, data["summary"], "Simulated")

	rec = doJSON(t, fx.router, http.MethodPost, "/api/autotask/"+task.ID+"/simulate", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAuditEndpoint(t *testing.T) {
	fx := openFixture(t)
	ci := seedCompiledIntent(t, fx.store)
	task := seedTaskFor(t, fx.store, ci.ID, schemas.TaskExecuting)

	entry := safety.System(task.ID, schemas.AuditTaskStarted, "started", true)
	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now().UTC()
	require.NoError(t, fx.store.AppendAudit(context.Background(), entry))

	rec := doJSON(t, fx.router, http.MethodGet, "/api/autotask/"+task.ID+"/audit", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, data, _ := decodeEnvelope(t, rec)
	assert.Equal(t, float64(1), data["count"])
}

func seedCompiledIntent(t *testing.T, mem *store.Memory) *schemas.CompiledIntent {
	t.Helper()
	ci := &schemas.CompiledIntent{
		ID:             uuid.NewString(),
		OriginalIntent: "seeded",
		Plan: schemas.ExecutionPlan{
			ID:    uuid.NewString(),
			Name:  "seeded plan",
			Steps: []schemas.PlanStep{{ID: "step-1", Order: 1, Name: "step", RiskLevel: schemas.RiskMedium}},
		},
		BasicProgram: "' program\n",
		Confidence:   0.9,
		CompiledAt:   time.Now().UTC(),
	}
	require.NoError(t, mem.SaveCompiledIntent(context.Background(), ci))
	return ci
}

func seedTask(t *testing.T, mem *store.Memory, status schemas.AutoTaskStatus) *schemas.AutoTask {
	t.Helper()
	return seedTaskFor(t, mem, uuid.NewString(), status)
}

func seedTaskFor(t *testing.T, mem *store.Memory, ciID string, status schemas.AutoTaskStatus) *schemas.AutoTask {
	t.Helper()
	now := time.Now().UTC()
	task := &schemas.AutoTask{
		ID:               uuid.NewString(),
		CompiledIntentID: ciID,
		Title:            "seeded",
		Status:           status,
		Mode:             schemas.ModeAuto,
		Priority:         schemas.TaskPriorityMedium,
		TotalSteps:       1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	require.NoError(t, mem.CreateTask(context.Background(), task))
	return task
}

func seedApproval(t *testing.T, mem *store.Memory, taskID string) *schemas.PendingApproval {
	t.Helper()
	now := time.Now().UTC()
	approval := &schemas.PendingApproval{
		ID:            uuid.NewString(),
		TaskID:        taskID,
		Reason:        "needs review",
		RiskLevel:     schemas.RiskHigh,
		Approver:      "admin",
		Status:        schemas.ApprovalPending,
		DefaultAction: schemas.ApprovalActionPause,
		RequestedAt:   now,
		ExpiresAt:     now.Add(time.Hour),
	}
	require.NoError(t, mem.CreateApproval(context.Background(), approval))
	return approval
}
