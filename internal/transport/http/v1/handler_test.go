package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/eyes/internal/domain"
	"github.com/xiaot623/gogo/eyes/internal/eyes"
	"github.com/xiaot623/gogo/eyes/internal/testutil/svctest"
)

func newTestHandler(t *testing.T) (*Handler, *svctest.Fixture) {
	t.Helper()
	f := svctest.New(t)
	return NewHandler(f.Service), f
}

type call struct {
	method string
	path   string
	body   string
	names  []string
	values []string
}

func (c call) do(t *testing.T, fn echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(c.method, c.path, bytes.NewBufferString(c.body))
	if c.body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames(c.names...)
	ctx.SetParamValues(c.values...)
	require.NoError(t, fn(ctx))
	return rec
}

func invoke(t *testing.T, h *Handler, sessionID, stage, body string) (*httptest.ResponseRecorder, domain.Envelope) {
	t.Helper()
	rec := call{
		method: http.MethodPost,
		path:   "/v1/sessions/" + sessionID + "/stages/" + stage,
		body:   body,
		names:  []string{"session_id", "stage"},
		values: []string{sessionID, stage},
	}.do(t, h.InvokeStage)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func TestCreateAndGetSession(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := call{method: http.MethodPost, path: "/v1/sessions", body: `{"session_id":"s1","config":{"lang":"en"}}`}.do(t, h.CreateSession)
	require.Equal(t, http.StatusCreated, rec.Code)
	var session domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Equal(t, "s1", session.SessionID)
	assert.Equal(t, domain.SessionStatusInProgress, session.Status)

	rec = call{method: http.MethodPost, path: "/v1/sessions", body: `{"session_id":"s1"}`}.do(t, h.CreateSession)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call{method: http.MethodGet, path: "/v1/sessions/s1", names: []string{"session_id"}, values: []string{"s1"}}.do(t, h.GetSession)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = call{method: http.MethodGet, path: "/v1/sessions/nope", names: []string{"session_id"}, values: []string{"nope"}}.do(t, h.GetSession)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateSessionGeneratesID(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := call{method: http.MethodPost, path: "/v1/sessions"}.do(t, h.CreateSession)
	require.Equal(t, http.StatusCreated, rec.Code)
	var session domain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	assert.Contains(t, session.SessionID, "sess_")
}

func TestListSessions(t *testing.T) {
	h, _ := newTestHandler(t)
	call{method: http.MethodPost, path: "/v1/sessions", body: `{"session_id":"s1"}`}.do(t, h.CreateSession)
	call{method: http.MethodPost, path: "/v1/sessions", body: `{"session_id":"s2"}`}.do(t, h.CreateSession)

	rec := call{method: http.MethodGet, path: "/v1/sessions?status=in_progress"}.do(t, h.ListSessions)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Sessions []domain.Session `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)

	rec = call{method: http.MethodGet, path: "/v1/sessions?status=bogus"}.do(t, h.ListSessions)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call{method: http.MethodGet, path: "/v1/sessions?limit=x"}.do(t, h.ListSessions)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvokeStage(t *testing.T) {
	h, f := newTestHandler(t)

	t.Run("Entry Stage", func(t *testing.T) {
		rec, env := invoke(t, h, "s1", eyes.StageClarify, `{"payload":{"text":"add a cache"}}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, env.OK)
		assert.Equal(t, domain.CodeOK, env.Code)
		assert.Equal(t, "rewrite", env.NextAction)
	})

	t.Run("Out Of Order", func(t *testing.T) {
		calls := f.ProviderA.Calls()
		rec, env := invoke(t, h, "s1", eyes.StageFinalize, `{"payload":"x"}`)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, calls, f.ProviderA.Calls())
		assert.Equal(t, domain.CodeOrderViolation, env.Code)
		assert.Equal(t, []any{eyes.StageRewrite}, env.Data["missing"])
	})

	t.Run("Unknown Stage", func(t *testing.T) {
		rec, env := invoke(t, h, "s1", "summarize", `{"payload":"x"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, domain.CodeUnknownStage, env.Code)
	})

	t.Run("Invalid Body", func(t *testing.T) {
		rec, env := invoke(t, h, "s1", eyes.StageRewrite, `{"payload":`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, domain.CodeInvalidRequest, env.Code)
	})

	t.Run("Missing Payload", func(t *testing.T) {
		_, env := invoke(t, h, "s1", eyes.StageRewrite, ``)
		assert.Equal(t, domain.CodeInvalidRequest, env.Code)
	})
}

func TestKillSessionBlocksStages(t *testing.T) {
	h, _ := newTestHandler(t)
	invoke(t, h, "s1", eyes.StageClarify, `{"payload":"hi"}`)

	rec := call{
		method: http.MethodPost,
		path:   "/v1/sessions/s1/kill",
		body:   `{"reason":"operator"}`,
		names:  []string{"session_id"},
		values: []string{"s1"},
	}.do(t, h.KillSession)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, env := invoke(t, h, "s1", eyes.StageRewrite, `{"payload":"hi"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, domain.CodeSessionClosed, env.Code)
	assert.Equal(t, "session is killed", env.Message)
}

func TestUpdateSessionStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	call{method: http.MethodPost, path: "/v1/sessions", body: `{"session_id":"s1"}`}.do(t, h.CreateSession)

	status := func(body string) *httptest.ResponseRecorder {
		return call{
			method: http.MethodPatch,
			path:   "/v1/sessions/s1/status",
			body:   body,
			names:  []string{"session_id"},
			values: []string{"s1"},
		}.do(t, h.UpdateSessionStatus)
	}

	assert.Equal(t, http.StatusBadRequest, status(`{"status":"paused"}`).Code)
	assert.Equal(t, http.StatusOK, status(`{"status":"failed","reason":"upstream"}`).Code)
	assert.Equal(t, http.StatusBadRequest, status(`{"status":"in_progress"}`).Code)
}

func TestListEventsAndRuns(t *testing.T) {
	h, _ := newTestHandler(t)
	invoke(t, h, "s1", eyes.StageClarify, `{"payload":"hi"}`)
	invoke(t, h, "s1", eyes.StageRewrite, `{"payload":"hi"}`)

	rec := call{
		method: http.MethodGet,
		path:   "/v1/sessions/s1/events?since=1",
		names:  []string{"session_id"},
		values: []string{"s1"},
	}.do(t, h.ListEvents)
	require.Equal(t, http.StatusOK, rec.Code)
	var events struct {
		Events []domain.Event `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	require.Len(t, events.Events, 2)
	assert.Equal(t, int64(2), events.Events[0].Sequence)
	assert.Equal(t, domain.EventTypeStageCompleted, events.Events[0].Type)
	assert.Equal(t, int64(3), events.Events[1].Sequence)

	rec = call{
		method: http.MethodGet,
		path:   "/v1/sessions/s1/events?since=-4",
		names:  []string{"session_id"},
		values: []string{"s1"},
	}.do(t, h.ListEvents)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call{
		method: http.MethodGet,
		path:   "/v1/sessions/s1/runs",
		names:  []string{"session_id"},
		values: []string{"s1"},
	}.do(t, h.ListRuns)
	require.Equal(t, http.StatusOK, rec.Code)
	var runs struct {
		Runs []domain.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs.Runs, 2)

	rec = call{
		method: http.MethodGet,
		path:   "/v1/sessions/ghost/runs",
		names:  []string{"session_id"},
		values: []string{"ghost"},
	}.do(t, h.ListRuns)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutingAdmin(t *testing.T) {
	h, _ := newTestHandler(t)

	put := func(stage, body string) *httptest.ResponseRecorder {
		return call{
			method: http.MethodPut,
			path:   "/v1/routing/" + stage,
			body:   body,
			names:  []string{"stage"},
			values: []string{stage},
		}.do(t, h.SetRouting)
	}

	rec := put(eyes.StageClarify, `{"primary_provider":"providerB","primary_model":"m2","fallback_provider":"providerA","fallback_model":"m1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call{
		method: http.MethodGet,
		path:   "/v1/routing/" + eyes.StageClarify,
		names:  []string{"stage"},
		values: []string{eyes.StageClarify},
	}.do(t, h.GetRouting)
	require.Equal(t, http.StatusOK, rec.Code)
	var routing domain.Routing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &routing))
	assert.Equal(t, "providerB", routing.PrimaryProvider)
	assert.Equal(t, "providerA", routing.FallbackProvider)

	assert.Equal(t, http.StatusBadRequest, put("summarize", `{"primary_provider":"providerA","primary_model":"m"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put(eyes.StageClarify, `{"primary_provider":"nobody","primary_model":"m"}`).Code)
	assert.Equal(t, http.StatusBadRequest, put(eyes.StageClarify, `{"primary_provider":"providerA","primary_model":"m","fallback_provider":"providerB"}`).Code)

	rec = call{method: http.MethodGet, path: "/v1/routing"}.do(t, h.ListRouting)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Routing []domain.Routing `json:"routing"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list.Routing, 5)
}

func TestGetRoutingMissing(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := call{
		method: http.MethodGet,
		path:   "/v1/routing/summarize",
		names:  []string{"stage"},
		values: []string{"summarize"},
	}.do(t, h.GetRouting)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListStages(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := call{method: http.MethodGet, path: "/v1/stages"}.do(t, h.ListStages)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Stages []domain.StageInfo `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stages, 5)

	entries := 0
	for _, s := range resp.Stages {
		if s.Entry {
			entries++
			assert.Equal(t, eyes.StageClarify, s.Name)
		}
	}
	assert.Equal(t, 1, entries)
}
