package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-crm/internal/audit"
	"settlement-crm/internal/auth"
	"settlement-crm/internal/calls"
	"settlement-crm/internal/campaigns"
	"settlement-crm/internal/dialer"
	"settlement-crm/internal/rbac"
	"settlement-crm/internal/reporting"
	"settlement-crm/internal/telephony"
	"settlement-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

type testAPI struct {
	router   *gin.Engine
	provider *telephony.SimulatedProvider
	repo     *campaigns.MemoryRepo
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := campaigns.NewMemoryRepo()
	repo.PutCampaign(campaigns.Campaign{ID: "camp", Status: campaigns.CampaignActive})
	repo.PutCampaign(campaigns.Campaign{ID: "draft", Status: campaigns.CampaignDraft})
	repo.PutContact(campaigns.Contact{ID: "A", CampaignID: "camp", LeadID: "lead-a", Phone: "+15550100001", CreatedAt: time.Unix(1, 0)})

	store := calls.NewMemoryStore()
	provider := telephony.NewSimulatedProvider()
	auditSvc := audit.NewService(audit.NewMemoryRepo())
	eng, err := dialer.New(dialer.Config{
		Campaigns:  repo,
		Calls:      store,
		Provider:   provider,
		Audit:      auditSvc,
		Logger:     logger.Discard(),
		FromNumber: "+15550009999",
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	h := Handlers{Dialer: eng, Reports: reporting.NewService(store), Audit: auditSvc}
	r := gin.New()
	// Tests authenticate with X-Test-User / X-Test-Role instead of a JWT.
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), c.GetHeader("X-Test-User"), c.GetHeader("X-Test-Role")))
		c.Next()
	})
	v1 := r.Group("/v1")
	v1.POST("/dialer/sessions", h.StartSession)
	v1.GET("/dialer/sessions", h.ListSessions)
	v1.GET("/dialer/sessions/:session_id", h.GetSession)
	v1.POST("/dialer/sessions/:session_id/stop", h.StopSession)
	v1.POST("/dialer/sessions/:session_id/next", h.NextContact)
	v1.POST("/dialer/sessions/:session_id/skip", h.SkipContact)
	v1.POST("/dialer/sessions/:session_id/calls", h.InitiateCall)
	v1.GET("/dialer/calls/:call_id", h.GetCall)
	v1.POST("/dialer/calls/:call_id/poll", h.PollCallStatus)
	v1.POST("/dialer/calls/:call_id/hangup", h.HangUp)
	v1.POST("/dialer/calls/:call_id/disposition", h.SubmitDisposition)
	v1.GET("/dialer/dispositions", h.Dispositions)
	sup := v1.Group("", rbac.RequireAnyRole(rbac.RoleManager))
	sup.GET("/dialer/sids/:sid", h.CallBySID)
	sup.GET("/campaigns/:campaign_id/progress", h.CampaignProgress)
	sup.GET("/campaigns/:campaign_id/report", h.CampaignReport)
	sup.GET("/audit", h.ListAudit)

	return &testAPI{router: r, provider: provider, repo: repo}
}

func (a *testAPI) do(t *testing.T, method, path, user, role string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	req.Header.Set("X-Test-Role", role)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestDialerFlowOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	w, sess := api.do(t, http.MethodPost, "/v1/dialer/sessions", "alice", rbac.RoleAgent, gin.H{"campaign_id": "camp"})
	if w.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d %s", w.Code, w.Body.String())
	}
	sid, _ := sess["id"].(string)
	if sid == "" || sess["agent_id"] != "alice" {
		t.Fatalf("unexpected session %v", sess)
	}

	w, next := api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/next", "alice", rbac.RoleAgent, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("next: expected 200, got %d %s", w.Code, w.Body.String())
	}
	contact, _ := next["contact"].(map[string]any)
	if contact["id"] != "A" || next["exhausted"] != false {
		t.Fatalf("unexpected next response %v", next)
	}

	w, placed := api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/calls", "alice", rbac.RoleAgent, gin.H{"contact_id": "A"})
	if w.Code != http.StatusCreated {
		t.Fatalf("initiate: expected 201, got %d %s", w.Code, w.Body.String())
	}
	callID, _ := placed["call_id"].(string)

	w, _ = api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/calls", "alice", rbac.RoleAgent, gin.H{"contact_id": "A"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second initiate: expected 409, got %d", w.Code)
	}

	w, _ = api.do(t, http.MethodPost, "/v1/dialer/calls/"+callID+"/disposition", "alice", rbac.RoleAgent, gin.H{"disposition": "MAYBE"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown disposition: expected 400, got %d", w.Code)
	}
	w, call := api.do(t, http.MethodPost, "/v1/dialer/calls/"+callID+"/disposition", "alice", rbac.RoleAgent, gin.H{"disposition": "enrolled", "notes": "signed"})
	if w.Code != http.StatusOK || call["disposition"] != "ENROLLED" || call["status"] != "completed" {
		t.Fatalf("disposition: got %d %v", w.Code, call)
	}
	w, _ = api.do(t, http.MethodPost, "/v1/dialer/calls/"+callID+"/disposition", "alice", rbac.RoleAgent, gin.H{"disposition": "DNC"})
	if w.Code != http.StatusConflict {
		t.Fatalf("second disposition: expected 409, got %d", w.Code)
	}

	w, next = api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/next", "alice", rbac.RoleAgent, nil)
	if w.Code != http.StatusOK || next["contact"] != nil || next["exhausted"] != true {
		t.Fatalf("expected exhausted response, got %d %v", w.Code, next)
	}
	after, _ := next["session"].(map[string]any)
	if after["status"] != "stopped" {
		t.Fatalf("expected stopped session, got %v", after)
	}
}

func TestSessionOwnership(t *testing.T) {
	api := newTestAPI(t)
	_, sess := api.do(t, http.MethodPost, "/v1/dialer/sessions", "alice", rbac.RoleAgent, gin.H{"campaign_id": "camp"})
	sid, _ := sess["id"].(string)

	if w, _ := api.do(t, http.MethodGet, "/v1/dialer/sessions/"+sid, "bob", rbac.RoleAgent, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other agent: expected 404, got %d", w.Code)
	}
	if w, _ := api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/stop", "bob", rbac.RoleAgent, nil); w.Code != http.StatusNotFound {
		t.Fatalf("other agent stop: expected 404, got %d", w.Code)
	}
	if w, _ := api.do(t, http.MethodGet, "/v1/dialer/sessions/"+sid, "mgr", rbac.RoleManager, nil); w.Code != http.StatusOK {
		t.Fatalf("manager: expected 200, got %d", w.Code)
	}

	w, list := api.do(t, http.MethodGet, "/v1/dialer/sessions", "bob", rbac.RoleAgent, nil)
	if got, _ := list["sessions"].([]any); w.Code != http.StatusOK || len(got) != 0 {
		t.Fatalf("bob must see no sessions, got %v", list)
	}
	w, list = api.do(t, http.MethodGet, "/v1/dialer/sessions", "mgr", rbac.RoleManager, nil)
	if got, _ := list["sessions"].([]any); w.Code != http.StatusOK || len(got) != 1 {
		t.Fatalf("manager must see all sessions, got %v", list)
	}

	if w, _ := api.do(t, http.MethodPost, "/v1/dialer/sessions", "bob", rbac.RoleAgent, gin.H{"campaign_id": "camp", "agent_id": "alice"}); w.Code != http.StatusForbidden {
		t.Fatalf("agent starting for another: expected 403, got %d", w.Code)
	}
	w, started := api.do(t, http.MethodPost, "/v1/dialer/sessions", "mgr", rbac.RoleManager, gin.H{"campaign_id": "camp", "agent_id": "carol"})
	if w.Code != http.StatusCreated || started["agent_id"] != "carol" {
		t.Fatalf("manager start on behalf: got %d %v", w.Code, started)
	}

	if w, _ := api.do(t, http.MethodGet, "/v1/campaigns/camp/progress", "bob", rbac.RoleAgent, nil); w.Code != http.StatusForbidden {
		t.Fatalf("agent progress: expected 403, got %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	api := newTestAPI(t)

	if w, _ := api.do(t, http.MethodPost, "/v1/dialer/sessions", "alice", rbac.RoleAgent, gin.H{"campaign_id": "draft"}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("inactive campaign: expected 422, got %d", w.Code)
	}
	if w, _ := api.do(t, http.MethodPost, "/v1/dialer/sessions", "alice", rbac.RoleAgent, gin.H{"campaign_id": "nope"}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("missing campaign: expected 422, got %d", w.Code)
	}
	if w, _ := api.do(t, http.MethodGet, "/v1/dialer/sessions/missing", "alice", rbac.RoleAgent, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing session: expected 404, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/dialer/sessions", bytes.NewBufferString("{"))
	req.Header.Set("X-Test-User", "alice")
	req.Header.Set("X-Test-Role", rbac.RoleAgent)
	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d", w.Code)
	}

	_, sess := api.do(t, http.MethodPost, "/v1/dialer/sessions", "alice", rbac.RoleAgent, gin.H{"campaign_id": "camp"})
	sid, _ := sess["id"].(string)
	api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/next", "alice", rbac.RoleAgent, nil)
	api.provider.FailNextPlace(errors.New("carrier down"))
	if w, _ := api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/calls", "alice", rbac.RoleAgent, gin.H{"contact_id": "A"}); w.Code != http.StatusBadGateway {
		t.Fatalf("telephony failure: expected 502, got %d", w.Code)
	}
	w2, skipped := api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/skip", "alice", rbac.RoleAgent, gin.H{"reason": "carrier down"})
	if w2.Code != http.StatusOK || skipped["status"] != "skipped" {
		t.Fatalf("skip: got %d %v", w2.Code, skipped)
	}

	if w, _ := api.do(t, http.MethodGet, "/v1/dialer/calls/missing", "alice", rbac.RoleAgent, nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing call: expected 404, got %d", w.Code)
	}
}

func TestSupervisorEndpoints(t *testing.T) {
	api := newTestAPI(t)
	_, sess := api.do(t, http.MethodPost, "/v1/dialer/sessions", "alice", rbac.RoleAgent, gin.H{"campaign_id": "camp"})
	sid, _ := sess["id"].(string)
	api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/next", "alice", rbac.RoleAgent, nil)
	_, placed := api.do(t, http.MethodPost, "/v1/dialer/sessions/"+sid+"/calls", "alice", rbac.RoleAgent, gin.H{"contact_id": "A"})
	callID, _ := placed["call_id"].(string)
	leg, _ := placed["call"].(map[string]any)
	sidValue, _ := leg["sid"].(string)

	w, resolved := api.do(t, http.MethodGet, "/v1/dialer/sids/"+sidValue, "mgr", rbac.RoleManager, nil)
	if w.Code != http.StatusOK || resolved["call_id"] != callID {
		t.Fatalf("sid lookup: got %d %v", w.Code, resolved)
	}
	if w, _ := api.do(t, http.MethodGet, "/v1/dialer/sids/SIM-none", "mgr", rbac.RoleManager, nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown sid: expected 404, got %d", w.Code)
	}

	w, progress := api.do(t, http.MethodGet, "/v1/campaigns/camp/progress", "mgr", rbac.RoleManager, nil)
	if w.Code != http.StatusOK || progress["dialing"] != float64(1) || progress["active_sessions"] != float64(1) {
		t.Fatalf("progress: got %d %v", w.Code, progress)
	}

	w, report := api.do(t, http.MethodGet, "/v1/campaigns/camp/report", "mgr", rbac.RoleManager, nil)
	if w.Code != http.StatusOK || report["total_calls"] != float64(1) {
		t.Fatalf("report: got %d %v", w.Code, report)
	}
	if w, _ := api.do(t, http.MethodGet, "/v1/campaigns/camp/report?from=yesterday", "mgr", rbac.RoleManager, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad report range: expected 400, got %d", w.Code)
	}

	w, events := api.do(t, http.MethodGet, "/v1/audit?session_id="+sid, "mgr", rbac.RoleManager, nil)
	if got, _ := events["events"].([]any); w.Code != http.StatusOK || len(got) < 3 {
		t.Fatalf("audit: got %d %v", w.Code, events)
	}
	if w, _ := api.do(t, http.MethodGet, "/v1/audit", "mgr", rbac.RoleManager, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("audit without filter: expected 400, got %d", w.Code)
	}

	w, disp := api.do(t, http.MethodGet, "/v1/dialer/dispositions", "alice", rbac.RoleAgent, nil)
	if codes, _ := disp["codes"].([]any); w.Code != http.StatusOK || len(codes) == 0 {
		t.Fatalf("dispositions: got %d %v", w.Code, disp)
	}
}
