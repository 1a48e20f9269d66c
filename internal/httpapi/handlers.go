package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"settlement-crm/internal/audit"
	"settlement-crm/internal/auth"
	"settlement-crm/internal/dialer"
	"settlement-crm/internal/rbac"
	"settlement-crm/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Dialer  *dialer.Engine
	Reports *reporting.Service
	Audit   *audit.Service
}

type caller struct {
	UserID string
	Role   string
}

func (c caller) owns(agentID string) bool {
	return rbac.CanSupervise(c.Role) || c.UserID == agentID
}

func identity(c *gin.Context) (caller, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return caller{}, false
	}
	role, _ := auth.Role(c.Request.Context())
	return caller{UserID: uid, Role: role}, true
}

func (h Handlers) ready(c *gin.Context) bool {
	if h.Dialer == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "dialer not configured"})
		return false
	}
	return true
}

// ownedSession loads the session and checks the caller may act on it.
func (h Handlers) ownedSession(c *gin.Context, who caller) (dialer.Session, bool) {
	s, err := h.Dialer.GetSession(c.Param("session_id"))
	if err != nil {
		writeError(c, err)
		return dialer.Session{}, false
	}
	if !who.owns(s.AgentID) {
		// Do not reveal other agents' sessions.
		writeError(c, dialer.ErrSessionNotFound)
		return dialer.Session{}, false
	}
	return s, true
}

// --- Sessions ---

type startSessionRequest struct {
	CampaignID string `json:"campaign_id"`
	// AgentID lets a supervisor open a session on an agent's behalf.
	AgentID string `json:"agent_id,omitempty"`
}

func (h Handlers) StartSession(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	var req startSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	agentID := who.UserID
	if req.AgentID != "" && req.AgentID != who.UserID {
		if !rbac.CanSupervise(who.Role) {
			forbidden(c)
			return
		}
		agentID = req.AgentID
	}

	s, err := h.Dialer.StartSession(c.Request.Context(), req.CampaignID, agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) ListSessions(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	agentID := who.UserID
	if rbac.CanSupervise(who.Role) {
		agentID = strings.TrimSpace(c.Query("agent_id"))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": h.Dialer.ListSessions(agentID)})
}

func (h Handlers) GetSession(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	s, ok := h.ownedSession(c, who)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) StopSession(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	s, ok := h.ownedSession(c, who)
	if !ok {
		return
	}
	out, err := h.Dialer.StopSession(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// NextContact answers 200 with the claimed contact, or with a null contact
// and exhausted=true once the campaign has nothing left to dial.
func (h Handlers) NextContact(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	s, ok := h.ownedSession(c, who)
	if !ok {
		return
	}
	contact, err := h.Dialer.NextContact(c.Request.Context(), s.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	after, _ := h.Dialer.GetSession(s.ID)
	c.JSON(http.StatusOK, gin.H{
		"contact":   contact,
		"exhausted": contact == nil,
		"session":   after,
	})
}

type skipRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) SkipContact(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	s, ok := h.ownedSession(c, who)
	if !ok {
		return
	}
	var req skipRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid json")
			return
		}
	}
	contact, err := h.Dialer.SkipContact(c.Request.Context(), s.ID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, contact)
}

// --- Calls ---

type initiateCallRequest struct {
	ContactID string `json:"contact_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	s, ok := h.ownedSession(c, who)
	if !ok {
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	res, err := h.Dialer.InitiateCall(c.Request.Context(), s.ID, req.ContactID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h Handlers) ownedCall(c *gin.Context, who caller) (string, bool) {
	call, err := h.Dialer.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return "", false
	}
	if !who.owns(call.AgentID) {
		writeError(c, dialer.ErrCallNotFound)
		return "", false
	}
	return call.ID, true
}

func (h Handlers) GetCall(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	id, ok := h.ownedCall(c, who)
	if !ok {
		return
	}
	call, err := h.Dialer.GetCall(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) PollCallStatus(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	id, ok := h.ownedCall(c, who)
	if !ok {
		return
	}
	call, err := h.Dialer.PollCallStatus(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (h Handlers) HangUp(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	id, ok := h.ownedCall(c, who)
	if !ok {
		return
	}
	if err := h.Dialer.HangUp(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type dispositionRequest struct {
	Disposition  string     `json:"disposition"`
	Notes        string     `json:"notes"`
	Transcript   string     `json:"transcript,omitempty"`
	Feedback     string     `json:"feedback,omitempty"`
	NextFollowUp *time.Time `json:"next_follow_up,omitempty"`
}

func (h Handlers) SubmitDisposition(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	who, ok := identity(c)
	if !ok {
		return
	}
	id, ok := h.ownedCall(c, who)
	if !ok {
		return
	}
	var req dispositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	call, err := h.Dialer.CloseCall(c.Request.Context(), id, dialer.CloseOut{
		Disposition:  req.Disposition,
		Notes:        req.Notes,
		Transcript:   req.Transcript,
		Feedback:     req.Feedback,
		NextFollowUp: req.NextFollowUp,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, call)
}

// CallBySID resolves a provider SID. Supervisors only.
func (h Handlers) CallBySID(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	id, ok := h.Dialer.CallIDFromSID(c.Param("sid"))
	if !ok {
		writeError(c, dialer.ErrUnknownSID)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sid": c.Param("sid"), "call_id": id})
}

func (h Handlers) Dispositions(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	p := h.Dialer.Policy()
	c.JSON(http.StatusOK, gin.H{
		"codes":        p.Codes(),
		"rules":        p.Rules,
		"max_attempts": p.MaxAttempts,
	})
}

// --- Campaigns ---

func (h Handlers) CampaignProgress(c *gin.Context) {
	if !h.ready(c) {
		return
	}
	p, err := h.Dialer.CampaignProgress(c.Request.Context(), c.Param("campaign_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// CampaignReport reads from/to as RFC 3339; the default window is the last 7 days.
func (h Handlers) CampaignReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-7 * 24 * time.Hour)
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "from must be RFC 3339")
			return
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			badRequest(c, "to must be RFC 3339")
			return
		}
		to = t
	}
	out, err := h.Reports.CampaignReport(c.Request.Context(), reporting.CampaignReportRequest{
		CampaignID: c.Param("campaign_id"),
		Range:      reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Audit ---

func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	f := audit.Filter{
		SessionID:  c.Query("session_id"),
		CampaignID: c.Query("campaign_id"),
		CallID:     c.Query("call_id"),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	events, err := h.Audit.List(c.Request.Context(), f)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidFilter) {
			badRequest(c, err.Error())
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
