package dialer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"settlement-crm/internal/audit"
	"settlement-crm/internal/campaigns"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionStopped SessionStatus = "stopped"
)

// Why a session stopped.
const (
	StopOperator  = "operator"
	StopExhausted = "exhausted"
)

// Session is a snapshot of one agent's run through a campaign.
// Values returned by the engine are copies; mutating them changes nothing.
type Session struct {
	ID         string        `json:"id"`
	CampaignID string        `json:"campaign_id"`
	AgentID    string        `json:"agent_id"`
	Status     SessionStatus `json:"status"`

	CurrentContactID string `json:"current_contact_id,omitempty"`
	// ActiveCallID is set only while a call is in flight.
	ActiveCallID string `json:"active_call_id,omitempty"`

	StartedAt  time.Time  `json:"started_at"`
	StoppedAt  *time.Time `json:"stopped_at,omitempty"`
	StopReason string     `json:"stop_reason,omitempty"`
}

func (s Session) clone() Session {
	out := s
	if s.StoppedAt != nil {
		at := *s.StoppedAt
		out.StoppedAt = &at
	}
	return out
}

// entry guards one session. mu is never held across provider or store I/O;
// an operation that needs I/O sets op under mu, releases it, does the I/O and
// re-locks to commit; Engine.finishOp clears op. Any other mutation seen
// during that window fails with ErrSessionBusy instead of waiting.
type entry struct {
	mu sync.Mutex
	s  Session
	op string
}

// reserve marks the session as owned by op. Callers hold e.mu.
func (e *entry) reserve(op string) error {
	if e.op != "" {
		return ErrSessionBusy
	}
	e.op = op
	return nil
}

func (e *entry) snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.clone()
}

// registry is the process-wide session table. Its lock covers only the map;
// per-session work happens under the entry's own lock so sessions never block
// each other.
type registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*entry)}
}

func (r *registry) add(e *entry) {
	r.mu.Lock()
	r.sessions[e.s.ID] = e
	r.mu.Unlock()
}

func (r *registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	return e, ok
}

func (r *registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	return out
}

func (e *Engine) lookup(sessionID string) (*entry, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, requiredError("session_id")
	}
	ent, ok := e.sessions.get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return ent, nil
}

// StartSession opens a session for agentID on an active campaign.
func (e *Engine) StartSession(ctx context.Context, campaignID, agentID string) (Session, error) {
	campaignID = strings.TrimSpace(campaignID)
	agentID = strings.TrimSpace(agentID)
	if campaignID == "" {
		return Session{}, requiredError("campaign_id")
	}
	if agentID == "" {
		return Session{}, requiredError("agent_id")
	}

	camp, err := e.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return Session{}, ErrCampaignNotFound
		}
		return Session{}, fmt.Errorf("dialer: load campaign: %w", err)
	}
	if camp.Status != campaigns.CampaignActive {
		return Session{}, ErrCampaignInactive
	}

	ent := &entry{s: Session{
		ID:         uuid.NewString(),
		CampaignID: camp.ID,
		AgentID:    agentID,
		Status:     SessionActive,
		StartedAt:  e.now().UTC(),
	}}
	e.sessions.add(ent)
	e.metrics.SessionStarted()

	snap := ent.snapshot()
	e.log.Info("dialer session started", "session_id", snap.ID, "campaign_id", snap.CampaignID, "agent_id", agentID)
	e.record(ctx, audit.Event{
		Type:       audit.EventSessionStarted,
		AgentID:    agentID,
		SessionID:  snap.ID,
		CampaignID: snap.CampaignID,
	})
	return snap, nil
}

// GetSession returns a snapshot of the session.
func (e *Engine) GetSession(sessionID string) (Session, error) {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}
	return ent.snapshot(), nil
}

// ListSessions returns snapshots, newest first. An empty agentID lists every session.
func (e *Engine) ListSessions(agentID string) []Session {
	out := make([]Session, 0)
	for _, ent := range e.sessions.all() {
		s := ent.snapshot()
		if agentID != "" && s.AgentID != agentID {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}

// StopSession marks the session stopped. A live call is left alone: hanging
// up is a separate operator action (HangUp), and the call can still be
// dispositioned. Stopping an already stopped session returns it unchanged.
func (e *Engine) StopSession(ctx context.Context, sessionID string) (Session, error) {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return Session{}, err
	}

	ent.mu.Lock()
	if ent.s.Status == SessionStopped {
		snap := ent.s.clone()
		ent.mu.Unlock()
		return snap, nil
	}
	e.stopLocked(ent, StopOperator)
	// A claimed contact that was never called goes back to the pool. With an
	// operation in flight the operation itself does this when it finishes.
	var handBack string
	if ent.op == "" {
		handBack = takeUncalledContact(ent)
	}
	snap := ent.s.clone()
	ent.mu.Unlock()

	if handBack != "" {
		e.unclaim(ctx, handBack)
	}
	e.metrics.SessionStopped(StopOperator)
	e.log.Info("dialer session stopped", "session_id", snap.ID, "active_call_id", snap.ActiveCallID, "released_contact_id", handBack)
	e.record(ctx, audit.Event{
		Type:       audit.EventSessionStopped,
		AgentID:    snap.AgentID,
		SessionID:  snap.ID,
		CampaignID: snap.CampaignID,
		CallID:     snap.ActiveCallID,
		Message:    StopOperator,
	})
	return snap, nil
}

// stopLocked transitions an active session. Callers hold ent.mu.
func (e *Engine) stopLocked(ent *entry, reason string) {
	at := e.now().UTC()
	ent.s.Status = SessionStopped
	ent.s.StoppedAt = &at
	ent.s.StopReason = reason
	if reason == StopExhausted {
		ent.s.CurrentContactID = ""
	}
}

// takeUncalledContact clears and returns the current contact of a stopped
// session that has no call. Callers hold ent.mu.
func takeUncalledContact(ent *entry) string {
	if ent.s.Status != SessionStopped || ent.s.ActiveCallID != "" {
		return ""
	}
	id := ent.s.CurrentContactID
	ent.s.CurrentContactID = ""
	return id
}

// ActiveSessions counts active sessions, optionally for one campaign.
func (e *Engine) ActiveSessions(campaignID string) int {
	n := 0
	for _, ent := range e.sessions.all() {
		s := ent.snapshot()
		if s.Status == SessionActive && (campaignID == "" || s.CampaignID == campaignID) {
			n++
		}
	}
	return n
}
