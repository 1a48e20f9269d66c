package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-crm/internal/audit"
	"settlement-crm/internal/calls"
	"settlement-crm/internal/campaigns"
	"settlement-crm/internal/telephony"

	"github.com/google/uuid"
)

// InitiateResult is what InitiateCall hands back to the caller.
type InitiateResult struct {
	CallID string                `json:"call_id"`
	Call   telephony.CallSession `json:"call"`
}

// InitiateCall places a call to the session's current contact.
//
// A session has at most one call in flight: a second InitiateCall before the
// first is dispositioned fails with ErrCallInProgress. When the provider
// refuses the call the contact stays dialing so the agent can retry or skip it.
func (e *Engine) InitiateCall(ctx context.Context, sessionID, contactID string) (InitiateResult, error) {
	if strings.TrimSpace(contactID) == "" {
		return InitiateResult{}, requiredError("contact_id")
	}
	ent, err := e.lookup(sessionID)
	if err != nil {
		return InitiateResult{}, err
	}

	ent.mu.Lock()
	switch {
	case ent.s.Status == SessionStopped:
		ent.mu.Unlock()
		return InitiateResult{}, ErrSessionStopped
	case ent.s.ActiveCallID != "":
		ent.mu.Unlock()
		return InitiateResult{}, ErrCallInProgress
	}
	if err := ent.reserve(opInitiate); err != nil {
		ent.mu.Unlock()
		return InitiateResult{}, err
	}
	if ent.s.CurrentContactID != contactID {
		ent.op = ""
		ent.mu.Unlock()
		return InitiateResult{}, ErrContactNotDialable
	}
	sess := ent.s.clone()
	ent.mu.Unlock()
	defer e.finishOp(ctx, ent)

	contact, err := e.campaigns.GetContact(ctx, contactID)
	if err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return InitiateResult{}, ErrContactNotFound
		}
		return InitiateResult{}, fmt.Errorf("dialer: load contact: %w", err)
	}
	if contact.CampaignID != sess.CampaignID || contact.Status != campaigns.ContactDialing {
		return InitiateResult{}, ErrContactNotDialable
	}

	from := e.fromNumber
	camp, err := e.campaigns.GetCampaign(ctx, sess.CampaignID)
	switch {
	case err == nil && camp.CallerID != "":
		from = camp.CallerID
	case err != nil && !errors.Is(err, campaigns.ErrNotFound):
		return InitiateResult{}, fmt.Errorf("dialer: load campaign: %w", err)
	}

	lineHeld := false
	if e.lines != nil {
		ok, err := e.lines.Acquire(ctx, sess.CampaignID)
		if err != nil {
			return InitiateResult{}, fmt.Errorf("dialer: acquire line: %w", err)
		}
		if !ok {
			e.metrics.CallPlaced("lines_busy")
			return InitiateResult{}, ErrLinesBusy
		}
		lineHeld = true
	}

	started := time.Now()
	placed, err := e.provider.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                contact.Phone,
		From:              from,
		ConnectTo:         e.connectTarget(sess.AgentID),
		StatusCallbackURL: e.statusCallback,
	})
	e.metrics.ObserveProvider("place_call", started)
	if err != nil {
		e.releaseLine(ctx, sess.CampaignID, lineHeld)
		e.metrics.CallPlaced("provider_error")
		e.log.Warn("place call failed", "session_id", sess.ID, "contact_id", contactID, "provider", e.provider.Name(), "err", err)
		e.record(ctx, audit.Event{
			Type:       audit.EventCallFailed,
			AgentID:    sess.AgentID,
			SessionID:  sess.ID,
			CampaignID: sess.CampaignID,
			ContactID:  contactID,
			Message:    err.Error(),
		})
		return InitiateResult{}, &TelephonyError{Op: "place call", Err: err}
	}

	now := e.now().UTC()
	call, err := e.calls.Create(ctx, calls.Call{
		ID:             uuid.NewString(),
		SessionID:      sess.ID,
		CampaignID:     sess.CampaignID,
		ContactID:      contact.ID,
		LeadID:         contact.LeadID,
		AgentID:        sess.AgentID,
		Direction:      calls.DirectionOutbound,
		ExternalSID:    placed.SID,
		To:             contact.Phone,
		From:           from,
		Status:         calls.StatusInitiated,
		ProviderStatus: string(placed.Status),
		StartedAt:      now,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		// Without a row nobody could close this call out; take it down.
		if endErr := e.provider.EndCall(ctx, placed.SID); endErr != nil {
			e.log.Error("orphaned provider call", "sid", placed.SID, "err", endErr)
		}
		e.releaseLine(ctx, sess.CampaignID, lineHeld)
		e.metrics.CallPlaced("store_error")
		return InitiateResult{}, fmt.Errorf("dialer: record call: %w", err)
	}

	// Set even if the session was stopped meanwhile: the call is live and
	// its disposition must still clear it. The SID is published only after
	// this, so a callback that closes the call always finds it set.
	ent.mu.Lock()
	ent.s.ActiveCallID = call.ID
	ent.mu.Unlock()

	e.sids.add(placed.SID, sidRef{
		CallID:     call.ID,
		SessionID:  sess.ID,
		CampaignID: sess.CampaignID,
		LineHeld:   lineHeld,
	})
	e.metrics.SetSIDIndexSize(e.sids.len())

	e.metrics.CallPlaced("ok")
	e.log.Info("call placed", "session_id", sess.ID, "call_id", call.ID, "sid", placed.SID, "contact_id", contact.ID)
	e.record(ctx, audit.Event{
		Type:       audit.EventCallPlaced,
		AgentID:    sess.AgentID,
		SessionID:  sess.ID,
		CampaignID: sess.CampaignID,
		ContactID:  contact.ID,
		CallID:     call.ID,
	})
	return InitiateResult{CallID: call.ID, Call: placed}, nil
}

func (e *Engine) releaseLine(ctx context.Context, campaignID string, held bool) {
	if !held || e.lines == nil {
		return
	}
	// The line is released even if the request context is already gone.
	if err := e.lines.Release(context.WithoutCancel(ctx), campaignID); err != nil {
		e.log.Warn("line release failed", "campaign_id", campaignID, "err", err)
	}
}

// CloseOut is what an agent submits to finish a call. Disposition is the only
// required field.
type CloseOut struct {
	Disposition  string
	Notes        string
	Transcript   string
	Feedback     string
	NextFollowUp *time.Time
}

// SubmitDisposition closes a call out and settles its contact according to
// the disposition policy. It does not advance the session; NextContact is a
// separate call. A second submission for the same call fails with
// ErrCallCompleted and changes nothing.
func (e *Engine) SubmitDisposition(ctx context.Context, callID, disposition, notes string, nextFollowUp *time.Time) (calls.Call, error) {
	return e.dispose(ctx, callID, CloseOut{Disposition: disposition, Notes: notes, NextFollowUp: nextFollowUp}, "")
}

// CloseCall is SubmitDisposition with transcript and feedback attached.
func (e *Engine) CloseCall(ctx context.Context, callID string, in CloseOut) (calls.Call, error) {
	return e.dispose(ctx, callID, in, "")
}

func (e *Engine) dispose(ctx context.Context, callID string, in CloseOut, providerStatus string) (calls.Call, error) {
	if strings.TrimSpace(callID) == "" {
		return calls.Call{}, requiredError("call_id")
	}
	if strings.TrimSpace(in.Disposition) == "" {
		return calls.Call{}, requiredError("disposition")
	}
	code := NormalizeDisposition(in.Disposition)
	if _, ok := e.policy.Lookup(code); !ok {
		return calls.Call{}, fmt.Errorf("%w: %q", ErrUnknownDisposition, in.Disposition)
	}

	existing, err := e.calls.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, ErrCallNotFound
		}
		return calls.Call{}, fmt.Errorf("dialer: load call: %w", err)
	}
	if existing.Completed() {
		return calls.Call{}, ErrCallCompleted
	}

	now := e.now().UTC()
	call, err := e.calls.Finalize(ctx, callID, calls.Final{
		Disposition:    code,
		Notes:          strings.TrimSpace(in.Notes),
		Transcript:     strings.TrimSpace(in.Transcript),
		Feedback:       strings.TrimSpace(in.Feedback),
		EndedAt:        now,
		ProviderStatus: providerStatus,
	})
	if err != nil {
		if errors.Is(err, calls.ErrAlreadyCompleted) {
			return calls.Call{}, ErrCallCompleted
		}
		if errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, ErrCallNotFound
		}
		return calls.Call{}, fmt.Errorf("dialer: finalize call: %w", err)
	}

	// From here on the call is closed; the remaining steps must all run.
	settleErr := e.settleContact(ctx, call, code, in.NextFollowUp, now)

	if ent, ok := e.sessions.get(call.SessionID); ok {
		ent.mu.Lock()
		if ent.s.ActiveCallID == call.ID {
			ent.s.ActiveCallID = ""
		}
		// The contact is settled; a later stop must not hand it back.
		if ent.s.CurrentContactID == call.ContactID {
			ent.s.CurrentContactID = ""
		}
		ent.mu.Unlock()
	}

	if e.sids.finalize(call.ID, now) {
		e.releaseLine(ctx, call.CampaignID, true)
	}
	e.metrics.SetSIDIndexSize(e.sids.prune(now.Add(-e.sidRetention)))

	e.record(ctx, audit.Event{
		Type:       audit.EventDispositionSubmitted,
		AgentID:    call.AgentID,
		SessionID:  call.SessionID,
		CampaignID: call.CampaignID,
		ContactID:  call.ContactID,
		CallID:     call.ID,
		Message:    code,
	})
	if settleErr != nil {
		return call, settleErr
	}
	return call, nil
}

func (e *Engine) settleContact(ctx context.Context, call calls.Call, code string, nextFollowUp *time.Time, now time.Time) error {
	contact, err := e.campaigns.GetContact(ctx, call.ContactID)
	if err != nil {
		e.log.Error("disposition: contact lookup failed", "call_id", call.ID, "contact_id", call.ContactID, "err", err)
		return fmt.Errorf("dialer: load contact for disposition: %w", err)
	}

	settlement, outcome, err := e.policy.Settle(code, contact.AttemptCount, nextFollowUp, now)
	if err != nil {
		return err
	}
	if _, err := e.campaigns.SettleContact(ctx, contact.ID, settlement); err != nil {
		if errors.Is(err, campaigns.ErrInvalidTransition) {
			// Someone already moved the contact on; the call record is what matters here.
			e.log.Warn("disposition: contact no longer dialing", "call_id", call.ID, "contact_id", contact.ID, "status", contact.Status)
			return nil
		}
		e.log.Error("disposition: contact update failed", "call_id", call.ID, "contact_id", contact.ID, "err", err)
		return fmt.Errorf("dialer: settle contact: %w", err)
	}
	e.metrics.Disposition(string(outcome), code)
	return nil
}

// CallIDFromSID resolves a provider SID to the call id.
func (e *Engine) CallIDFromSID(sid string) (string, bool) {
	ref, ok := e.sids.lookup(sid)
	if !ok {
		return "", false
	}
	return ref.CallID, true
}

// HandleProviderStatus applies one asynchronous status report. Reports for
// calls that are already closed are dropped. It implements telephony.StatusSink.
func (e *Engine) HandleProviderStatus(ctx context.Context, ev telephony.StatusEvent) error {
	if ev.SID == "" {
		return requiredError("sid")
	}
	if !ev.Status.Valid() {
		return fmt.Errorf("dialer: provider status %q: %w", ev.Status, ErrValidation)
	}
	e.metrics.ProviderEvent(string(ev.Status))

	ref, ok := e.sids.lookup(ev.SID)
	if !ok {
		return ErrUnknownSID
	}
	if ref.finalized() {
		e.log.Debug("late provider status dropped", "sid", ev.SID, "status", ev.Status)
		return nil
	}
	_, err := e.applyStatus(ctx, ref.CallID, ev)
	return err
}

func (e *Engine) applyStatus(ctx context.Context, callID string, ev telephony.StatusEvent) (calls.Call, error) {
	at := ev.OccurredAt
	if at.IsZero() {
		at = e.now()
	}
	p := calls.Progress{
		ProviderStatus:  string(ev.Status),
		DurationSeconds: ev.DurationSeconds,
		At:              at.UTC(),
	}
	switch ev.Status {
	case telephony.StatusRinging:
		p.Status = calls.StatusRinging
	case telephony.StatusInProgress:
		p.Status = calls.StatusAnswered
		answered := at
		if ev.AnsweredAt != nil {
			answered = *ev.AnsweredAt
		}
		p.AnsweredAt = &answered
	}

	call, err := e.calls.RecordProgress(ctx, callID, p)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, ErrCallNotFound
		}
		return calls.Call{}, fmt.Errorf("dialer: record progress: %w", err)
	}

	if ev.Status.ConnectFailed() && e.autoDisposition && !call.Completed() {
		code := autoDisposition(ev.Status)
		closed, err := e.dispose(ctx, callID, CloseOut{Disposition: code, Notes: "provider reported " + string(ev.Status)}, string(ev.Status))
		switch {
		case errors.Is(err, ErrCallCompleted):
			// The agent beat us to it.
		case err != nil:
			return call, err
		default:
			e.log.Info("call auto-dispositioned", "call_id", callID, "disposition", code)
			call = closed
		}
	}

	e.record(ctx, audit.Event{
		Type:       audit.EventProviderStatus,
		AgentID:    call.AgentID,
		SessionID:  call.SessionID,
		CampaignID: call.CampaignID,
		ContactID:  call.ContactID,
		CallID:     call.ID,
		Message:    string(ev.Status),
	})
	return call, nil
}

func autoDisposition(s telephony.ProviderStatus) string {
	switch s {
	case telephony.StatusBusy:
		return DispositionBusy
	case telephony.StatusFailed:
		return DispositionFailed
	default:
		return DispositionNoAnswer
	}
}

// GetCall returns the stored call record.
func (e *Engine) GetCall(ctx context.Context, callID string) (calls.Call, error) {
	if strings.TrimSpace(callID) == "" {
		return calls.Call{}, requiredError("call_id")
	}
	c, err := e.calls.Get(ctx, callID)
	if err != nil {
		if errors.Is(err, calls.ErrNotFound) {
			return calls.Call{}, ErrCallNotFound
		}
		return calls.Call{}, fmt.Errorf("dialer: load call: %w", err)
	}
	return c, nil
}

// PollCallStatus asks the provider for the call's state, applies it like a
// callback and returns the refreshed record. Completed calls are returned as is.
func (e *Engine) PollCallStatus(ctx context.Context, callID string) (calls.Call, error) {
	call, err := e.GetCall(ctx, callID)
	if err != nil {
		return calls.Call{}, err
	}
	if call.Completed() {
		return call, nil
	}

	started := time.Now()
	info, err := e.provider.GetCallStatus(ctx, call.ExternalSID)
	e.metrics.ObserveProvider("get_call_status", started)
	if err != nil {
		return call, &TelephonyError{Op: "get call status", Err: err}
	}
	if !info.Status.Valid() {
		return call, &TelephonyError{Op: "get call status", Err: fmt.Errorf("unexpected provider status %q", info.Status)}
	}
	e.metrics.ProviderEvent(string(info.Status))
	return e.applyStatus(ctx, call.ID, telephony.EventFromInfo(info, e.now().UTC()))
}

// HangUp ends a live call at the provider. The call record is closed by the
// disposition that follows, not here.
func (e *Engine) HangUp(ctx context.Context, callID string) error {
	call, err := e.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if call.Completed() {
		return ErrCallCompleted
	}

	started := time.Now()
	err = e.provider.EndCall(ctx, call.ExternalSID)
	e.metrics.ObserveProvider("end_call", started)
	if err != nil {
		return &TelephonyError{Op: "end call", Err: err}
	}
	e.record(ctx, audit.Event{
		Type:       audit.EventCallHungUp,
		AgentID:    call.AgentID,
		SessionID:  call.SessionID,
		CampaignID: call.CampaignID,
		CallID:     call.ID,
	})
	return nil
}
