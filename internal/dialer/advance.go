package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-crm/internal/audit"
	"settlement-crm/internal/campaigns"
)

const (
	opAdvance  = "advance"
	opSkip     = "skip"
	opInitiate = "initiate"
)

// NextContact claims the next dialable contact for the session and makes it
// the session's current contact.
//
// Selection: pending contacts whose retry time has passed, fewest attempts
// first, then oldest membership. When the campaign has no pending contacts
// left the session stops as exhausted and (nil, nil) is returned; calling
// again on that session keeps returning (nil, nil) without touching anything.
func (e *Engine) NextContact(ctx context.Context, sessionID string) (*campaigns.Contact, error) {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	ent.mu.Lock()
	if ent.s.Status == SessionStopped {
		exhausted := ent.s.StopReason == StopExhausted
		ent.mu.Unlock()
		if exhausted {
			return nil, nil
		}
		return nil, ErrSessionStopped
	}
	if ent.s.ActiveCallID != "" {
		ent.mu.Unlock()
		return nil, ErrCallInProgress
	}
	if err := ent.reserve(opAdvance); err != nil {
		ent.mu.Unlock()
		return nil, err
	}
	sess := ent.s.clone()
	ent.mu.Unlock()
	defer e.finishOp(ctx, ent)

	if sess.CurrentContactID != "" {
		cur, err := e.campaigns.GetContact(ctx, sess.CurrentContactID)
		if err != nil && !errors.Is(err, campaigns.ErrNotFound) {
			return nil, fmt.Errorf("dialer: load current contact: %w", err)
		}
		if err == nil && cur.Status == campaigns.ContactDialing {
			return nil, ErrContactUnsettled
		}
	}

	for round := 0; round < maxClaimRetries; round++ {
		contacts, err := e.campaigns.ListContacts(ctx, sess.CampaignID)
		if err != nil {
			return nil, fmt.Errorf("dialer: list contacts: %w", err)
		}

		now := e.now()
		due, anyPending := dueContacts(contacts, now)
		if len(due) == 0 {
			if anyPending {
				return nil, ErrNoContactDue
			}
			e.exhaust(ctx, ent)
			return nil, nil
		}

		for _, pick := range due {
			claimed, err := e.campaigns.ClaimContact(ctx, pick.ID, now)
			if errors.Is(err, campaigns.ErrNotClaimable) || errors.Is(err, campaigns.ErrNotFound) {
				// Another session got there first.
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("dialer: claim contact: %w", err)
			}
			return e.adopt(ctx, ent, sess, claimed)
		}
	}
	return nil, fmt.Errorf("dialer: contact selection kept losing claim races: %w", ErrSessionBusy)
}

// adopt makes a freshly claimed contact the session's current one.
func (e *Engine) adopt(ctx context.Context, ent *entry, sess Session, claimed campaigns.Contact) (*campaigns.Contact, error) {
	ent.mu.Lock()
	if ent.s.Status == SessionStopped {
		ent.mu.Unlock()
		e.unclaim(ctx, claimed.ID)
		return nil, ErrSessionStopped
	}
	ent.s.CurrentContactID = claimed.ID
	ent.mu.Unlock()

	e.metrics.ContactClaimed()
	e.record(ctx, audit.Event{
		Type:       audit.EventContactClaimed,
		AgentID:    sess.AgentID,
		SessionID:  sess.ID,
		CampaignID: sess.CampaignID,
		ContactID:  claimed.ID,
	})
	return &claimed, nil
}

// dueContacts returns the due pending contacts in dialing order and whether
// any pending contact exists at all.
func dueContacts(contacts []campaigns.Contact, now time.Time) ([]campaigns.Contact, bool) {
	ordered := make([]campaigns.Contact, len(contacts))
	copy(ordered, contacts)
	campaigns.SortForDialing(ordered)

	anyPending := false
	due := make([]campaigns.Contact, 0, len(ordered))
	for _, c := range ordered {
		if c.Status != campaigns.ContactPending {
			continue
		}
		anyPending = true
		if c.DueAt(now) {
			due = append(due, c)
		}
	}
	return due, anyPending
}

func (e *Engine) exhaust(ctx context.Context, ent *entry) {
	ent.mu.Lock()
	if ent.s.Status == SessionStopped {
		ent.mu.Unlock()
		return
	}
	e.stopLocked(ent, StopExhausted)
	snap := ent.s.clone()
	ent.mu.Unlock()

	e.metrics.SessionStopped(StopExhausted)
	e.log.Info("dialer session exhausted campaign", "session_id", snap.ID, "campaign_id", snap.CampaignID)
	e.record(ctx, audit.Event{
		Type:       audit.EventSessionStopped,
		AgentID:    snap.AgentID,
		SessionID:  snap.ID,
		CampaignID: snap.CampaignID,
		Message:    StopExhausted,
	})
}

// unclaim hands a contact claimed for a session that stopped before calling
// it back to the pool. The attempt stays counted.
func (e *Engine) unclaim(ctx context.Context, contactID string) {
	_, err := e.campaigns.SettleContact(context.WithoutCancel(ctx), contactID, campaigns.Settlement{Status: campaigns.ContactPending})
	if err != nil && !errors.Is(err, campaigns.ErrInvalidTransition) {
		e.log.Warn("release of claimed contact failed", "contact_id", contactID, "err", err)
	}
}

// finishOp ends an in-flight operation. If the session was stopped while the
// operation ran and no call came of it, the current contact is handed back.
func (e *Engine) finishOp(ctx context.Context, ent *entry) {
	ent.mu.Lock()
	handBack := takeUncalledContact(ent)
	ent.op = ""
	ent.mu.Unlock()
	if handBack != "" {
		e.unclaim(ctx, handBack)
	}
}

// SkipContact drops the session's current dialing contact without calling it.
// A stopped session has no contact to skip: stopping hands it back.
func (e *Engine) SkipContact(ctx context.Context, sessionID, reason string) (campaigns.Contact, error) {
	ent, err := e.lookup(sessionID)
	if err != nil {
		return campaigns.Contact{}, err
	}

	ent.mu.Lock()
	if ent.s.ActiveCallID != "" {
		ent.mu.Unlock()
		return campaigns.Contact{}, ErrCallInProgress
	}
	if ent.s.CurrentContactID == "" {
		ent.mu.Unlock()
		return campaigns.Contact{}, ErrNoCurrentContact
	}
	if err := ent.reserve(opSkip); err != nil {
		ent.mu.Unlock()
		return campaigns.Contact{}, err
	}
	sess := ent.s.clone()
	ent.mu.Unlock()
	defer e.finishOp(ctx, ent)

	c, err := e.campaigns.SettleContact(ctx, sess.CurrentContactID, campaigns.Settlement{Status: campaigns.ContactSkipped})
	switch {
	case errors.Is(err, campaigns.ErrInvalidTransition):
		return campaigns.Contact{}, ErrContactNotDialable
	case errors.Is(err, campaigns.ErrNotFound):
		return campaigns.Contact{}, ErrContactNotFound
	case err != nil:
		return campaigns.Contact{}, fmt.Errorf("dialer: skip contact: %w", err)
	}

	ent.mu.Lock()
	if ent.s.CurrentContactID == c.ID {
		ent.s.CurrentContactID = ""
	}
	ent.mu.Unlock()

	e.record(ctx, audit.Event{
		Type:       audit.EventContactSkipped,
		AgentID:    sess.AgentID,
		SessionID:  sess.ID,
		CampaignID: sess.CampaignID,
		ContactID:  c.ID,
		Message:    strings.TrimSpace(reason),
	})
	return c, nil
}
