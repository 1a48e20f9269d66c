package dialer

import (
	"sync"
	"time"
)

// sidRef correlates a provider call leg with our records.
type sidRef struct {
	CallID     string
	SessionID  string
	CampaignID string
	// LineHeld is true while the call owns a campaign line slot.
	LineHeld    bool
	FinalizedAt time.Time
}

func (r sidRef) finalized() bool { return !r.FinalizedAt.IsZero() }

// sidIndex maps provider SIDs to call ids. It is shared by every session, so
// it has its own lock and never does I/O under it. Finalized entries stay
// resolvable for a retention window so late callbacks can be recognized and
// dropped, then they are pruned.
type sidIndex struct {
	mu     sync.RWMutex
	bySID  map[string]*sidRef
	byCall map[string]string
}

func newSIDIndex() *sidIndex {
	return &sidIndex{
		bySID:  make(map[string]*sidRef),
		byCall: make(map[string]string),
	}
}

func (x *sidIndex) add(sid string, ref sidRef) {
	x.mu.Lock()
	defer x.mu.Unlock()
	r := ref
	x.bySID[sid] = &r
	x.byCall[ref.CallID] = sid
}

func (x *sidIndex) lookup(sid string) (sidRef, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	r, ok := x.bySID[sid]
	if !ok {
		return sidRef{}, false
	}
	return *r, true
}

// finalize marks the call's entry closed and hands back whether the caller
// must release the line slot. Only the first call for a given id gets true.
func (x *sidIndex) finalize(callID string, at time.Time) (releaseLine bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	sid, ok := x.byCall[callID]
	if !ok {
		return false
	}
	r := x.bySID[sid]
	if r.finalized() {
		return false
	}
	r.FinalizedAt = at
	releaseLine = r.LineHeld
	r.LineHeld = false
	return releaseLine
}

// prune drops entries finalized before cutoff and returns how many remain.
func (x *sidIndex) prune(cutoff time.Time) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	for sid, r := range x.bySID {
		if r.finalized() && r.FinalizedAt.Before(cutoff) {
			delete(x.bySID, sid)
			delete(x.byCall, r.CallID)
		}
	}
	return len(x.bySID)
}

func (x *sidIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.bySID)
}
