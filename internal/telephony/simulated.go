package telephony

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// SimulatedProvider places no real calls. It backs local development and tests:
// calls are kept in memory and progress is driven by SetStatus.
type SimulatedProvider struct {
	mu       sync.Mutex
	seq      int
	calls    map[string]*simCall
	failNext error
	now      func() time.Time
}

type simCall struct {
	info  CallInfo
	ended bool
}

var ErrUnknownCall = errors.New("telephony: unknown call sid")

func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{
		calls: make(map[string]*simCall),
		now:   time.Now,
	}
}

func (p *SimulatedProvider) Name() string { return "simulated" }

func (p *SimulatedProvider) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (p *SimulatedProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (CallSession, error) {
	if err := ctx.Err(); err != nil {
		return CallSession{}, err
	}
	if strings.TrimSpace(req.To) == "" {
		return CallSession{}, errors.New("telephony: destination number required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return CallSession{}, err
	}

	p.seq++
	sid := fmt.Sprintf("SIM%08d", p.seq)
	started := p.now().UTC()
	p.calls[sid] = &simCall{info: CallInfo{
		SID:       sid,
		Status:    StatusQueued,
		To:        req.To,
		From:      req.From,
		StartedAt: &started,
	}}
	return CallSession{SID: sid, Status: StatusQueued}, nil
}

func (p *SimulatedProvider) EndCall(ctx context.Context, sid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.calls[sid]
	if !ok {
		return ErrUnknownCall
	}
	c.ended = true
	if !c.info.Status.IsTerminal() {
		c.info.Status = StatusCompleted
	}
	return nil
}

func (p *SimulatedProvider) GetCallStatus(ctx context.Context, sid string) (CallInfo, error) {
	if err := ctx.Err(); err != nil {
		return CallInfo{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.calls[sid]
	if !ok {
		return CallInfo{}, ErrUnknownCall
	}
	return c.info, nil
}

// FailNextPlace makes the next PlaceCall return err.
func (p *SimulatedProvider) FailNextPlace(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// SetStatus moves a call to status and returns the event a webhook would carry.
func (p *SimulatedProvider) SetStatus(sid string, status ProviderStatus, durationSeconds int) (StatusEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.calls[sid]
	if !ok {
		return StatusEvent{}, ErrUnknownCall
	}
	now := p.now().UTC()
	c.info.Status = status
	if status == StatusInProgress && c.info.AnsweredAt == nil {
		c.info.AnsweredAt = &now
	}
	if durationSeconds > 0 {
		c.info.DurationSeconds = durationSeconds
	}
	return EventFromInfo(c.info, now), nil
}

// Ended reports whether EndCall was issued for sid.
func (p *SimulatedProvider) Ended(sid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[sid]
	return ok && c.ended
}

// Placed returns how many calls have been placed.
func (p *SimulatedProvider) Placed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}
