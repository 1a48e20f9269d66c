package telephony

import (
	"context"
	"time"
)

// Provider is the carrier-agnostic capability the dialer uses to place and
// control outbound calls.
//
// Rules:
// - No carrier SDK or wire format leaks past the adapters in this package.
// - Every method is a network call; callers must not hold in-memory locks across it.
type Provider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	PlaceCall(ctx context.Context, req PlaceCallRequest) (CallSession, error)
	EndCall(ctx context.Context, sid string) error
	GetCallStatus(ctx context.Context, sid string) (CallInfo, error)
}

// StatusSink receives asynchronous call progress reported by a provider
// (webhooks). The dialer implements it.
type StatusSink interface {
	HandleProviderStatus(ctx context.Context, ev StatusEvent) error
}

type PlaceCallRequest struct {
	// To and From are E.164 where possible. From is optional for some carriers.
	To   string `json:"to"`
	From string `json:"from,omitempty"`

	// ConnectTo is where the answered leg is bridged: "client:<id>", "sip:<uri>" or a number.
	ConnectTo string `json:"connect_to,omitempty"`

	// StatusCallbackURL receives progress events for this call, if the carrier supports it.
	StatusCallbackURL string `json:"status_callback_url,omitempty"`
}

// CallSession is the provider's descriptor for a freshly placed call.
type CallSession struct {
	SID    string         `json:"sid"`
	Status ProviderStatus `json:"status"`
}

// CallInfo is a point-in-time view of a provider call.
type CallInfo struct {
	SID             string         `json:"sid"`
	Status          ProviderStatus `json:"status"`
	DurationSeconds int            `json:"duration"`
	To              string         `json:"to"`
	From            string         `json:"from"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	AnsweredAt      *time.Time     `json:"answered_at,omitempty"`
}

// StatusEvent is one progress report for a provider call, whether it came
// from a webhook or from polling.
type StatusEvent struct {
	SID             string         `json:"sid"`
	Status          ProviderStatus `json:"status"`
	DurationSeconds int            `json:"duration"`
	AnsweredAt      *time.Time     `json:"answered_at,omitempty"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// EventFromInfo turns a polled CallInfo into a StatusEvent.
func EventFromInfo(info CallInfo, at time.Time) StatusEvent {
	return StatusEvent{
		SID:             info.SID,
		Status:          info.Status,
		DurationSeconds: info.DurationSeconds,
		AnsweredAt:      info.AnsweredAt,
		OccurredAt:      at,
	}
}

// ProviderStatus uses the Twilio call status vocabulary, which other carriers map onto.
type ProviderStatus string

const (
	StatusQueued     ProviderStatus = "queued"
	StatusInitiated  ProviderStatus = "initiated"
	StatusRinging    ProviderStatus = "ringing"
	StatusInProgress ProviderStatus = "in-progress"
	StatusCompleted  ProviderStatus = "completed"
	StatusBusy       ProviderStatus = "busy"
	StatusFailed     ProviderStatus = "failed"
	StatusNoAnswer   ProviderStatus = "no-answer"
	StatusCanceled   ProviderStatus = "canceled"
)

func (s ProviderStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusInitiated, StatusRinging, StatusInProgress,
		StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the provider will send no further progress for the call.
func (s ProviderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}

// ConnectFailed reports whether the call ended without ever being answered.
func (s ProviderStatus) ConnectFailed() bool {
	switch s {
	case StatusBusy, StatusFailed, StatusNoAnswer, StatusCanceled:
		return true
	default:
		return false
	}
}
