package dialer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"settlement-crm/internal/audit"
	"settlement-crm/internal/calls"
	"settlement-crm/internal/campaigns"
	"settlement-crm/internal/metrics"
	"settlement-crm/internal/telephony"
)

// Auditor records dialer activity. *audit.Service satisfies it.
type Auditor interface {
	Append(ctx context.Context, e audit.Event) error
}

// Config wires the engine. Campaigns, Calls and Provider are required.
type Config struct {
	Campaigns campaigns.Repository
	Calls     calls.Store
	Provider  telephony.Provider

	Policy Policy
	// Lines caps concurrent calls per campaign; nil means no cap.
	Lines   LineLimiter
	Audit   Auditor
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// FromNumber is used when the campaign has no caller id.
	FromNumber        string
	StatusCallbackURL string
	// ConnectTemplate builds the bridge target; "{agent}" becomes the agent id.
	ConnectTemplate string
	// AutoDisposition closes calls the provider reports as never connected.
	AutoDisposition bool
	// SIDRetention is how long finalized SIDs stay resolvable for late callbacks.
	SIDRetention time.Duration

	Now func() time.Time
}

// Engine is the outbound dialer: the session registry, contact advancement
// and the call lifecycle coordinator share it.
//
// Sessions live only in this process. Restarting loses them; call and contact
// rows stay in the stores.
type Engine struct {
	campaigns campaigns.Repository
	calls     calls.Store
	provider  telephony.Provider
	policy    Policy
	lines     LineLimiter
	audit     Auditor
	metrics   *metrics.Metrics
	log       *slog.Logger

	fromNumber      string
	statusCallback  string
	connectTemplate string
	autoDisposition bool
	sidRetention    time.Duration

	now func() time.Time

	sessions *registry
	sids     *sidIndex
}

const maxClaimRetries = 5

func New(cfg Config) (*Engine, error) {
	if cfg.Campaigns == nil || cfg.Calls == nil || cfg.Provider == nil {
		return nil, errors.New("dialer: campaigns, calls and provider are required")
	}
	if cfg.Policy.Rules == nil {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ConnectTemplate == "" {
		cfg.ConnectTemplate = "client:{agent}"
	}
	if cfg.SIDRetention <= 0 {
		cfg.SIDRetention = 15 * time.Minute
	}

	return &Engine{
		campaigns:       cfg.Campaigns,
		calls:           cfg.Calls,
		provider:        cfg.Provider,
		policy:          cfg.Policy,
		lines:           cfg.Lines,
		audit:           cfg.Audit,
		metrics:         cfg.Metrics,
		log:             cfg.Logger.With("component", "dialer"),
		fromNumber:      cfg.FromNumber,
		statusCallback:  cfg.StatusCallbackURL,
		connectTemplate: cfg.ConnectTemplate,
		autoDisposition: cfg.AutoDisposition,
		sidRetention:    cfg.SIDRetention,
		now:             cfg.Now,
		sessions:        newRegistry(),
		sids:            newSIDIndex(),
	}, nil
}

// Policy returns the effective disposition table.
func (e *Engine) Policy() Policy { return e.policy }

func (e *Engine) connectTarget(agentID string) string {
	return strings.ReplaceAll(e.connectTemplate, "{agent}", agentID)
}

// record appends an audit event; failures are logged, never returned.
func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Append(ctx, ev); err != nil {
		e.log.Warn("audit append failed", "type", ev.Type, "err", err)
	}
}
