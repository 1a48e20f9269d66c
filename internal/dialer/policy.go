package dialer

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"settlement-crm/internal/campaigns"

	"gopkg.in/yaml.v3"
)

// Outcome is what a disposition does to the campaign contact.
type Outcome string

const (
	// OutcomeComplete closes the contact for this campaign.
	OutcomeComplete Outcome = "complete"
	// OutcomeRetry returns the contact to pending, optionally not before a delay.
	OutcomeRetry Outcome = "retry"
	// OutcomeFail stops dialing the contact without counting it as reached.
	OutcomeFail Outcome = "fail"
)

func (o Outcome) valid() bool {
	return o == OutcomeComplete || o == OutcomeRetry || o == OutcomeFail
}

// Rule maps one disposition code to a contact outcome.
type Rule struct {
	Outcome Outcome `yaml:"outcome" json:"outcome"`
	// RetryAfter applies when no explicit follow-up time is given.
	RetryAfter time.Duration `yaml:"retry_after,omitempty" json:"retry_after,omitempty"`
}

// Policy is the one authoritative disposition table. Nothing else in the
// service decides which dispositions are terminal.
type Policy struct {
	Rules map[string]Rule `yaml:"dispositions"`
	// MaxAttempts turns a retry into a failure once a contact has been dialed
	// this many times. Zero means unlimited.
	MaxAttempts int `yaml:"max_attempts"`
}

// Disposition codes known out of the box.
const (
	DispositionEnrolled      = "ENROLLED"
	DispositionInterested    = "INTERESTED"
	DispositionCallback      = "CALLBACK"
	DispositionNotInterested = "NOT_INTERESTED"
	DispositionDNC           = "DNC"
	DispositionNoAnswer      = "NO_ANSWER"
	DispositionVoicemail     = "VOICEMAIL"
	DispositionBusy          = "BUSY"
	DispositionFailed        = "FAILED"
	DispositionWrongNumber   = "WRONG_NUMBER"
)

func DefaultPolicy() Policy {
	return Policy{
		Rules: map[string]Rule{
			DispositionEnrolled:      {Outcome: OutcomeComplete},
			DispositionNotInterested: {Outcome: OutcomeComplete},
			DispositionDNC:           {Outcome: OutcomeComplete},
			DispositionInterested:    {Outcome: OutcomeRetry},
			DispositionCallback:      {Outcome: OutcomeRetry},
			DispositionNoAnswer:      {Outcome: OutcomeRetry, RetryAfter: time.Hour},
			DispositionVoicemail:     {Outcome: OutcomeRetry, RetryAfter: 4 * time.Hour},
			DispositionBusy:          {Outcome: OutcomeRetry, RetryAfter: 15 * time.Minute},
			DispositionFailed:        {Outcome: OutcomeRetry, RetryAfter: time.Hour},
			DispositionWrongNumber:   {Outcome: OutcomeFail},
		},
		MaxAttempts: 6,
	}
}

// NormalizeDisposition upper-cases and trims a code the way the table stores it.
func NormalizeDisposition(d string) string {
	return strings.ToUpper(strings.TrimSpace(d))
}

func (p Policy) Lookup(disposition string) (Rule, bool) {
	r, ok := p.Rules[NormalizeDisposition(disposition)]
	return r, ok
}

// Codes returns the known disposition codes, sorted.
func (p Policy) Codes() []string {
	out := make([]string, 0, len(p.Rules))
	for k := range p.Rules {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (p Policy) Validate() error {
	if len(p.Rules) == 0 {
		return errors.New("dialer: disposition policy has no rules")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("dialer: max_attempts must be >= 0, got %d", p.MaxAttempts)
	}
	var errs []error
	for code, r := range p.Rules {
		if code == "" || code != NormalizeDisposition(code) {
			errs = append(errs, fmt.Errorf("disposition %q must be upper case", code))
		}
		if !r.Outcome.valid() {
			errs = append(errs, fmt.Errorf("disposition %s: unknown outcome %q", code, r.Outcome))
		}
		if r.RetryAfter < 0 {
			errs = append(errs, fmt.Errorf("disposition %s: retry_after must be >= 0", code))
		}
	}
	return errors.Join(errs...)
}

// Settle decides the contact transition for a disposition. attempts is the
// contact's AttemptCount including the call being closed.
func (p Policy) Settle(disposition string, attempts int, nextFollowUp *time.Time, now time.Time) (campaigns.Settlement, Outcome, error) {
	code := NormalizeDisposition(disposition)
	rule, ok := p.Rules[code]
	if !ok {
		return campaigns.Settlement{}, "", ErrUnknownDisposition
	}

	out := campaigns.Settlement{Disposition: code}
	outcome := rule.Outcome
	if outcome == OutcomeRetry && p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		outcome = OutcomeFail
	}

	switch outcome {
	case OutcomeComplete:
		out.Status = campaigns.ContactCompleted
	case OutcomeFail:
		out.Status = campaigns.ContactFailed
	case OutcomeRetry:
		out.Status = campaigns.ContactPending
		switch {
		case nextFollowUp != nil && !nextFollowUp.IsZero():
			at := nextFollowUp.UTC()
			out.NextAttemptAt = &at
		case rule.RetryAfter > 0:
			at := now.Add(rule.RetryAfter).UTC()
			out.NextAttemptAt = &at
		}
	}
	return out, outcome, nil
}

// policyFile is the on-disk shape; rules merge over the defaults.
type policyFile struct {
	MaxAttempts  *int            `yaml:"max_attempts"`
	Dispositions map[string]Rule `yaml:"dispositions"`
}

// ParsePolicy overlays a YAML document on DefaultPolicy. A rule with
// outcome "remove" drops a built-in code.
func ParsePolicy(b []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return Policy{}, fmt.Errorf("dialer: parse disposition policy: %w", err)
	}

	p := DefaultPolicy()
	if f.MaxAttempts != nil {
		p.MaxAttempts = *f.MaxAttempts
	}
	for code, r := range f.Dispositions {
		code = NormalizeDisposition(code)
		if r.Outcome == "remove" {
			delete(p.Rules, code)
			continue
		}
		p.Rules[code] = r
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads path, or returns the defaults when path is empty.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("dialer: read disposition policy: %w", err)
	}
	return ParsePolicy(b)
}
