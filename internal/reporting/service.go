package reporting

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"settlement-crm/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// MaxRange bounds a single report query.
const MaxRange = 366 * 24 * time.Hour

// Repository is the read side reports need. calls.Store satisfies it.
type Repository interface {
	ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]calls.Call, error)
}

type Service struct {
	repo       Repository
	enrollment map[string]bool
}

// NewService builds a report service. enrollmentCodes are the dispositions
// counted as conversions; ENROLLED when none are given.
func NewService(repo Repository, enrollmentCodes ...string) *Service {
	if len(enrollmentCodes) == 0 {
		enrollmentCodes = []string{"ENROLLED"}
	}
	set := make(map[string]bool, len(enrollmentCodes))
	for _, c := range enrollmentCodes {
		set[strings.ToUpper(strings.TrimSpace(c))] = true
	}
	return &Service{repo: repo, enrollment: set}
}

// CampaignReport aggregates the campaign's call rows. Nothing is cached;
// every request reads the rows again.
func (s *Service) CampaignReport(ctx context.Context, req CampaignReportRequest) (CampaignReport, error) {
	if strings.TrimSpace(req.CampaignID) == "" {
		return CampaignReport{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CampaignReport{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > MaxRange {
		return CampaignReport{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CampaignReport{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListByCampaign(ctx, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return CampaignReport{}, err
	}

	out := CampaignReport{
		CampaignID:    req.CampaignID,
		Range:         req.Range,
		ByStatus:      map[string]int{},
		ByDisposition: map[string]int{},
		Agents:        []AgentStats{},
	}
	agents := map[string]*AgentStats{}
	for _, c := range rows {
		out.TotalCalls++
		out.ByStatus[string(c.Status)]++

		a := agents[c.AgentID]
		if a == nil {
			a = &AgentStats{AgentID: c.AgentID}
			agents[c.AgentID] = a
		}
		a.Calls++

		if c.Completed() {
			out.CompletedCalls++
			if c.Disposition != "" {
				out.ByDisposition[c.Disposition]++
			}
		} else {
			out.OpenCalls++
		}
		if c.AnsweredAt != nil {
			out.AnsweredCalls++
			out.TotalTalkSeconds += c.DurationSeconds
			a.Answered++
			a.TalkSeconds += c.DurationSeconds
		}
		if s.enrollment[c.Disposition] {
			out.Enrollments++
			a.Enrollments++
		}
	}

	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(out.AnsweredCalls) / float64(out.TotalCalls)
		out.EnrollmentRate = float64(out.Enrollments) / float64(out.TotalCalls)
	}
	if out.AnsweredCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.AnsweredCalls
	}

	for _, a := range agents {
		out.Agents = append(out.Agents, *a)
	}
	sort.Slice(out.Agents, func(i, j int) bool {
		if out.Agents[i].Calls == out.Agents[j].Calls {
			return out.Agents[i].AgentID < out.Agents[j].AgentID
		}
		return out.Agents[i].Calls > out.Agents[j].Calls
	})
	return out, nil
}
