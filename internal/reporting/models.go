package reporting

import "time"

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CampaignReportRequest asks for call metrics of one campaign over [From, To).
type CampaignReportRequest struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

type CampaignReport struct {
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`

	TotalCalls     int `json:"total_calls"`
	OpenCalls      int `json:"open_calls"`
	CompletedCalls int `json:"completed_calls"`
	AnsweredCalls  int `json:"answered_calls"`
	Enrollments    int `json:"enrollments"`

	ByStatus      map[string]int `json:"by_status"`
	ByDisposition map[string]int `json:"by_disposition"`

	TotalTalkSeconds   int `json:"total_talk_seconds"`
	AverageTalkSeconds int `json:"average_talk_seconds"`

	ConnectionRate float64 `json:"connection_rate"`
	EnrollmentRate float64 `json:"enrollment_rate"`

	Agents []AgentStats `json:"agents"`
}

// AgentStats is the per-agent slice of a campaign report.
type AgentStats struct {
	AgentID     string `json:"agent_id"`
	Calls       int    `json:"calls"`
	Answered    int    `json:"answered"`
	Enrollments int    `json:"enrollments"`
	TalkSeconds int    `json:"talk_seconds"`
}
