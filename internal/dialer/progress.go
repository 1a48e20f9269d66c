package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"settlement-crm/internal/campaigns"
)

// CampaignProgress is the supervisor view of a campaign.
type CampaignProgress struct {
	campaigns.Progress
	ActiveSessions int `json:"active_sessions"`
	LinesInUse     int `json:"lines_in_use"`
}

// CampaignProgress summarizes the campaign's contacts and the live dialer
// activity on it.
func (e *Engine) CampaignProgress(ctx context.Context, campaignID string) (CampaignProgress, error) {
	campaignID = strings.TrimSpace(campaignID)
	if campaignID == "" {
		return CampaignProgress{}, requiredError("campaign_id")
	}
	if _, err := e.campaigns.GetCampaign(ctx, campaignID); err != nil {
		if errors.Is(err, campaigns.ErrNotFound) {
			return CampaignProgress{}, ErrCampaignNotFound
		}
		return CampaignProgress{}, fmt.Errorf("dialer: load campaign: %w", err)
	}

	contacts, err := e.campaigns.ListContacts(ctx, campaignID)
	if err != nil {
		return CampaignProgress{}, fmt.Errorf("dialer: list contacts: %w", err)
	}
	out := CampaignProgress{
		Progress:       campaigns.Summarize(campaignID, contacts, e.now()),
		ActiveSessions: e.ActiveSessions(campaignID),
	}
	if e.lines != nil {
		n, err := e.lines.InUse(ctx, campaignID)
		if err != nil {
			e.log.Warn("line usage lookup failed", "campaign_id", campaignID, "err", err)
		} else {
			out.LinesInUse = n
		}
	}
	return out, nil
}
