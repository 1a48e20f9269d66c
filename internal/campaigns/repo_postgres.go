package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settlement-crm/pkg/utils"
)

// PostgresRepo reads campaigns and campaign_contacts (migrations/001_dialer.sql).
// Status transitions are single conditional UPDATEs so they stay atomic across processes.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const contactColumns = `
id, campaign_id, lead_id, lead_name, phone, status, attempt_count,
last_attempt_at, next_attempt_at, last_disposition, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContact(row rowScanner) (Contact, error) {
	var (
		c        Contact
		lastAt   sql.NullTime
		nextAt   sql.NullTime
		leadName sql.NullString
		lastDisp sql.NullString
	)
	if err := row.Scan(
		&c.ID,
		&c.CampaignID,
		&c.LeadID,
		&leadName,
		&c.Phone,
		&c.Status,
		&c.AttemptCount,
		&lastAt,
		&nextAt,
		&lastDisp,
		&c.CreatedAt,
	); err != nil {
		return Contact{}, err
	}
	c.LeadName = leadName.String
	c.LastDisposition = lastDisp.String
	c.LastAttemptAt = utils.TimePtr(lastAt)
	c.NextAttemptAt = utils.TimePtr(nextAt)
	return c, nil
}

func (r *PostgresRepo) GetCampaign(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, name, status, COALESCE(caller_id, ''), created_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.CallerID,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ListContacts(ctx context.Context, campaignID string) ([]Contact, error) {
	q := `
SELECT ` + contactColumns + `
FROM campaign_contacts
WHERE campaign_id = $1
ORDER BY attempt_count, created_at, id
`
	rows, err := r.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Contact, 0)
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) GetContact(ctx context.Context, id string) (Contact, error) {
	q := `SELECT ` + contactColumns + ` FROM campaign_contacts WHERE id = $1`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

func (r *PostgresRepo) ClaimContact(ctx context.Context, id string, now time.Time) (Contact, error) {
	q := `
UPDATE campaign_contacts
SET status = 'dialing',
    attempt_count = attempt_count + 1,
    last_attempt_at = $2,
    next_attempt_at = NULL
WHERE id = $1 AND status = 'pending'
RETURNING ` + contactColumns
	c, err := scanContact(r.db.QueryRowContext(ctx, q, id, now.UTC()))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Contact{}, fmt.Errorf("claim contact: %w", err)
	}
	existing, getErr := r.GetContact(ctx, id)
	if getErr != nil {
		return Contact{}, getErr
	}
	return existing, ErrNotClaimable
}

func (r *PostgresRepo) SettleContact(ctx context.Context, id string, s Settlement) (Contact, error) {
	if err := validateSettlement(s); err != nil {
		return Contact{}, err
	}
	var next *time.Time
	if s.Status == ContactPending {
		next = s.NextAttemptAt
	}

	q := `
UPDATE campaign_contacts
SET status = $2,
    next_attempt_at = $3,
    last_disposition = CASE WHEN $4::text = '' THEN last_disposition ELSE $4::text END
WHERE id = $1 AND status = 'dialing'
RETURNING ` + contactColumns
	c, err := scanContact(r.db.QueryRowContext(ctx, q, id, s.Status, utils.NullTime(next), s.Disposition))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Contact{}, fmt.Errorf("settle contact: %w", err)
	}
	existing, getErr := r.GetContact(ctx, id)
	if getErr != nil {
		return Contact{}, getErr
	}
	return existing, ErrInvalidTransition
}
