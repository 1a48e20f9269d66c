package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"settlement-crm/pkg/utils"
)

// PostgresStore assumes the calls table from migrations/001_dialer.sql,
// including UNIQUE (external_sid).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

const callColumns = `
id, session_id, campaign_id, contact_id, lead_id, agent_id,
direction, external_sid, to_number, from_number,
status, provider_status, duration_seconds,
started_at, answered_at, ended_at,
disposition, notes, transcript, feedback, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c        Call
		answered sql.NullTime
		ended    sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.SessionID,
		&c.CampaignID,
		&c.ContactID,
		&c.LeadID,
		&c.AgentID,
		&c.Direction,
		&c.ExternalSID,
		&c.To,
		&c.From,
		&c.Status,
		&c.ProviderStatus,
		&c.DurationSeconds,
		&c.StartedAt,
		&answered,
		&ended,
		&c.Disposition,
		&c.Notes,
		&c.Transcript,
		&c.Feedback,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.AnsweredAt = utils.TimePtr(answered)
	c.EndedAt = utils.TimePtr(ended)
	return c, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Call) (Call, error) {
	if err := validateNew(c); err != nil {
		return Call{}, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.StartedAt
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = c.CreatedAt
	}

	q := `
INSERT INTO calls (` + callColumns + `
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
)
RETURNING ` + callColumns
	out, err := scanCall(s.db.QueryRowContext(ctx, q,
		c.ID,
		c.SessionID,
		c.CampaignID,
		c.ContactID,
		c.LeadID,
		c.AgentID,
		c.Direction,
		c.ExternalSID,
		c.To,
		c.From,
		c.Status,
		c.ProviderStatus,
		c.DurationSeconds,
		c.StartedAt.UTC(),
		utils.NullTime(c.AnsweredAt),
		utils.NullTime(c.EndedAt),
		c.Disposition,
		c.Notes,
		c.Transcript,
		c.Feedback,
		c.CreatedAt.UTC(),
		c.UpdatedAt.UTC(),
	))
	if err != nil {
		if utils.IsUniqueViolation(err) {
			return Call{}, ErrDuplicateSID
		}
		return Call{}, fmt.Errorf("insert call: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, ErrNotFound
		}
		return Call{}, err
	}
	return c, nil
}

func (s *PostgresStore) RecordProgress(ctx context.Context, id string, p Progress) (Call, error) {
	var out Call
	err := utils.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1 FOR UPDATE`
		c, err := scanCall(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		out = c
		if !applyProgress(&out, p) {
			return nil
		}

		const upd = `
UPDATE calls
SET status = $2, provider_status = $3, duration_seconds = $4, answered_at = $5, updated_at = $6
WHERE id = $1 AND status <> 'completed'
`
		_, err = tx.ExecContext(ctx, upd,
			out.ID,
			out.Status,
			out.ProviderStatus,
			out.DurationSeconds,
			utils.NullTime(out.AnsweredAt),
			out.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return Call{}, err
	}
	return out, nil
}

func (s *PostgresStore) Finalize(ctx context.Context, id string, f Final) (Call, error) {
	ended := f.EndedAt.UTC()
	q := `
UPDATE calls
SET status = 'completed',
    disposition = $2,
    notes = $3,
    ended_at = $4,
    provider_status = CASE WHEN $5::text = '' THEN provider_status ELSE $5::text END,
    duration_seconds = GREATEST(duration_seconds, $6::integer),
    transcript = $7::text,
    feedback = $8::text,
    updated_at = $4
WHERE id = $1 AND status <> 'completed'
RETURNING ` + callColumns
	c, err := scanCall(s.db.QueryRowContext(ctx, q, id, f.Disposition, f.Notes, ended, f.ProviderStatus, f.DurationSeconds, f.Transcript, f.Feedback))
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Call{}, fmt.Errorf("finalize call: %w", err)
	}

	// Nothing updated: either the id is unknown or someone finalized first.
	existing, getErr := s.Get(ctx, id)
	if getErr != nil {
		return Call{}, getErr
	}
	return existing, ErrAlreadyCompleted
}

func (s *PostgresStore) ListByCampaign(ctx context.Context, campaignID string, from, to time.Time) ([]Call, error) {
	q := `
SELECT ` + callColumns + `
FROM calls
WHERE campaign_id = $1 AND started_at >= $2 AND started_at < $3
ORDER BY started_at, id
`
	rows, err := s.db.QueryContext(ctx, q, campaignID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
