package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"settlement-crm/pkg/utils"
)

// openTestDB connects to DIALER_TEST_POSTGRES_DSN and applies the dialer schema.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DIALER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DIALER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, dsn, utils.PostgresPoolConfig{})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile("../../migrations/001_dialer.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := db.ExecContext(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return db
}

func seedPostgres(t *testing.T, db *sql.DB) (campaignID, contactID string) {
	t.Helper()
	ctx := context.Background()
	campaignID = "camp-" + uuid.NewString()
	contactID = "ct-" + uuid.NewString()
	if _, err := db.ExecContext(ctx,
		`INSERT INTO campaigns (id, name, status) VALUES ($1, 'pg test', 'active')`, campaignID); err != nil {
		t.Fatalf("insert campaign: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO campaign_contacts (id, campaign_id, lead_id, phone) VALUES ($1, $2, $3, '+15550001111')`,
		contactID, campaignID, "lead-"+contactID); err != nil {
		t.Fatalf("insert contact: %v", err)
	}
	return campaignID, contactID
}

func TestPostgresClaimAndSettle(t *testing.T) {
	db := openTestDB(t)
	_, id := seedPostgres(t, db)
	r := NewPostgresRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	c, err := r.ClaimContact(ctx, id, now)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if c.Status != ContactDialing || c.AttemptCount != 1 {
		t.Fatalf("unexpected claimed contact %+v", c)
	}
	if _, err := r.ClaimContact(ctx, id, now); !errors.Is(err, ErrNotClaimable) {
		t.Fatalf("second claim: expected ErrNotClaimable, got %v", err)
	}

	retry := now.Add(time.Hour)
	c, err = r.SettleContact(ctx, id, Settlement{Status: ContactPending, NextAttemptAt: &retry, Disposition: "no_answer"})
	if err != nil {
		t.Fatalf("settle with disposition: %v", err)
	}
	if c.LastDisposition != "no_answer" || c.NextAttemptAt == nil {
		t.Fatalf("unexpected settled contact %+v", c)
	}

	// An empty disposition keeps the previous one.
	if _, err := r.ClaimContact(ctx, id, now); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	c, err = r.SettleContact(ctx, id, Settlement{Status: ContactPending})
	if err != nil {
		t.Fatalf("settle without disposition: %v", err)
	}
	if c.LastDisposition != "no_answer" {
		t.Fatalf("expected last disposition kept, got %q", c.LastDisposition)
	}
	if c.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", c.AttemptCount)
	}

	if _, err := r.SettleContact(ctx, id, Settlement{Status: ContactCompleted}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("settle of a pending contact: expected ErrInvalidTransition, got %v", err)
	}
}
