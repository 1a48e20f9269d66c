package campaigns

import (
	"context"
	"errors"
	"sort"
	"time"
)

var (
	ErrNotFound          = errors.New("campaigns: not found")
	ErrNotClaimable      = errors.New("campaigns: contact is not pending")
	ErrInvalidTransition = errors.New("campaigns: contact is not dialing")
	ErrInvalidSettlement = errors.New("campaigns: invalid settlement")
)

// Repository is the narrow persistence surface the dialer needs.
//
// ClaimContact and SettleContact are compare-and-set transitions so two
// sessions on the same campaign can never dial the same contact.
type Repository interface {
	GetCampaign(ctx context.Context, id string) (Campaign, error)
	ListContacts(ctx context.Context, campaignID string) ([]Contact, error)
	GetContact(ctx context.Context, id string) (Contact, error)

	// ClaimContact moves pending -> dialing, bumps AttemptCount and stamps LastAttemptAt.
	ClaimContact(ctx context.Context, id string, now time.Time) (Contact, error)
	// SettleContact moves dialing -> s.Status.
	SettleContact(ctx context.Context, id string, s Settlement) (Contact, error)
}

func validateSettlement(s Settlement) error {
	switch s.Status {
	case ContactPending, ContactCompleted, ContactFailed, ContactSkipped:
		return nil
	default:
		return ErrInvalidSettlement
	}
}

// SortForDialing orders contacts the way the dialer picks them: fewest attempts
// first, then oldest membership, then id so the order is total.
func SortForDialing(cs []Contact) {
	sort.Slice(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.AttemptCount != b.AttemptCount {
			return a.AttemptCount < b.AttemptCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
