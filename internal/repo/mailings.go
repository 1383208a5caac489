package repo

import (
	"context"
	"errors"
	"sort"

	"github.com/LeventeLantos/sms-mailing/internal/model"
)

var (
	ErrDuplicateMailing  = errors.New("mailing already exists")
	ErrUnknownMailing    = errors.New("unknown mailing")
	ErrUnknownRecipient  = errors.New("unknown recipient")
	ErrInvalidTransition = errors.New("invalid recipient status transition")
	ErrInvalidStatus     = errors.New("invalid recipient status")
)

// MailingStore persists mailings and the delivery status of their recipients.
// Implementations must be safe for concurrent use.
type MailingStore interface {
	// Create stores a mailing with every phone pending. The write is atomic.
	Create(ctx context.Context, id string, phones []string, text string) error
	// UpdateRecipientStatus moves one recipient out of pending. Re-applying
	// the current status is a no-op.
	UpdateRecipientStatus(ctx context.Context, id, phone string, status model.RecipientStatus) error
	ListMailingIDs(ctx context.Context) ([]string, error)
	// GetMailings returns the known mailings among ids ordered by creation
	// time, then id. Unknown ids are skipped.
	GetMailings(ctx context.Context, ids ...string) ([]model.Mailing, error)
}

func validateCreate(id string, phones []string, text string) error {
	if id == "" {
		return errors.New("mailing id is required")
	}
	if text == "" {
		return errors.New("mailing text is required")
	}
	if len(phones) == 0 {
		return errors.New("mailing needs at least one recipient")
	}
	return nil
}

func dedupePhones(phones []string) []string {
	seen := make(map[string]struct{}, len(phones))
	out := make([]string, 0, len(phones))
	for _, p := range phones {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sortMailings(ms []model.Mailing) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
