package repository

import (
	"context"

	"github.com/ErlanBelekov/daybrief/internal/domain"
)

// UserRepository is the source of truth for the owning user record. Both
// the preference API and the digest engine mutate it exclusively through
// reload-patch-save (see Saver).
type UserRepository interface {
	// Upsert creates the row on first sight of an authenticated subject.
	// An existing row keeps its preferences; only the email is refreshed.
	Upsert(ctx context.Context, id, email string) error

	// GetByID returns a fresh copy of the record, or domain.ErrUserNotFound.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// Update persists the record only if the stored version still equals
	// u.Version, then bumps u.Version in place. A stale version yields
	// domain.ErrVersionConflict; a vanished row domain.ErrUserNotFound.
	Update(ctx context.Context, u *domain.User) error

	// ListDigestCandidates returns every user with at least one digest
	// schedule, in stable id order. The check pass treats the result as a
	// possibly-stale batch read and reloads each record before claiming.
	ListDigestCandidates(ctx context.Context) ([]*domain.User, error)
}
