package domain

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound = errors.New("user not found")

	// ErrVersionConflict means the record changed between our read and our
	// write. Callers go through repository.Saver, which reloads and
	// reapplies the patch.
	ErrVersionConflict = errors.New("user record version conflict")
)

// User is the single owning record for everything digest-related. Digest
// schedules are embedded in the record itself rather than normalized into
// their own table; Version is the optimistic-concurrency counter every
// write is conditioned on.
type User struct {
	ID       string
	Email    string
	Timezone string // IANA zone name, e.g. "Europe/Berlin"

	Digests []DigestSchedule

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Digest returns the embedded schedule with the given id, or nil. The
// pointer aliases the slice entry, so it stays valid only until Digests is
// reassigned.
func (u *User) Digest(id string) *DigestSchedule {
	for i := range u.Digests {
		if u.Digests[i].ID == id {
			return &u.Digests[i]
		}
	}
	return nil
}

// Location resolves the user's IANA time zone.
func (u *User) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, ErrInvalidTimezone
	}
	return loc, nil
}
