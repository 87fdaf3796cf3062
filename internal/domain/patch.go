package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownPatchField = errors.New("unknown patch field")

// Field is one intended mutation: a path into the user record plus the
// value to set there. Supported paths:
//
//	timezone                string
//	digests                 []DigestSchedule (replace the whole set)
//	digests.<id>            DigestSchedule to upsert, or nil to remove
//	digests.<id>.enabled    bool
//	digests.<id>.last_run   time.Time (the engine's claim marker)
//
// The digests.<id> upsert replaces only the user-editable definition (name,
// time, days, topics) of an existing schedule; its lifecycle fields
// (Enabled, LastRun) are preserved from the stored record so a preference
// edit can never clear a claim or silently re-enable anything. When the id
// is new, the schedule is appended as given.
type Field struct {
	Path  string
	Value any
}

// Patch is an ordered list of intended mutations. Mutation intent is always
// expressed as a patch rather than by editing a loaded record in place: on
// a version conflict, repository.Saver reapplies the same patch to a fresh
// copy, so concurrent writers touching disjoint fields all survive.
type Patch []Field

// Apply mutates u in order. A failed field aborts the patch; u may be
// partially modified and must be discarded by the caller.
func (p Patch) Apply(u *User) error {
	for _, f := range p {
		if err := f.apply(u); err != nil {
			return err
		}
	}
	return nil
}

func (f Field) apply(u *User) error {
	switch f.Path {
	case "timezone":
		tz, ok := f.Value.(string)
		if !ok {
			return f.typeError("string")
		}
		u.Timezone = tz
		return nil
	case "digests":
		ds, ok := f.Value.([]DigestSchedule)
		if !ok {
			return f.typeError("[]DigestSchedule")
		}
		u.Digests = ds
		return nil
	}

	rest, ok := strings.CutPrefix(f.Path, "digests.")
	if !ok || rest == "" {
		return fmt.Errorf("%w: %q", ErrUnknownPatchField, f.Path)
	}
	id, attr, hasAttr := strings.Cut(rest, ".")
	if !hasAttr {
		return f.applyUpsert(u, id)
	}

	d := u.Digest(id)
	if d == nil {
		return fmt.Errorf("%w: %s", ErrDigestNotFound, id)
	}
	switch attr {
	case "enabled":
		enabled, ok := f.Value.(bool)
		if !ok {
			return f.typeError("bool")
		}
		d.Enabled = enabled
	case "last_run":
		at, ok := f.Value.(time.Time)
		if !ok {
			return f.typeError("time.Time")
		}
		t := at
		d.LastRun = &t
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPatchField, f.Path)
	}
	return nil
}

func (f Field) applyUpsert(u *User, id string) error {
	if f.Value == nil {
		kept := u.Digests[:0]
		for _, d := range u.Digests {
			if d.ID != id {
				kept = append(kept, d)
			}
		}
		u.Digests = kept
		return nil
	}

	next, ok := f.Value.(DigestSchedule)
	if !ok {
		return f.typeError("DigestSchedule")
	}
	if next.ID != id {
		return fmt.Errorf("%w: path %q does not match schedule id %q", ErrUnknownPatchField, f.Path, next.ID)
	}

	if existing := u.Digest(id); existing != nil {
		existing.Name = next.Name
		existing.Time = next.Time
		existing.Days = next.Days
		existing.Topics = next.Topics
		return nil
	}
	u.Digests = append(u.Digests, next)
	return nil
}

func (f Field) typeError(want string) error {
	return fmt.Errorf("%w: %q wants %s, got %T", ErrUnknownPatchField, f.Path, want, f.Value)
}

// SetTimezone builds a patch updating the user's IANA time zone.
func SetTimezone(tz string) Patch {
	return Patch{{Path: "timezone", Value: tz}}
}

// UpsertDigest builds a patch inserting the schedule or replacing the
// user-editable definition of the one with the same id.
func UpsertDigest(d DigestSchedule) Patch {
	return Patch{{Path: "digests." + d.ID, Value: d}}
}

// RemoveDigest builds a patch deleting the schedule. Removing an id that is
// already gone is a no-op.
func RemoveDigest(id string) Patch {
	return Patch{{Path: "digests." + id, Value: nil}}
}

// SetDigestEnabled builds a patch flipping the schedule's enabled flag.
func SetDigestEnabled(id string, enabled bool) Patch {
	return Patch{{Path: "digests." + id + ".enabled", Value: enabled}}
}

// ClaimDigestRun builds the claim patch: it stamps the schedule's last-run
// marker with the claim instant. The engine persists this before executing.
func ClaimDigestRun(id string, at time.Time) Patch {
	return Patch{{Path: "digests." + id + ".last_run", Value: at}}
}
