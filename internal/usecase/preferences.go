package usecase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/repository"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// MaxDigestsPerUser caps how many schedules one user record carries.
const MaxDigestsPerUser = 10

// PreferencesUsecase manages the user's timezone and digest schedules.
// Every write goes through the same patch-based save path the engine's
// claim uses, so preference edits and claim writes reconcile instead of
// clobbering each other.
type PreferencesUsecase struct {
	users repository.UserRepository
	saver *repository.Saver
}

func NewPreferencesUsecase(users repository.UserRepository, saver *repository.Saver) *PreferencesUsecase {
	return &PreferencesUsecase{users: users, saver: saver}
}

// DigestView is a schedule plus its derived next occurrence. NextRunAt is
// nil for disabled schedules and is a preview only; due-ness at run time is
// decided by the engine's matcher.
type DigestView struct {
	domain.DigestSchedule
	NextRunAt *time.Time
}

func (u *PreferencesUsecase) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (u *PreferencesUsecase) SetTimezone(ctx context.Context, userID, tz string) (*domain.User, error) {
	// LoadLocation("") silently means UTC; an empty zone is a caller bug.
	if tz == "" {
		return nil, domain.ErrInvalidTimezone
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, domain.ErrInvalidTimezone
	}
	return u.saver.Apply(ctx, userID, domain.SetTimezone(tz))
}

func (u *PreferencesUsecase) ListDigests(ctx context.Context, userID string) ([]DigestView, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	views := make([]DigestView, len(user.Digests))
	for i, d := range user.Digests {
		views[i] = digestView(user, d)
	}
	return views, nil
}

func (u *PreferencesUsecase) GetDigest(ctx context.Context, userID, digestID string) (*DigestView, error) {
	user, err := u.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return viewOf(user, digestID)
}

type CreateDigestInput struct {
	UserID string
	Name   string
	Time   string
	Days   []string
	Topics []string
}

func (u *PreferencesUsecase) CreateDigest(ctx context.Context, input CreateDigestInput) (*DigestView, error) {
	d, err := buildSchedule(uuid.NewString(), input.Name, input.Time, input.Days, input.Topics)
	if err != nil {
		return nil, err
	}
	d.Enabled = true

	pre := func(user *domain.User) error {
		if len(user.Digests) >= MaxDigestsPerUser {
			return domain.ErrDigestLimit
		}
		return checkNameFree(user, d.Name, d.ID)
	}

	saved, err := u.saver.ApplyIf(ctx, input.UserID, domain.UpsertDigest(d), pre)
	if err != nil {
		return nil, err
	}
	return viewOf(saved, d.ID)
}

type UpdateDigestInput struct {
	UserID   string
	DigestID string
	Name     string
	Time     string
	Days     []string
	Topics   []string
}

// UpdateDigest replaces the schedule's definition. The stored Enabled and
// LastRun survive the edit untouched: the upsert patch never carries them,
// so an edit can neither clear the engine's claim nor re-enable anything.
func (u *PreferencesUsecase) UpdateDigest(ctx context.Context, input UpdateDigestInput) (*DigestView, error) {
	d, err := buildSchedule(input.DigestID, input.Name, input.Time, input.Days, input.Topics)
	if err != nil {
		return nil, err
	}

	pre := func(user *domain.User) error {
		if user.Digest(input.DigestID) == nil {
			return domain.ErrDigestNotFound
		}
		return checkNameFree(user, d.Name, d.ID)
	}

	saved, err := u.saver.ApplyIf(ctx, input.UserID, domain.UpsertDigest(d), pre)
	if err != nil {
		return nil, err
	}
	return viewOf(saved, d.ID)
}

func (u *PreferencesUsecase) EnableDigest(ctx context.Context, userID, digestID string) error {
	return u.setEnabled(ctx, userID, digestID, true)
}

func (u *PreferencesUsecase) DisableDigest(ctx context.Context, userID, digestID string) error {
	return u.setEnabled(ctx, userID, digestID, false)
}

func (u *PreferencesUsecase) setEnabled(ctx context.Context, userID, digestID string, enabled bool) error {
	pre := func(user *domain.User) error {
		d := user.Digest(digestID)
		if d == nil {
			return domain.ErrDigestNotFound
		}
		if d.Enabled == enabled {
			if enabled {
				return domain.ErrDigestAlreadyEnabled
			}
			return domain.ErrDigestAlreadyDisabled
		}
		return nil
	}
	_, err := u.saver.ApplyIf(ctx, userID, domain.SetDigestEnabled(digestID, enabled), pre)
	return err
}

func (u *PreferencesUsecase) DeleteDigest(ctx context.Context, userID, digestID string) error {
	pre := func(user *domain.User) error {
		if user.Digest(digestID) == nil {
			return domain.ErrDigestNotFound
		}
		return nil
	}
	_, err := u.saver.ApplyIf(ctx, userID, domain.RemoveDigest(digestID), pre)
	return err
}

// NextRunAt computes the schedule's next occurrence after now on the user's
// wall clock.
func NextRunAt(d domain.DigestSchedule, loc *time.Location, now time.Time) (time.Time, error) {
	spec, err := d.CronSpec()
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", spec, err)
	}
	return sched.Next(now.In(loc)), nil
}

func buildSchedule(id, name, clock string, days, topics []string) (domain.DigestSchedule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.DigestSchedule{}, domain.ErrNoName
	}

	hour, minute, err := domain.ParseClock(clock)
	if err != nil {
		return domain.DigestSchedule{}, err
	}

	normDays, err := domain.NormalizeDays(days)
	if err != nil {
		return domain.DigestSchedule{}, err
	}

	normTopics, err := normalizeTopics(topics)
	if err != nil {
		return domain.DigestSchedule{}, err
	}

	return domain.DigestSchedule{
		ID:     id,
		Name:   name,
		Time:   fmt.Sprintf("%02d:%02d", hour, minute),
		Days:   normDays,
		Topics: normTopics,
	}, nil
}

func normalizeTopics(topics []string) ([]string, error) {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoTopics
	}
	return out, nil
}

func checkNameFree(user *domain.User, name, selfID string) error {
	for _, existing := range user.Digests {
		if existing.ID != selfID && strings.EqualFold(existing.Name, name) {
			return domain.ErrDigestNameConflict
		}
	}
	return nil
}

func viewOf(user *domain.User, digestID string) (*DigestView, error) {
	d := user.Digest(digestID)
	if d == nil {
		return nil, domain.ErrDigestNotFound
	}
	v := digestView(user, *d)
	return &v, nil
}

func digestView(user *domain.User, d domain.DigestSchedule) DigestView {
	view := DigestView{DigestSchedule: d}
	if !d.Enabled {
		return view
	}
	loc, err := user.Location()
	if err != nil {
		return view
	}
	if next, err := NextRunAt(d, loc, time.Now()); err == nil {
		view.NextRunAt = &next
	}
	return view
}
