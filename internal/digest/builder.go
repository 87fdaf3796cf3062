// Package digest builds and delivers the digest for one claimed schedule
// occurrence: fetch articles for the schedule's topics, summarize them
// behind the circuit breaker, record the digest, email it.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/breaker"
	"github.com/ErlanBelekov/daybrief/internal/domain"
	"github.com/ErlanBelekov/daybrief/internal/email"
	"github.com/ErlanBelekov/daybrief/internal/metrics"
	"github.com/ErlanBelekov/daybrief/internal/repository"
)

// DefaultMaxItems caps how many articles one digest carries.
const DefaultMaxItems = 10

// Executor produces the digest for one claimed occurrence. The caller has
// already persisted the claim marker: Execute must not re-check LastRun,
// and it is invoked at most once per (user, schedule, local day). A
// returned error means the occurrence is lost for the day; the engine does
// not retry past the queue's attempts.
type Executor interface {
	Execute(ctx context.Context, user *domain.User, sched domain.DigestSchedule) (*domain.Digest, error)
}

// Builder is the production Executor.
type Builder struct {
	articles   ArticleSource
	summarizer Summarizer
	digests    repository.DigestRepository
	sender     email.Sender
	breaker    *breaker.Breaker
	logger     *slog.Logger
	maxItems   int
}

func NewBuilder(
	articles ArticleSource,
	summarizer Summarizer,
	digests repository.DigestRepository,
	sender email.Sender,
	brk *breaker.Breaker,
	logger *slog.Logger,
) *Builder {
	return &Builder{
		articles:   articles,
		summarizer: summarizer,
		digests:    digests,
		sender:     sender,
		breaker:    brk,
		logger:     logger.With("component", "digest_builder"),
		maxItems:   DefaultMaxItems,
	}
}

func (b *Builder) Execute(ctx context.Context, user *domain.User, sched domain.DigestSchedule) (*domain.Digest, error) {
	start := time.Now()
	d, err := b.execute(ctx, user, sched)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.DigestBuildDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return d, err
}

func (b *Builder) execute(ctx context.Context, user *domain.User, sched domain.DigestSchedule) (*domain.Digest, error) {
	logger := b.logger.With("user_id", user.ID, "digest_id", sched.ID)

	articles, err := b.articles.Fetch(ctx, sched.Topics, b.maxItems)
	if err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	articles = dedupeByURL(articles)
	if len(articles) > b.maxItems {
		articles = articles[:b.maxItems]
	}

	// A quiet news day still produces a digest; the user should see the
	// schedule ran rather than wonder whether it broke.
	summary := b.summarize(ctx, articles, logger)

	loc, err := user.Location()
	if err != nil {
		return nil, fmt.Errorf("resolve user zone: %w", err)
	}

	d := &domain.Digest{
		UserID:     user.ID,
		ScheduleID: sched.ID,
		Subject:    Subject(sched, time.Now().In(loc)),
		Topics:     sched.Topics,
		Items:      itemsFrom(articles),
		Summary:    summary,
	}

	recorded, err := b.digests.Insert(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("record digest: %w", err)
	}

	html, err := RenderHTML(recorded)
	if err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}
	if err := b.sender.Send(ctx, user.Email, recorded.Subject, html); err != nil {
		// Recorded but undelivered. The claim stands either way: a missed
		// delivery beats a duplicate one.
		return nil, fmt.Errorf("deliver digest: %w", err)
	}

	logger.Info("digest built and delivered",
		"digest_record_id", recorded.ID,
		"items", len(recorded.Items),
	)
	return recorded, nil
}

// summarize runs the AI call behind the breaker. When the circuit is open
// or the call fails, the digest degrades to headlines-only instead of
// dropping the occurrence.
func (b *Builder) summarize(ctx context.Context, articles []Article, logger *slog.Logger) string {
	var summary string
	_ = b.breaker.Execute(ctx,
		func(ctx context.Context) error {
			s, err := b.summarizer.Summarize(ctx, articles)
			if err != nil {
				return err
			}
			summary = s
			return nil
		},
		func(_ context.Context, cause error) error {
			logger.Warn("summarizer unavailable, sending headlines only", "error", cause)
			summary = ""
			return nil
		},
	)
	return summary
}

func itemsFrom(articles []Article) []domain.DigestItem {
	items := make([]domain.DigestItem, 0, len(articles))
	for _, a := range articles {
		items = append(items, domain.DigestItem{
			Title:   a.Title,
			URL:     a.URL,
			Source:  a.Source,
			Topic:   a.Topic,
			Summary: a.Description,
		})
	}
	return items
}

func dedupeByURL(articles []Article) []Article {
	seen := make(map[string]bool, len(articles))
	out := articles[:0]
	for _, a := range articles {
		if a.URL != "" && seen[a.URL] {
			continue
		}
		seen[a.URL] = true
		out = append(out, a)
	}
	return out
}
