package digest_test

import (
	"strings"
	"testing"
	"time"

	"github.com/ErlanBelekov/daybrief/internal/digest"
	"github.com/ErlanBelekov/daybrief/internal/domain"
)

func TestSubject_UsesLocalCalendarDate(t *testing.T) {
	localNow := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC) // a Monday
	got := digest.Subject(testSchedule(), localNow)
	want := "Morning Brief — Monday, Mar 10"
	if got != want {
		t.Errorf("Subject = %q, want %q", got, want)
	}
}

func TestRenderHTML_EscapesAndLinks(t *testing.T) {
	d := &domain.Digest{
		Subject: "Morning Brief — Monday, Mar 10",
		Summary: "One sharp take on generics.",
		Topics:  []string{"go"},
		Items: []domain.DigestItem{
			{
				Title:   "Go <generics> & you",
				URL:     "https://example.com/generics",
				Source:  "Go Blog",
				Summary: "A practical guide.",
			},
		},
	}

	html, err := digest.RenderHTML(d)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "Go &lt;generics&gt; &amp; you") {
		t.Error("title was not HTML-escaped")
	}
	if !strings.Contains(html, `href="https://example.com/generics"`) {
		t.Error("item link missing")
	}
	if !strings.Contains(html, "One sharp take on generics.") {
		t.Error("summary paragraph missing")
	}
	if !strings.Contains(html, "Go Blog") || !strings.Contains(html, "A practical guide.") {
		t.Error("source line missing")
	}
	if !strings.Contains(html, "You are receiving this") {
		t.Error("footer missing")
	}
}

func TestRenderHTML_NoItems_ExplainsQuietDay(t *testing.T) {
	d := &domain.Digest{
		Subject: "Morning Brief — Monday, Mar 10",
		Topics:  []string{"go", "design"},
	}

	html, err := digest.RenderHTML(d)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(html, "Nothing new on go, design today.") {
		t.Error("quiet-day notice missing")
	}
	if strings.Contains(html, "<ul>") {
		t.Error("item list rendered with no items")
	}
}
