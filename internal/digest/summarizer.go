package digest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Summarizer condenses a day's articles into a short editorial lead. This
// is the expensive AI call the circuit breaker protects.
type Summarizer interface {
	Summarize(ctx context.Context, articles []Article) (string, error)
}

// HTTPSummarizer posts articles to the summarizer service:
// POST {base}/v1/summarize with a bearer key.
type HTTPSummarizer struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPSummarizer builds the client without its own timeout; the breaker
// bounds each call instead.
func NewHTTPSummarizer(baseURL, apiKey string) *HTTPSummarizer {
	return &HTTPSummarizer{
		client:  &http.Client{},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (s *HTTPSummarizer) Summarize(ctx context.Context, articles []Article) (string, error) {
	type item struct {
		Title       string `json:"title"`
		Topic       string `json:"topic"`
		Description string `json:"description"`
	}
	req := struct {
		Articles []item `json:"articles"`
	}{}
	for _, a := range articles {
		req.Articles = append(req.Articles, item{Title: a.Title, Topic: a.Topic, Description: a.Description})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode summarize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/summarize", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build summarize request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("summarizer returned %d", resp.StatusCode)
	}

	var payload struct {
		Summary string `json:"summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode summary: %w", err)
	}
	return payload.Summary, nil
}

// StaticSummarizer stitches headlines together — used in ENV=local.
type StaticSummarizer struct{}

func (StaticSummarizer) Summarize(_ context.Context, articles []Article) (string, error) {
	if len(articles) == 0 {
		return "Nothing new on your topics today.", nil
	}
	titles := make([]string, 0, len(articles))
	for _, a := range articles {
		titles = append(titles, a.Title)
	}
	return "Today in brief: " + strings.Join(titles, " · "), nil
}

// NewSummarizer returns a StaticSummarizer for ENV=local, an HTTP-backed
// one otherwise.
func NewSummarizer(env, baseURL, apiKey string) Summarizer {
	if env == "local" {
		return StaticSummarizer{}
	}
	return NewHTTPSummarizer(baseURL, apiKey)
}
