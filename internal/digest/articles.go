package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Article is one candidate story as returned by the article service.
type Article struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Topic       string    `json:"topic"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"published_at"`
}

// ArticleSource fetches candidate articles for a digest's topics.
type ArticleSource interface {
	Fetch(ctx context.Context, topics []string, limit int) ([]Article, error)
}

// HTTPArticleSource queries the article service over HTTP:
// GET {base}/v1/articles?topics=a,b&limit=n with a bearer key.
type HTTPArticleSource struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPArticleSource(baseURL, apiKey string, timeout time.Duration) *HTTPArticleSource {
	return &HTTPArticleSource{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (s *HTTPArticleSource) Fetch(ctx context.Context, topics []string, limit int) ([]Article, error) {
	u, err := url.Parse(s.baseURL + "/v1/articles")
	if err != nil {
		return nil, fmt.Errorf("build articles url: %w", err)
	}
	q := u.Query()
	q.Set("topics", strings.Join(topics, ","))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build articles request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch articles: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool
		return nil, fmt.Errorf("article service returned %d", resp.StatusCode)
	}

	var payload struct {
		Articles []Article `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode articles: %w", err)
	}
	return payload.Articles, nil
}

// SampleArticleSource returns canned articles — used in ENV=local so the
// whole engine can run end to end without the article service.
type SampleArticleSource struct{}

func (SampleArticleSource) Fetch(_ context.Context, topics []string, limit int) ([]Article, error) {
	now := time.Now()
	var articles []Article
	for _, topic := range topics {
		if len(articles) >= limit {
			break
		}
		articles = append(articles, Article{
			Title:       fmt.Sprintf("What happened in %s today", topic),
			URL:         fmt.Sprintf("https://news.example.com/%s/today", url.PathEscape(topic)),
			Source:      "Example Wire",
			Topic:       topic,
			Description: fmt.Sprintf("A sample story about %s for local development.", topic),
			PublishedAt: now,
		})
	}
	return articles, nil
}

// NewSource returns a SampleArticleSource for ENV=local, an HTTP-backed one
// otherwise.
func NewSource(env, baseURL, apiKey string, timeout time.Duration) ArticleSource {
	if env == "local" {
		return SampleArticleSource{}
	}
	return NewHTTPArticleSource(baseURL, apiKey, timeout)
}
