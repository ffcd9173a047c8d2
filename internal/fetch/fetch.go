package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"

	"rankarena/internal/domain"
)

const userAgent = "Mozilla/5.0 (compatible; rankarena/0.1)"

// maxBodyBytes caps how much of a response we read before extraction.
const maxBodyBytes = 2 << 20

// Page is the extracted content of one fetched URL. Err carries fetch or
// extraction failures; the page is still usable as degraded content.
type Page struct {
	URL     string
	Title   string
	Content string
	Err     error
}

// Fetcher retrieves and extracts URL content under bounded concurrency.
type Fetcher struct {
	Client      *http.Client
	Concurrency int
	MaxChars    int
}

func New(timeout time.Duration, concurrency, maxChars int) *Fetcher {
	return &Fetcher{
		Client:      &http.Client{Timeout: timeout},
		Concurrency: concurrency,
		MaxChars:    maxChars,
	}
}

// Fetch retrieves one URL and extracts readable text from it.
func (f *Fetcher) Fetch(ctx context.Context, url string) Page {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Page{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	res, err := f.Client.Do(req)
	if err != nil {
		return Page{URL: url, Err: fmt.Errorf("fetch %s: %w", url, err)}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return Page{URL: url, Err: fmt.Errorf("fetch %s: status %d", url, res.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Page{URL: url, Err: fmt.Errorf("read %s: %w", url, err)}
	}
	title, content := Extract(body)
	if f.MaxChars > 0 && len(content) > f.MaxChars {
		content = content[:f.MaxChars] + "...(truncated)"
	}
	return Page{URL: url, Title: title, Content: content}
}

// FetchAll retrieves URLs concurrently, preserving input order. Individual
// failures are absorbed into the corresponding Page.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []Page {
	pages := make([]Page, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	limit := f.Concurrency
	if limit <= 0 {
		limit = 5
	}
	g.SetLimit(limit)
	for i, url := range urls {
		g.Go(func() error {
			pages[i] = f.Fetch(gctx, url)
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

// EnrichCandidates fills the description of candidates that carry a url in
// their info but no description yet. Fetch failures become the description
// text so the judge still sees something to reason about.
func (f *Fetcher) EnrichCandidates(ctx context.Context, candidates []domain.Candidate) []domain.Candidate {
	log := clog.FromContext(ctx)
	var urls []string
	var indices []int
	for i, c := range candidates {
		if url := candidateURL(c); url != "" {
			urls = append(urls, url)
			indices = append(indices, i)
		}
	}
	if len(urls) == 0 {
		return candidates
	}
	pages := f.FetchAll(ctx, urls)
	out := make([]domain.Candidate, len(candidates))
	copy(out, candidates)
	for n, page := range pages {
		i := indices[n]
		info := make(map[string]any, len(out[i].Info)+1)
		for k, v := range out[i].Info {
			info[k] = v
		}
		if page.Err != nil {
			log.With("url", page.URL).With("error", page.Err.Error()).Warn("url fetch failed")
			info["description"] = fmt.Sprintf("[fetch failed] %v", page.Err)
		} else {
			info["description"] = formatPage(page)
		}
		out[i].Info = info
	}
	return out
}

// CandidatesFromURLs builds the candidate set for a URL ranking operation.
func CandidatesFromURLs(urls []string) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(urls))
	for i, url := range urls {
		out = append(out, domain.Candidate{
			ID:   fmt.Sprintf("url_%d", i),
			Name: url,
			Info: map[string]any{"url": url},
		})
	}
	return out
}

func candidateURL(c domain.Candidate) string {
	url, _ := c.Info["url"].(string)
	if url == "" {
		return ""
	}
	if desc, ok := c.Info["description"].(string); ok && strings.TrimSpace(desc) != "" {
		return ""
	}
	return url
}

func formatPage(p Page) string {
	if p.Title == "" {
		return p.Content
	}
	return p.Title + "\n\n" + p.Content
}
