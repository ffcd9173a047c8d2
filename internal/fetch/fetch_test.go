package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rankarena/internal/domain"
)

const samplePage = `<!doctype html>
<html>
  <head>
    <title>Trail Boots Review</title>
    <style>body { color: red }</style>
    <script>console.log("hi")</script>
  </head>
  <body>
    <h1>Trail Boots</h1>
    <p>Waterproof and   sturdy.</p>
  </body>
</html>`

func TestExtract(t *testing.T) {
	title, content := Extract([]byte(samplePage))
	assert.Equal(t, "Trail Boots Review", title)
	assert.Contains(t, content, "Trail Boots")
	assert.Contains(t, content, "Waterproof and sturdy.")
	assert.NotContains(t, content, "console.log")
	assert.NotContains(t, content, "color: red")
}

func TestExtractPlainText(t *testing.T) {
	title, content := Extract([]byte("just   some\ntext"))
	assert.Empty(t, title)
	assert.Equal(t, "just some text", content)
}

func TestFetchTruncatesContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Repeat("word ", 1000))
	}))
	defer srv.Close()

	f := New(time.Second, 2, 50)
	p := f.Fetch(context.Background(), srv.URL)

	require.NoError(t, p.Err)
	assert.True(t, strings.HasSuffix(p.Content, "...(truncated)"), "content: %q", p.Content)
	assert.LessOrEqual(t, len(p.Content), 50+len("...(truncated)"))
}

func TestFetchNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := New(time.Second, 2, 0)
	p := f.Fetch(context.Background(), srv.URL)

	require.Error(t, p.Err)
	assert.Contains(t, p.Err.Error(), "status 404")
}

func TestFetchAllPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Later paths respond faster so completion order inverts.
		if r.URL.Path == "/0" {
			time.Sleep(30 * time.Millisecond)
		}
		fmt.Fprintf(w, "<html><head><title>page%s</title></head><body>body</body></html>", r.URL.Path)
	}))
	defer srv.Close()

	f := New(time.Second, 4, 0)
	urls := []string{srv.URL + "/0", srv.URL + "/1", srv.URL + "/2"}
	pages := f.FetchAll(context.Background(), urls)

	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, urls[i], p.URL)
		assert.Equal(t, fmt.Sprintf("page/%d", i), p.Title)
	}
}

func TestEnrichCandidates(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, "<html><head><title>Fetched</title></head><body>remote detail</body></html>")
	}))
	defer srv.Close()

	f := New(time.Second, 2, 0)
	in := []domain.Candidate{
		{ID: "a", Name: "A", Info: map[string]any{"url": srv.URL}},
		{ID: "b", Name: "B", Info: map[string]any{"description": "already set", "url": srv.URL}},
		{ID: "c", Name: "C"},
	}
	out := f.EnrichCandidates(context.Background(), in)

	require.Len(t, out, 3)
	assert.Equal(t, 1, hits, "only the undescribed url candidate is fetched")
	assert.Contains(t, out[0].Info["description"], "remote detail")
	assert.Equal(t, "already set", out[1].Info["description"])
	assert.Nil(t, out[2].Info)
	// Input must not be mutated.
	assert.NotContains(t, in[0].Info, "description")
}

func TestEnrichCandidatesFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := New(time.Second, 2, 0)
	out := f.EnrichCandidates(context.Background(), []domain.Candidate{
		{ID: "a", Info: map[string]any{"url": srv.URL}},
	})

	desc, _ := out[0].Info["description"].(string)
	assert.Contains(t, desc, "[fetch failed]")
}

func TestCandidatesFromURLs(t *testing.T) {
	got := CandidatesFromURLs([]string{"https://x.test/a", "https://x.test/b"})
	require.Len(t, got, 2)
	assert.Equal(t, "url_0", got[0].ID)
	assert.Equal(t, "https://x.test/a", got[0].Name)
	assert.Equal(t, "https://x.test/b", got[1].Info["url"])
}
