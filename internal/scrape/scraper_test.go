package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultsPage = `<html><body>
<div class="SoaBEf">
  <a href="/url?q=https://coindesk.com/btc-rallies&amp;sa=U&amp;ved=xyz"></a>
  <div role="heading">BTC rallies past resistance</div>
  <div class="MgUUmf">CoinDesk</div>
</div>
<div class="SoaBEf">
  <a href="https://www.reuters.com/markets/crypto-update"></a>
  <div role="heading">Crypto markets update</div>
</div>
</body></html>`

const emptyPage = `<html><body><div id="res"></div></body></html>`

func newTestScraper(t *testing.T, handler http.Handler) *Scraper {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	s := New(log.New(io.Discard))
	s.baseURL = ts.URL
	return s
}

func TestScrapeTopic_ParsesEntries(t *testing.T) {
	var requests []string
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.RawQuery)
		if r.URL.Query().Get("start") == "0" {
			fmt.Fprint(w, resultsPage)
			return
		}
		fmt.Fprint(w, emptyPage)
	}))

	entries, logs := s.ScrapeTopic(context.Background(), "bitcoin")

	require.Len(t, entries, 2)
	// Reversed to chronological order: last result on the page comes first.
	assert.Equal(t, "Crypto markets update", entries[0].Title)
	assert.Equal(t, "reuters.com", entries[0].Domain)
	assert.Nil(t, entries[0].Source)

	assert.Equal(t, "BTC rallies past resistance", entries[1].Title)
	assert.Equal(t, "https://coindesk.com/btc-rallies", entries[1].URL)
	assert.Equal(t, "coindesk.com", entries[1].Domain)
	require.NotNil(t, entries[1].Source)
	assert.Equal(t, "CoinDesk", *entries[1].Source)

	for _, entry := range entries {
		assert.Equal(t, "bitcoin", entry.Topic)
	}

	// One log row per page attempted, both successful.
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.True(t, l.Success)
		require.NotNil(t, l.HTTPStatusCode)
		assert.Equal(t, http.StatusOK, *l.HTTPStatusCode)
	}

	require.Len(t, requests, 2)
	assert.Contains(t, requests[0], "tbm=nws")
	assert.Contains(t, requests[0], "q=bitcoin")
	assert.Contains(t, requests[1], "start=10")
}

func TestScrapeTopic_HTTPErrorRecordsFailure(t *testing.T) {
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	entries, logs := s.ScrapeTopic(context.Background(), "bitcoin")

	assert.Empty(t, entries)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	require.NotNil(t, logs[0].HTTPStatusCode)
	assert.Equal(t, http.StatusTooManyRequests, *logs[0].HTTPStatusCode)
}

func TestScrapeTopic_UnreachableServerRecordsError(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close() // connection refused from here on

	s := New(log.New(io.Discard))
	s.baseURL = ts.URL

	entries, logs := s.ScrapeTopic(context.Background(), "bitcoin")

	assert.Empty(t, entries)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
	assert.Nil(t, logs[0].HTTPStatusCode)
	require.NotNil(t, logs[0].ErrorMessage)
}

func TestScrapeTopic_StopsAtPageLimit(t *testing.T) {
	var pages int
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages++
		fmt.Fprint(w, resultsPage)
	}))
	s.maxPages = 3

	entries, logs := s.ScrapeTopic(context.Background(), "bitcoin")

	assert.Equal(t, 3, pages)
	assert.Len(t, entries, 6)
	assert.Len(t, logs, 3)
}

func TestScrapeTopic_FallbackSelectors(t *testing.T) {
	// Older result markup: no SoaBEf cards, plain #search div.g with h3.
	page := `<html><body><div id="search">
	<div class="g">
	  <a href="https://example.org/story"></a>
	  <h3>Fallback headline</h3>
	</div>
	</div></body></html>`

	served := false
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served {
			fmt.Fprint(w, emptyPage)
			return
		}
		served = true
		fmt.Fprint(w, page)
	}))

	entries, _ := s.ScrapeTopic(context.Background(), "bitcoin")

	require.Len(t, entries, 1)
	assert.Equal(t, "Fallback headline", entries[0].Title)
	assert.Equal(t, "example.org", entries[0].Domain)
}

func TestScrapeTopic_SkipsItemsMissingTitleOrLink(t *testing.T) {
	page := `<html><body>
	<div class="SoaBEf"><div role="heading">No link here</div></div>
	<div class="SoaBEf"><a href="https://example.com/x"></a></div>
	<div class="SoaBEf">
	  <a href="https://example.com/ok"></a>
	  <div role="heading">Complete item</div>
	</div>
	</body></html>`

	served := false
	s := newTestScraper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if served {
			fmt.Fprint(w, emptyPage)
			return
		}
		served = true
		fmt.Fprint(w, page)
	}))

	entries, _ := s.ScrapeTopic(context.Background(), "bitcoin")

	require.Len(t, entries, 1)
	assert.Equal(t, "Complete item", entries[0].Title)
}

func TestNormalizeResultURL(t *testing.T) {
	tests := []struct {
		name string
		href string
		want string
	}{
		{"redirect unwrapped", "/url?q=https://example.com/a&sa=U&ved=x", "https://example.com/a"},
		{"redirect without extras", "/url?q=https://example.com/a", "https://example.com/a"},
		{"relative path resolved", "/search?q=more", "https://www.google.com/search?q=more"},
		{"absolute untouched", "https://example.com/b", "https://example.com/b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeResultURL(tt.href))
		})
	}
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", extractDomain("https://www.example.com/path"))
	assert.Equal(t, "news.example.com", extractDomain("https://news.example.com/a?b=c"))
	assert.Equal(t, "", extractDomain("://not-a-url"))
}
