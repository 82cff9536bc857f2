// Package scrape discovers news entries from the Google Search News tab
// (https://google.com/search?tbm=nws), filtered to the past hour and sorted
// newest first. It is the external producer side of the ingestion pipeline:
// its output feeds Store.InsertEntry, which owns duplicate suppression.
package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/abja/topic-streams/internal/database"
	"github.com/charmbracelet/log"
)

const (
	defaultBaseURL  = "https://www.google.com/search"
	defaultMaxPages = 5
	resultsPerPage  = 10

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
)

// Scraper fetches and parses news result pages for a topic.
type Scraper struct {
	client   *http.Client
	logger   *log.Logger
	baseURL  string
	maxPages int
}

// New creates a scraper with a bounded per-request timeout.
func New(logger *log.Logger) *Scraper {
	return &Scraper{
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger,
		baseURL:  defaultBaseURL,
		maxPages: defaultMaxPages,
	}
}

// ScrapeTopic walks result pages for a topic until a page yields nothing,
// a page fails, or the page limit is reached. Entries come back oldest
// first so that insertion order matches chronology; one ScraperLog row is
// produced per page attempt regardless of outcome.
func (s *Scraper) ScrapeTopic(ctx context.Context, topicName string) ([]database.NewsEntry, []database.ScraperLog) {
	var entries []database.NewsEntry
	var logs []database.ScraperLog

	for page := 1; s.maxPages == 0 || page <= s.maxPages; page++ {
		pageEntries, logEntry := s.scrapePage(ctx, topicName, page)
		logs = append(logs, logEntry)
		if len(pageEntries) == 0 || !logEntry.Success {
			break
		}
		entries = append(entries, pageEntries...)
	}

	reverseEntries(entries)
	reverseLogs(logs)
	return entries, logs
}

func (s *Scraper) scrapePage(ctx context.Context, topicName string, page int) ([]database.NewsEntry, database.ScraperLog) {
	// tbm=nws selects the news tab; tbs=sbd:1,qdr:h,nsd:1 sorts by date,
	// restricts to the past hour and keeps same-story duplicates from
	// different sources.
	query := url.Values{}
	query.Set("tbm", "nws")
	query.Set("tbs", "sbd:1,qdr:h,nsd:1")
	query.Set("start", strconv.Itoa((page-1)*resultsPerPage))
	query.Set("q", topicName)
	requestURL := s.baseURL + "?" + query.Encode()

	s.logger.Info("[SCRAPE] Fetching page", "topic", topicName, "page", page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, failureLog(topicName, nil, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "en")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("[SCRAPE] Request failed", "topic", topicName, "error", err)
		return nil, failureLog(topicName, nil, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		s.logger.Error("[SCRAPE] HTTP error", "topic", topicName, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			s.logger.Error("[SCRAPE] Rate limiting detected")
		}
		return nil, failureLog(topicName, &resp.StatusCode, nil)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		s.logger.Error("[SCRAPE] Parse failed", "topic", topicName, "error", err)
		return nil, failureLog(topicName, &resp.StatusCode, err)
	}

	items := findNewsItems(doc)
	var entries []database.NewsEntry
	items.Each(func(_ int, item *goquery.Selection) {
		if entry := parseItem(item, topicName); entry != nil {
			entries = append(entries, *entry)
		}
	})

	s.logger.Info("[SCRAPE] Page parsed", "topic", topicName, "page", page, "entries", len(entries))

	status := resp.StatusCode
	return entries, database.ScraperLog{
		Topic:          topicName,
		ScrapedAt:      time.Now(),
		Success:        true,
		HTTPStatusCode: &status,
	}
}

// findNewsItems tries the current result-card selector first, then older
// layouts. Google rotates these markup classes without notice.
func findNewsItems(doc *goquery.Document) *goquery.Selection {
	items := doc.Find("div.SoaBEf")
	if items.Length() == 0 {
		items = doc.Find("div.Gx5Zad")
	}
	if items.Length() == 0 {
		items = doc.Find("div[data-sokoban-container] > div")
	}
	if items.Length() == 0 {
		items = doc.Find("#rso div.g, #search div.g")
	}
	return items
}

func parseItem(item *goquery.Selection, topicName string) *database.NewsEntry {
	title := firstText(item, `div[role="heading"], a[role="heading"]`, "h3, h4")
	if title == "" {
		return nil
	}

	href, ok := item.Find("a[href]").First().Attr("href")
	if !ok {
		return nil
	}
	entryURL := normalizeResultURL(strings.TrimSpace(href))
	if entryURL == "" {
		return nil
	}

	domain := extractDomain(entryURL)
	if domain == "" {
		return nil
	}

	var source *string
	if text := firstText(item, "div.MgUUmf, span.MgUUmf", "div[data-n-tid], div.CEMjEf span"); text != "" {
		source = &text
	}

	return &database.NewsEntry{
		Topic:  topicName,
		Title:  title,
		URL:    entryURL,
		Domain: domain,
		Source: source,
	}
}

func firstText(item *goquery.Selection, selectors ...string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(item.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}

// normalizeResultURL unwraps Google's /url?q=<target> redirect links and
// resolves other relative paths against google.com.
func normalizeResultURL(href string) string {
	const redirectPrefix = "/url?q="
	if strings.HasPrefix(href, redirectPrefix) {
		target := strings.TrimPrefix(href, redirectPrefix)
		if i := strings.IndexByte(target, '&'); i >= 0 {
			target = target[:i]
		}
		return target
	}
	if strings.HasPrefix(href, "/") {
		return "https://www.google.com" + href
	}
	return href
}

// extractDomain pulls the host out of a URL, without a leading "www.".
func extractDomain(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(parsed.Hostname(), "www.")
}

func failureLog(topicName string, status *int, err error) database.ScraperLog {
	logEntry := database.ScraperLog{
		Topic:          topicName,
		ScrapedAt:      time.Now(),
		Success:        false,
		HTTPStatusCode: status,
	}
	if err != nil {
		message := fmt.Sprintf("%v", err)
		logEntry.ErrorMessage = &message
	}
	return logEntry
}

func reverseEntries(entries []database.NewsEntry) {
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
}

func reverseLogs(logs []database.ScraperLog) {
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
}
