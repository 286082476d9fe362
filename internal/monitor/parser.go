package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/gaigenticai/Regulens-sub010/internal/db"
)

// Candidate is one potential regulatory item extracted from a fetched
// payload, before deduplication against the store.
type Candidate struct {
	Title       string
	Description string
	ContentURL  string
	ChangeType  string
	Severity    string
	PublishedAt time.Time
}

var (
	// RSS titles must name a regulatory action to be kept.
	rssTitleFilter = regexp.MustCompile(`Rule|Release|Statement|Commission`)

	// HTML extraction keeps news anchors whose text names a
	// regulatory document class.
	htmlAnchorPattern = regexp.MustCompile(
		`<a[^>]+href="([^"]*news[^"]*)"[^>]*>([^<]*(?:Policy|Guidance|Consultation|Statement|Rule)[^<]*)</a>`)

	// Title keywords classifying the kind of change announced.
	repealPattern    = regexp.MustCompile(`(?i)repeal|rescind|withdraw`)
	amendmentPattern = regexp.MustCompile(`(?i)amend|revis`)
	guidancePattern  = regexp.MustCompile(`(?i)guidance|consultation|interpret`)
)

// Parse extracts item candidates from a fetched payload. The extraction
// is deliberately shallow; anything heavier belongs in a dedicated
// adapter behind the same signature.
func Parse(sourceType, body, baseURL string) ([]Candidate, error) {
	switch sourceType {
	case db.SourceTypeRSS:
		return parseRSS(body)
	case db.SourceTypeHTML:
		return parseHTML(body, baseURL), nil
	case db.SourceTypeAPI:
		return parseAPI(body)
	default:
		return nil, fmt.Errorf("unknown source type %q", sourceType)
	}
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssEntry `xml:"item"`
}

type rssEntry struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

func parseRSS(body string) ([]Candidate, error) {
	var feed rssFeed
	if err := xml.Unmarshal([]byte(body), &feed); err != nil {
		return nil, fmt.Errorf("failed to parse rss feed: %w", err)
	}

	now := time.Now().UTC()
	var candidates []Candidate
	for _, entry := range feed.Channel.Items {
		title := strings.TrimSpace(entry.Title)
		if title == "" || !rssTitleFilter.MatchString(title) {
			continue
		}

		severity := db.SeverityHigh
		if strings.Contains(title, "Emergency") {
			severity = db.SeverityCritical
		}

		candidates = append(candidates, Candidate{
			Title:       title,
			Description: strings.TrimSpace(entry.Description),
			ContentURL:  strings.TrimSpace(entry.Link),
			ChangeType:  classifyChange(title),
			Severity:    severity,
			PublishedAt: parsePubDate(entry.PubDate, now),
		})
	}
	return candidates, nil
}

func parseHTML(body, baseURL string) []Candidate {
	now := time.Now().UTC()
	var candidates []Candidate
	for _, match := range htmlAnchorPattern.FindAllStringSubmatch(body, -1) {
		title := strings.TrimSpace(match[2])
		if title == "" {
			continue
		}
		candidates = append(candidates, Candidate{
			Title:       title,
			ContentURL:  resolveLink(strings.TrimSpace(match[1]), baseURL),
			ChangeType:  classifyChange(title),
			Severity:    db.SeverityMedium,
			PublishedAt: now,
		})
	}
	return candidates
}

type apiFeed struct {
	Items []apiEntry `json:"items"`
}

type apiEntry struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishedAt string `json:"published_at"`
	Severity    string `json:"severity"`
}

func parseAPI(body string) ([]Candidate, error) {
	var feed apiFeed
	if err := json.Unmarshal([]byte(body), &feed); err != nil {
		return nil, fmt.Errorf("failed to parse api feed: %w", err)
	}

	now := time.Now().UTC()
	var candidates []Candidate
	for _, entry := range feed.Items {
		title := strings.TrimSpace(entry.Title)
		if title == "" {
			continue
		}

		published := now
		if entry.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, entry.PublishedAt); err == nil {
				published = ts.UTC()
			}
		}

		candidates = append(candidates, Candidate{
			Title:       title,
			Description: strings.TrimSpace(entry.Description),
			ContentURL:  strings.TrimSpace(entry.URL),
			ChangeType:  classifyChange(title),
			Severity:    normalizeSeverity(entry.Severity),
			PublishedAt: published,
		})
	}
	return candidates, nil
}

// classifyChange buckets a title into the closed change taxonomy.
// Repeals are checked first: "rescinding the amended rule" is a repeal.
func classifyChange(title string) string {
	switch {
	case repealPattern.MatchString(title):
		return db.ChangeRepeal
	case amendmentPattern.MatchString(title):
		return db.ChangeAmendment
	case guidancePattern.MatchString(title):
		return db.ChangeGuidance
	default:
		return db.ChangeNew
	}
}

func normalizeSeverity(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case db.SeverityLow:
		return db.SeverityLow
	case db.SeverityMedium:
		return db.SeverityMedium
	case db.SeverityHigh:
		return db.SeverityHigh
	case db.SeverityCritical:
		return db.SeverityCritical
	default:
		return db.SeverityMedium
	}
}

// parsePubDate tries the common RSS date layouts, then the strict RFC
// 822 forms. A date that fits nothing becomes fallback so the item is
// kept rather than dropped.
func parsePubDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return fallback
}

// resolveLink absolutizes an anchor href against the source URL.
// Already-absolute links pass through untouched.
func resolveLink(href, baseURL string) string {
	if strings.HasPrefix(href, "http") {
		return href
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// itemID derives the deterministic item id. The hash input carries the
// parsed publication instant rather than the sweep time, so the same
// feed entry maps to the same id on every sweep and the store insert
// dedups it.
func itemID(source, title string, publishedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%d", source, title, publishedAt.UnixNano())))
	return source + "_" + hex.EncodeToString(sum[:])[:16]
}

// Item materializes the candidate as a persistable regulatory item
// attributed to the given source.
func (c Candidate) Item(sourceID string) *db.RegulatoryItem {
	return &db.RegulatoryItem{
		ID:          itemID(sourceID, c.Title, c.PublishedAt),
		Source:      sourceID,
		Title:       c.Title,
		Description: c.Description,
		ContentURL:  c.ContentURL,
		ChangeType:  c.ChangeType,
		Severity:    c.Severity,
		DetectedAt:  time.Now().UTC(),
		PublishedAt: c.PublishedAt,
	}
}
