package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the public arXiv query endpoint.
	DefaultAPIURL = "http://export.arxiv.org/api/query"

	maxAbstractLen = 1000
	// arXiv asks clients to space requests at least three seconds apart.
	politeInterval = 3 * time.Second
)

// Paper is one search hit.
type Paper struct {
	Title           string   `json:"title"`
	Authors         []string `json:"authors"`
	Abstract        string   `json:"abstract"`
	Published       string   `json:"published"`
	Updated         string   `json:"updated,omitempty"`
	ArxivID         string   `json:"arxiv_id"`
	URL             string   `json:"url"`
	PDFURL          string   `json:"pdf_url"`
	Categories      []string `json:"categories"`
	PrimaryCategory string   `json:"primary_category"`
}

// Searcher finds papers matching a query.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Paper, error)
}

// AtomSource queries the arXiv Atom API.
type AtomSource struct {
	apiURL  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewAtomSource creates a source for apiURL, or DefaultAPIURL when empty.
func NewAtomSource(apiURL string, timeout time.Duration) *AtomSource {
	if strings.TrimSpace(apiURL) == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AtomSource{
		apiURL:  apiURL,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(politeInterval), 1),
	}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
	Authors   []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Type  string `xml:"type,attr"`
		Title string `xml:"title,attr"`
	} `xml:"link"`
	PrimaryCategory struct {
		Term string `xml:"term,attr"`
	} `xml:"http://arxiv.org/schemas/atom primary_category"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

// Search runs query against arXiv sorted by relevance.
func (s *AtomSource) Search(ctx context.Context, query string, maxResults int) ([]Paper, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("search_query", query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(maxResults))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("arxiv request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("arxiv returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var feed atomFeed
	if err := xml.NewDecoder(resp.Body).Decode(&feed); err != nil {
		return nil, fmt.Errorf("decode arxiv feed: %w", err)
	}

	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		papers = append(papers, e.paper())
		if len(papers) == maxResults {
			break
		}
	}
	return papers, nil
}

func (e atomEntry) paper() Paper {
	p := Paper{
		Title:           cleanText(e.Title),
		Authors:         make([]string, 0, len(e.Authors)),
		Abstract:        truncate(cleanText(e.Summary), maxAbstractLen),
		Published:       isoTime(e.Published),
		Updated:         isoTime(e.Updated),
		URL:             strings.TrimSpace(e.ID),
		Categories:      make([]string, 0, len(e.Categories)),
		PrimaryCategory: e.PrimaryCategory.Term,
	}
	if i := strings.LastIndex(p.URL, "/"); i >= 0 {
		p.ArxivID = p.URL[i+1:]
	} else {
		p.ArxivID = p.URL
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			p.PDFURL = l.Href
			break
		}
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			p.Categories = append(p.Categories, c.Term)
		}
	}
	return p
}

func isoTime(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}
	return t.UTC().Format(time.RFC3339)
}

// cleanText strips markup, decodes entities and collapses whitespace.
func cleanText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			b.Write(z.Text())
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
