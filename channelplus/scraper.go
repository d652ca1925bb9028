package channelplus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	chttp "chplus/http"
)

// preloadedStateMarker precedes the embedded JSON state blob on every
// listing page. The JSON object starts immediately after it.
const preloadedStateMarker = "window.__PRELOADED_STATE__ = "

// maxScanPages bounds the page walk when auto-detecting the course length.
const maxScanPages = 50

// preloadedState mirrors the slice of the embedded state we navigate.
// The episode list lives at reducers.languageEpisode.data.
type preloadedState struct {
	Reducers struct {
		LanguageEpisode *languageEpisode `json:"languageEpisode"`
	} `json:"reducers"`
}

// languageEpisode is the per-page episode envelope.
type languageEpisode struct {
	Status string    `json:"status"`
	Count  int       `json:"count"`
	Data   []Episode `json:"data"`
}

// Scraper extracts episode data from course listing pages.
type Scraper struct {
	client  *chttp.Client
	baseURL string
	verbose bool
}

// ScraperOption configures the scraper.
type ScraperOption func(*Scraper)

// WithBaseURL overrides the site root. Tests point this at a local server.
func WithBaseURL(base string) ScraperOption {
	return func(s *Scraper) {
		s.baseURL = strings.TrimSuffix(base, "/")
	}
}

// WithVerbose enables per-page debug logging.
func WithVerbose(v bool) ScraperOption {
	return func(s *Scraper) {
		s.verbose = v
	}
}

// NewScraper creates a scraper using the injected HTTP client.
func NewScraper(client *chttp.Client, opts ...ScraperOption) *Scraper {
	s := &Scraper{
		client:  client,
		baseURL: DefaultBaseURL,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// BaseURL returns the site root the scraper targets.
func (s *Scraper) BaseURL() string {
	return s.baseURL
}

// FetchEpisodePage fetches one listing page and returns its episodes.
// Transport failures are retried by the client; a page that comes back
// but cannot be parsed fails with a ScrapeError.
func (s *Scraper) FetchEpisodePage(ctx context.Context, courseID, page int) ([]Episode, error) {
	url := CoursePageURL(s.baseURL, courseID, page)
	if s.verbose {
		log.Printf("chplus: scraping page %d from %s", page, url)
	}

	resp, err := s.client.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch page %d: %w", page, err)
	}

	raw, err := extractPreloadedState(resp.Body)
	if err != nil {
		var scrapeErr *ScrapeError
		if errors.As(err, &scrapeErr) {
			scrapeErr.Page = page
		}
		return nil, err
	}

	var state preloadedState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &ScrapeError{Page: page, Kind: MalformedJSON, Err: err}
	}

	env := state.Reducers.LanguageEpisode
	if env == nil || env.Data == nil {
		return nil, &ScrapeError{Page: page, Kind: UnexpectedShape}
	}

	if s.verbose {
		log.Printf("chplus: found %d episodes on page %d", len(env.Data), page)
	}

	return env.Data, nil
}

// extractPreloadedState locates the state marker in raw HTML and decodes
// the single JSON value that follows it. This is the entire fragile
// scraping surface; everything downstream works on typed data.
func extractPreloadedState(body []byte) (json.RawMessage, error) {
	idx := bytes.Index(body, []byte(preloadedStateMarker))
	if idx < 0 {
		return nil, &ScrapeError{Kind: MarkerNotFound}
	}

	rest := body[idx+len(preloadedStateMarker):]

	dec := json.NewDecoder(bytes.NewReader(rest))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, &ScrapeError{Kind: MalformedJSON, Err: err}
	}

	if len(raw) == 0 || raw[0] != '{' {
		return nil, &ScrapeError{Kind: MalformedJSON, Err: fmt.Errorf("state is not a JSON object")}
	}

	return raw, nil
}

// TotalEpisodes walks listing pages to find the highest episode number in
// the course. It stops at the first empty or short page, or after
// maxScanPages as a safety bound.
func (s *Scraper) TotalEpisodes(ctx context.Context, courseID int) (int, error) {
	maxEpisode := 0

	for page := 1; page <= maxScanPages; page++ {
		episodes, err := s.FetchEpisodePage(ctx, courseID, page)
		if err != nil {
			return 0, err
		}
		if len(episodes) == 0 {
			break
		}

		for _, ep := range episodes {
			if ep.Part > maxEpisode {
				maxEpisode = ep.Part
			}
		}

		// A short page is the last page
		if len(episodes) < PageSize {
			break
		}
	}

	if maxEpisode == 0 {
		return 0, ErrNoEpisodes
	}

	return maxEpisode, nil
}

var (
	// audioNamePatterns extract a course name from audio filenames like
	// "10001coursename.mp3": digits, then the name, then the extension.
	audioNamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`^\d+(.+?)\.mp3$`),
		regexp.MustCompile(`^\d+(.+?)$`),
		regexp.MustCompile(`^(.+?)\.mp3$`),
	}

	// folderNameIllegal matches characters not allowed in directory names.
	folderNameIllegal = regexp.MustCompile(`[<>:"/\\|?*]`)
	folderNameSpaces  = regexp.MustCompile(`\s+`)
)

// CourseName derives a folder-safe course name from the first listing page.
// It falls back to "course_<id>" when nothing usable is found.
func (s *Scraper) CourseName(ctx context.Context, courseID int) (string, error) {
	fallback := fmt.Sprintf("course_%d", courseID)

	episodes, err := s.FetchEpisodePage(ctx, courseID, 1)
	if err != nil {
		return "", err
	}
	if len(episodes) == 0 {
		return fallback, nil
	}

	// The audio filename usually embeds the course title
	audioName := episodes[0].Audio.Name
	for _, pattern := range audioNamePatterns {
		m := pattern.FindStringSubmatch(audioName)
		if m == nil {
			continue
		}
		if name := cleanFolderName(m[1]); name != "" {
			return name, nil
		}
	}

	// Fall back to the first token of the episode title
	parts := strings.Fields(episodes[0].Name)
	if len(parts) > 1 {
		if name := cleanFolderName(parts[0]); name != "" {
			return name, nil
		}
	}

	return fallback, nil
}

// cleanFolderName strips characters unsuitable for a directory name and
// caps the length.
func cleanFolderName(name string) string {
	name = folderNameIllegal.ReplaceAllString(name, "")
	name = folderNameSpaces.ReplaceAllString(name, "")

	runes := []rune(name)
	if len(runes) > 50 {
		name = string(runes[:50])
	}

	return strings.TrimSpace(name)
}

// CourseInfo summarizes a course for validate-only mode.
type CourseInfo struct {
	CourseID      int
	URL           string
	EpisodesFound int
	MaxEpisode    int
	Sample        *Episode
}

// ValidateCourse reports whether the link points at a course with at least
// one episode.
func (s *Scraper) ValidateCourse(ctx context.Context, link string) (bool, error) {
	courseID, err := ExtractCourseID(link)
	if err != nil {
		return false, err
	}

	episodes, err := s.FetchEpisodePage(ctx, courseID, 1)
	if err != nil {
		return false, err
	}

	return len(episodes) > 0, nil
}

// CourseInfo fetches basic information about a course from its first page.
func (s *Scraper) CourseInfo(ctx context.Context, link string) (*CourseInfo, error) {
	courseID, err := ExtractCourseID(link)
	if err != nil {
		return nil, err
	}

	episodes, err := s.FetchEpisodePage(ctx, courseID, 1)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, ErrNoEpisodes
	}

	info := &CourseInfo{
		CourseID:      courseID,
		URL:           link,
		EpisodesFound: len(episodes),
		Sample:        &episodes[0],
	}
	for _, ep := range episodes {
		if ep.Part > info.MaxEpisode {
			info.MaxEpisode = ep.Part
		}
	}

	return info, nil
}
