package channelplus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	chttp "chplus/http"
	"chplus/retry"
)

// newTestClient returns a client tuned for fast tests: millisecond retry
// backoff, no pacing, circuit breaker off.
func newTestClient() *chttp.Client {
	cfg := chttp.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.Retry = retry.Config{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
	cfg.Pacer = chttp.PacerConfig{}
	cfg.CircuitBreaker.Disabled = true
	return chttp.New(cfg)
}

// testEpisode builds an episode with an audio key derived from its number.
func testEpisode(part int) Episode {
	return Episode{
		ID:      1000 + part,
		Part:    part,
		Name:    fmt.Sprintf("lesson %d", part),
		OnShelf: true,
		Audio: AudioInfo{
			Key:      fmt.Sprintf("audio-key-%d", part),
			Name:     fmt.Sprintf("%05dtestcourse.mp3", 10000+part),
			Duration: 600,
		},
	}
}

// listingHTML wraps episodes in the embedded-state page structure.
func listingHTML(t *testing.T, episodes []Episode) string {
	t.Helper()

	state := map[string]any{
		"reducers": map[string]any{
			"languageEpisode": map[string]any{
				"status": "success",
				"count":  len(episodes),
				"data":   episodes,
			},
		},
	}
	blob, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal state: %v", err)
	}

	return fmt.Sprintf(
		"<html><head><script>window.__PRELOADED_STATE__ = %s;</script></head><body></body></html>",
		blob)
}

// listingServer serves per-page episode listings and records requested pages.
func listingServer(t *testing.T, pages map[int][]Episode) (*httptest.Server, *[]int) {
	t.Helper()

	var requested []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := 1
		fmt.Sscanf(r.URL.Query().Get("page"), "%d", &page)
		requested = append(requested, page)

		episodes, ok := pages[page]
		if !ok {
			episodes = nil
		}
		fmt.Fprint(w, listingHTML(t, episodes))
	}))
	t.Cleanup(srv.Close)

	return srv, &requested
}

func TestFetchEpisodePage_Success(t *testing.T) {
	episodes := []Episode{testEpisode(1), testEpisode(2)}
	episodes[1].Audio.Download = false
	episodes[1].Attachments = []AttachmentInfo{{Key: "m2", Name: "handout.pdf"}}

	srv, _ := listingServer(t, map[int][]Episode{1: episodes})
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	got, err := scraper.FetchEpisodePage(context.Background(), 390, 1)
	if err != nil {
		t.Fatalf("FetchEpisodePage: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d episodes, want 2", len(got))
	}
	if got[0].Part != 1 || got[0].Audio.Key != "audio-key-1" {
		t.Errorf("first episode = %+v", got[0])
	}
	// download:false episodes are still listed
	if got[1].Part != 2 {
		t.Errorf("second episode = %+v", got[1])
	}
	if !got[1].HasMaterial() {
		t.Error("second episode should have material")
	}
}

func TestFetchEpisodePage_MarkerNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>no state here</body></html>")
	}))
	defer srv.Close()

	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	_, err := scraper.FetchEpisodePage(context.Background(), 390, 3)
	var scrapeErr *ScrapeError
	if !errors.As(err, &scrapeErr) {
		t.Fatalf("error = %v, want *ScrapeError", err)
	}
	if scrapeErr.Kind != MarkerNotFound {
		t.Errorf("Kind = %v, want MarkerNotFound", scrapeErr.Kind)
	}
	if scrapeErr.Page != 3 {
		t.Errorf("Page = %d, want 3", scrapeErr.Page)
	}
}

func TestFetchEpisodePage_MalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<script>window.__PRELOADED_STATE__ = {"reducers": {broken</script>`)
	}))
	defer srv.Close()

	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	_, err := scraper.FetchEpisodePage(context.Background(), 390, 1)
	var scrapeErr *ScrapeError
	if !errors.As(err, &scrapeErr) {
		t.Fatalf("error = %v, want *ScrapeError", err)
	}
	if scrapeErr.Kind != MalformedJSON {
		t.Errorf("Kind = %v, want MalformedJSON", scrapeErr.Kind)
	}
}

func TestFetchEpisodePage_UnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<script>window.__PRELOADED_STATE__ = {"reducers": {"somethingElse": {}}};</script>`)
	}))
	defer srv.Close()

	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	_, err := scraper.FetchEpisodePage(context.Background(), 390, 1)
	var scrapeErr *ScrapeError
	if !errors.As(err, &scrapeErr) {
		t.Fatalf("error = %v, want *ScrapeError", err)
	}
	if scrapeErr.Kind != UnexpectedShape {
		t.Errorf("Kind = %v, want UnexpectedShape", scrapeErr.Kind)
	}
}

func TestExtractPreloadedState_NonObjectValue(t *testing.T) {
	body := []byte(`window.__PRELOADED_STATE__ = "just a string";`)

	_, err := extractPreloadedState(body)
	var scrapeErr *ScrapeError
	if !errors.As(err, &scrapeErr) {
		t.Fatalf("error = %v, want *ScrapeError", err)
	}
	if scrapeErr.Kind != MalformedJSON {
		t.Errorf("Kind = %v, want MalformedJSON", scrapeErr.Kind)
	}
}

func TestTotalEpisodes(t *testing.T) {
	pages := map[int][]Episode{
		1: make([]Episode, 0, PageSize),
		2: {testEpisode(11), testEpisode(12), testEpisode(13)},
	}
	for i := 1; i <= PageSize; i++ {
		pages[1] = append(pages[1], testEpisode(i))
	}

	srv, requested := listingServer(t, pages)
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	total, err := scraper.TotalEpisodes(context.Background(), 390)
	if err != nil {
		t.Fatalf("TotalEpisodes: %v", err)
	}
	if total != 13 {
		t.Errorf("total = %d, want 13", total)
	}

	// The short page 2 ends the walk; page 3 is never fetched
	for _, p := range *requested {
		if p > 2 {
			t.Errorf("page %d was fetched past the short page", p)
		}
	}
}

func TestTotalEpisodes_EmptyCourse(t *testing.T) {
	srv, _ := listingServer(t, map[int][]Episode{})
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	_, err := scraper.TotalEpisodes(context.Background(), 390)
	if !errors.Is(err, ErrNoEpisodes) {
		t.Errorf("error = %v, want ErrNoEpisodes", err)
	}
}

func TestCourseName(t *testing.T) {
	ep := testEpisode(1)
	ep.Audio.Name = "10001englishweekly.mp3"

	srv, _ := listingServer(t, map[int][]Episode{1: {ep}})
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	name, err := scraper.CourseName(context.Background(), 390)
	if err != nil {
		t.Fatalf("CourseName: %v", err)
	}
	if name != "englishweekly" {
		t.Errorf("name = %q, want %q", name, "englishweekly")
	}
}

func TestCourseName_Fallback(t *testing.T) {
	ep := testEpisode(1)
	ep.Audio.Name = ""
	ep.Name = "solo"

	srv, _ := listingServer(t, map[int][]Episode{1: {ep}})
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	name, err := scraper.CourseName(context.Background(), 42)
	if err != nil {
		t.Fatalf("CourseName: %v", err)
	}
	if name != "course_42" {
		t.Errorf("name = %q, want %q", name, "course_42")
	}
}

func TestCleanFolderName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple", "simple"},
		{"with spaces here", "withspaceshere"},
		{`bad<>:"/\|?*chars`, "badchars"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := cleanFolderName(tt.in); got != tt.want {
			t.Errorf("cleanFolderName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidateCourse(t *testing.T) {
	srv, _ := listingServer(t, map[int][]Episode{1: {testEpisode(1)}})
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	ok, err := scraper.ValidateCourse(context.Background(), "https://channelplus.ner.gov.tw/viewalllang/390")
	if err != nil {
		t.Fatalf("ValidateCourse: %v", err)
	}
	if !ok {
		t.Error("expected course to validate")
	}

	_, err = scraper.ValidateCourse(context.Background(), "https://channelplus.ner.gov.tw/nope")
	if !errors.Is(err, ErrInvalidCourseURL) {
		t.Errorf("error = %v, want ErrInvalidCourseURL", err)
	}
}

func TestCourseInfo(t *testing.T) {
	pages := map[int][]Episode{1: {testEpisode(1), testEpisode(2), testEpisode(3)}}
	srv, _ := listingServer(t, pages)
	scraper := NewScraper(newTestClient(), WithBaseURL(srv.URL))

	info, err := scraper.CourseInfo(context.Background(), "https://channelplus.ner.gov.tw/viewalllang/390")
	if err != nil {
		t.Fatalf("CourseInfo: %v", err)
	}
	if info.CourseID != 390 {
		t.Errorf("CourseID = %d, want 390", info.CourseID)
	}
	if info.EpisodesFound != 3 || info.MaxEpisode != 3 {
		t.Errorf("info = %+v", info)
	}
	if info.Sample == nil || info.Sample.Part != 1 {
		t.Errorf("Sample = %+v", info.Sample)
	}
}
