// Package channelplus implements episode discovery and downloading for
// Channel Plus (channelplus.ner.gov.tw) language-learning courses.
//
// A course is a paginated listing of episodes, 10 per page. Episode data is
// embedded in each listing page as a JSON state blob. Audio and course
// material files are served from stable API endpoints keyed by resource key.
package channelplus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// PageSize is the number of episodes per listing page.
const PageSize = 10

// DefaultBaseURL is the Channel Plus site root.
const DefaultBaseURL = "https://channelplus.ner.gov.tw"

// AudioInfo describes the audio resource attached to an episode.
type AudioInfo struct {
	// Key uniquely identifies the audio resource.
	Key  string `json:"key"`
	Name string `json:"name"`
	// Duration is in seconds.
	Duration float64 `json:"duration"`
	Sn       int     `json:"sn"`
	// Download is site metadata only. The audio endpoint serves the file
	// regardless, so this flag never suppresses an episode.
	Download bool   `json:"download"`
	Path     string `json:"path"`
	From     string `json:"from"`
}

// AttachmentInfo describes a course material (e.g. a PDF handout)
// referenced by an episode.
type AttachmentInfo struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// UnmarshalJSON tolerates the site's mixed attachment lists, where some
// entries are bare strings rather than objects. String entries carry no
// resource key and unmarshal to a zero value, which material detection skips.
func (a *AttachmentInfo) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		*a = AttachmentInfo{}
		return nil
	}

	type plain AttachmentInfo
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*a = AttachmentInfo(p)
	return nil
}

// Episode is one downloadable audio lesson unit within a course.
// JSON tags mirror the site's embedded state payload.
type Episode struct {
	ID        int `json:"_id"`
	ProgramSn int `json:"programSn"`
	// Part is the 1-based position of the episode within the course.
	Part        int              `json:"part"`
	Name        string           `json:"name"`
	ReleaseDate string           `json:"releaseDate"`
	OnShelf     bool             `json:"onShelf"`
	Audio       AudioInfo        `json:"audio"`
	Attachments []AttachmentInfo `json:"attachment"`
	Like        int              `json:"like"`
	View        int              `json:"view"`
	Guests      []string         `json:"guest"`
	Keywords    []string         `json:"keyword"`
}

// HasMaterial reports whether the episode references at least one
// downloadable course material.
func (e *Episode) HasMaterial() bool {
	for _, att := range e.Attachments {
		if att.Key != "" {
			return true
		}
	}
	return false
}

// CourseRange is an inclusive episode number range.
type CourseRange struct {
	Start int
	Final int
}

// Validate checks the range invariants: 1 <= Start <= Final.
func (r CourseRange) Validate() error {
	if r.Start < 1 {
		return fmt.Errorf("start episode must be >= 1, got %d", r.Start)
	}
	if r.Final < r.Start {
		return fmt.Errorf("final episode %d must be >= start episode %d", r.Final, r.Start)
	}
	return nil
}

// Count returns the number of episodes in the range.
func (r CourseRange) Count() int {
	return r.Final - r.Start + 1
}

// Contains reports whether episode number n falls within the range.
func (r CourseRange) Contains(n int) bool {
	return n >= r.Start && n <= r.Final
}

// PageRange is an inclusive listing page range.
type PageRange struct {
	First int
	Last  int
}

// PageOf returns the listing page containing episode n.
// Episodes 1-10 are on page 1, 11-20 on page 2, and so on; exact multiples
// of the page size stay on their own page (160 -> 16, not 17).
func PageOf(n int) int {
	return (n-1)/PageSize + 1
}

// PagesFor returns the listing pages that cover the episode range.
func PagesFor(r CourseRange) PageRange {
	return PageRange{First: PageOf(r.Start), Last: PageOf(r.Final)}
}

// ItemKind distinguishes audio episodes from course materials.
type ItemKind int

const (
	// KindAudio is an episode audio file.
	KindAudio ItemKind = iota
	// KindMaterial is an auxiliary course material file.
	KindMaterial
)

// String returns the string representation of an item kind.
func (k ItemKind) String() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindMaterial:
		return "material"
	default:
		return "unknown"
	}
}

// DownloadItem is one file to fetch and write.
type DownloadItem struct {
	// URL is the full source URL.
	URL string
	// FileName is the target name, unique within the course output
	// directory (audio) or the materials subfolder (materials).
	FileName string
	// Kind selects the target directory and concurrency sub-limit.
	Kind ItemKind
	// Episode is the episode number the item belongs to.
	Episode int
}

// Outcome is the terminal state of a download item.
type Outcome int

const (
	// OutcomeSuccess means the file was fetched and written.
	OutcomeSuccess Outcome = iota
	// OutcomeFailed means the item failed after retries (or permanently).
	OutcomeFailed
	// OutcomeSkipped means the item was never attempted (run canceled).
	OutcomeSkipped
)

// String returns the string representation of an outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// DownloadResult records the outcome for one item. Results are reported in
// the same order as the input items regardless of completion order.
type DownloadResult struct {
	Item    DownloadItem
	Outcome Outcome
	// Attempts is the number of fetch attempts made.
	Attempts int
	// Bytes is the size of the written file on success.
	Bytes int64
	// Err carries the failure reason when Outcome is OutcomeFailed.
	Err error
}

// Stage identifies a progress transition for one item.
type Stage int

const (
	// StageStarted fires when an item's first attempt begins.
	StageStarted Stage = iota
	// StageRetrying fires before each retry attempt.
	StageRetrying
	// StageSucceeded fires after the item is written to disk.
	StageSucceeded
	// StageFailed fires when the item is abandoned.
	StageFailed
)

// String returns the string representation of a stage.
func (s Stage) String() string {
	switch s {
	case StageStarted:
		return "started"
	case StageRetrying:
		return "retrying"
	case StageSucceeded:
		return "succeeded"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressEvent describes one item transition for observability.
type ProgressEvent struct {
	Item    DownloadItem
	Stage   Stage
	Attempt int
	Err     error
}

// ProgressFunc receives progress events. Implementations must be safe for
// concurrent calls from multiple workers.
type ProgressFunc func(ProgressEvent)

// courseIDPattern matches course listing URLs like /viewalllang/390.
var courseIDPattern = regexp.MustCompile(`/viewalllang/(\d+)`)

// ExtractCourseID parses the numeric course ID from a course URL.
func ExtractCourseID(link string) (int, error) {
	m := courseIDPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCourseURL, link)
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCourseURL, link)
	}
	return id, nil
}

// CoursePageURL returns the listing URL for one page of a course.
func CoursePageURL(base string, courseID, page int) string {
	return fmt.Sprintf("%s/viewalllang/%d?page=%d", base, courseID, page)
}

// AudioURL returns the download URL for an audio resource key.
func AudioURL(base, key string) string {
	return fmt.Sprintf("%s/api/audio/%s", base, key)
}

// MaterialURL returns the download URL for a course material resource key.
func MaterialURL(base, key string) string {
	return fmt.Sprintf("%s/api/files/%s", base, key)
}

// AudioItems builds the audio download items for the given episodes.
func AudioItems(base string, episodes []Episode) []DownloadItem {
	items := make([]DownloadItem, 0, len(episodes))
	for _, ep := range episodes {
		items = append(items, DownloadItem{
			URL:      AudioURL(base, ep.Audio.Key),
			FileName: AudioFileName(ep),
			Kind:     KindAudio,
			Episode:  ep.Part,
		})
	}
	return items
}

// MaterialItems builds the material download items referenced by the given
// episodes. A material shared by several episodes is listed once, under the
// first referencing episode's name. Episodes without materials contribute
// nothing; an empty result is not an error.
func MaterialItems(base string, episodes []Episode) []DownloadItem {
	var items []DownloadItem
	seen := make(map[string]bool)
	for _, ep := range episodes {
		for _, att := range ep.Attachments {
			if att.Key == "" || seen[att.Key] {
				continue
			}
			seen[att.Key] = true
			items = append(items, DownloadItem{
				URL:      MaterialURL(base, att.Key),
				FileName: MaterialFileName(att, ep.Part),
				Kind:     KindMaterial,
				Episode:  ep.Part,
			})
		}
	}
	return items
}
