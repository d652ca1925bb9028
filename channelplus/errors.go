package channelplus

import (
	"errors"
	"fmt"

	chttp "chplus/http"
)

// ErrInvalidCourseURL indicates a link that is not a course listing URL.
var ErrInvalidCourseURL = errors.New("invalid course url")

// ErrNoEpisodes indicates a course page that yielded no episodes.
var ErrNoEpisodes = errors.New("no episodes found")

// ScrapeErrorKind classifies why a listing page could not be parsed.
type ScrapeErrorKind int

const (
	// MarkerNotFound means the embedded state marker is absent from the body.
	MarkerNotFound ScrapeErrorKind = iota
	// MalformedJSON means the payload after the marker is not valid JSON.
	MalformedJSON
	// UnexpectedShape means the parsed state lacks the episode list path.
	UnexpectedShape
)

// String returns the string representation of a scrape error kind.
func (k ScrapeErrorKind) String() string {
	switch k {
	case MarkerNotFound:
		return "marker not found"
	case MalformedJSON:
		return "malformed json"
	case UnexpectedShape:
		return "unexpected shape"
	default:
		return "unknown"
	}
}

// ScrapeError indicates a listing page that was fetched but could not be
// parsed into episodes. The fetch itself is retried by the transport; a
// ScrapeError is about content and is never retried.
type ScrapeError struct {
	// Page is the listing page number.
	Page int
	// Kind classifies the parse failure.
	Kind ScrapeErrorKind
	// Err is the underlying cause, if any.
	Err error
}

// Error returns a string representation of the scrape error.
func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scrape page %d: %s: %v", e.Page, e.Kind, e.Err)
	}
	return fmt.Sprintf("scrape page %d: %s", e.Page, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// ResolutionError indicates a required listing page never succeeded.
// It aborts the whole run: a truncated episode list would silently narrow
// the download scope.
type ResolutionError struct {
	// Page is the listing page that failed.
	Page int
	// Err is the underlying cause.
	Err error
}

// Error returns a string representation of the resolution error.
func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve page %d: %v", e.Page, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// DownloadErrorKind classifies per-item download failures.
type DownloadErrorKind int

const (
	// NotFound is a 404 for the item; terminal, never retried.
	NotFound DownloadErrorKind = iota
	// RateLimited is a 429; retryable.
	RateLimited
	// ServerError is a 5xx; retryable.
	ServerError
	// IOError is a filesystem failure writing the item; terminal.
	IOError
	// TransportFailure is a network error or timeout; retryable.
	TransportFailure
)

// String returns the string representation of a download error kind.
func (k DownloadErrorKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case RateLimited:
		return "rate limited"
	case ServerError:
		return "server error"
	case IOError:
		return "io error"
	case TransportFailure:
		return "transport failure"
	default:
		return "unknown"
	}
}

// DownloadError is a per-item failure. Per-item failures are recorded in
// the result set and never abort sibling items.
type DownloadError struct {
	// Item identifies the failed download.
	Item DownloadItem
	// Kind classifies the failure.
	Kind DownloadErrorKind
	// Err is the underlying cause.
	Err error
}

// Error returns a string representation of the download error.
func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s (episode %d): %s: %v", e.Item.FileName, e.Item.Episode, e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DownloadError) Unwrap() error {
	return e.Err
}

// classifyFetchError maps a transport error onto a DownloadErrorKind.
func classifyFetchError(err error) DownloadErrorKind {
	var rateErr *chttp.RateLimitError
	if errors.As(err, &rateErr) {
		return RateLimited
	}

	var httpErr *chttp.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == 404:
			return NotFound
		case httpErr.StatusCode >= 500:
			return ServerError
		default:
			return NotFound
		}
	}

	return TransportFailure
}
