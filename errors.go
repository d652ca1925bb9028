package chplus

import (
	"chplus/channelplus"
	chttp "chplus/http"
)

// Common errors re-exported for convenience, so callers can check them
// with errors.Is without importing the subpackages.
var (
	// ErrInvalidCourseURL indicates a link that is not a course listing URL.
	ErrInvalidCourseURL = channelplus.ErrInvalidCourseURL

	// ErrNoEpisodes indicates a course page that yielded no episodes.
	ErrNoEpisodes = channelplus.ErrNoEpisodes

	// ErrCircuitOpen indicates the circuit breaker is rejecting requests
	// after repeated failures.
	ErrCircuitOpen = chttp.ErrCircuitOpen

	// ErrRequestFailed indicates a transport-level request failure.
	ErrRequestFailed = chttp.ErrRequestFailed
)
