package channelplus

import (
	"context"
	"log"
	"sort"
)

// Resolver turns an episode range into the concrete episode list by
// fetching exactly the listing pages that cover the range.
type Resolver struct {
	scraper *Scraper
	verbose bool
}

// NewResolver creates a resolver over the given scraper.
func NewResolver(scraper *Scraper, verbose bool) *Resolver {
	return &Resolver{scraper: scraper, verbose: verbose}
}

// ResolveEpisodes fetches the listing pages covering r and returns the
// episodes inside the range, sorted by episode number. Pages are fetched
// sequentially in ascending order. Any page failure aborts the whole
// resolution; a partial episode list is never returned.
func (r *Resolver) ResolveEpisodes(ctx context.Context, courseID int, rng CourseRange) ([]Episode, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	pages := PagesFor(rng)
	if r.verbose {
		log.Printf("chplus: resolving episodes %d-%d from pages %d-%d",
			rng.Start, rng.Final, pages.First, pages.Last)
	}

	var episodes []Episode
	for page := pages.First; page <= pages.Last; page++ {
		pageEpisodes, err := r.scraper.FetchEpisodePage(ctx, courseID, page)
		if err != nil {
			return nil, &ResolutionError{Page: page, Err: err}
		}

		for _, ep := range pageEpisodes {
			if rng.Contains(ep.Part) {
				episodes = append(episodes, ep)
			}
		}
	}

	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].Part < episodes[j].Part
	})

	if r.verbose {
		log.Printf("chplus: resolved %d episodes in range %d-%d",
			len(episodes), rng.Start, rng.Final)
	}

	return episodes, nil
}
