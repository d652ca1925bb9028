// Package chplus downloads language-learning course audio and materials
// from Channel Plus (channelplus.ner.gov.tw).
//
// The library is organized into focused packages:
//
//   - channelplus: episode discovery, pagination, downloading, and file
//     naming for Channel Plus courses
//   - http: HTTP client with retry, request pacing, and circuit breaking
//   - retry: exponential backoff with jitter
//   - config: run configuration with environment overrides
//   - storage: atomic file writes
//
// The cli directory holds the chplus command built on these packages.
//
// Basic library usage:
//
//	client := http.New(http.DefaultConfig())
//	defer client.Close()
//
//	scraper := channelplus.NewScraper(client)
//	resolver := channelplus.NewResolver(scraper, false)
//	episodes, err := resolver.ResolveEpisodes(ctx, 390, channelplus.CourseRange{Start: 1, Final: 20})
//	if err != nil {
//		// a failed listing page aborts resolution
//	}
//
//	writer := channelplus.NewWriter("/tmp/course")
//	dl := channelplus.NewDownloader(client, writer, channelplus.DefaultDownloaderConfig())
//	summary, err := dl.Download(ctx, channelplus.AudioItems(scraper.BaseURL(), episodes))
package chplus
