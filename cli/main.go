// Command chplus downloads language-learning course audio and materials
// from Channel Plus (channelplus.ner.gov.tw).
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chplus/channelplus"
	"chplus/config"
	chttp "chplus/http"
	"chplus/retry"
)

// Exit codes reported to the shell.
const (
	exitOK          = 0
	exitInvalidArgs = 2
	exitResolution  = 3
	exitPartial     = 4
	exitTotal       = 5
)

// exitError carries a process exit code alongside the cause.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit code %d", e.code)
}

func (e *exitError) Unwrap() error {
	return e.err
}

func main() {
	log.SetFlags(0)
	log.SetPrefix("chplus: ")

	cfg, err := config.Load()
	if err != nil {
		log.Printf("invalid configuration: %v", err)
		os.Exit(exitInvalidArgs)
	}

	root := newRootCmd(cfg)
	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.err != nil {
				log.Print(ee.err)
			}
			os.Exit(ee.code)
		}
		log.Print(err)
		os.Exit(exitInvalidArgs)
	}
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	// Duration options are plain seconds on the command line
	var (
		timeoutSecs int
		delaySecs   float64
	)

	cmd := &cobra.Command{
		Use:   "chplus",
		Short: "Download Channel Plus language course audio and materials",
		Long: `chplus downloads audio episodes and course materials from a
Channel Plus course listing (channelplus.ner.gov.tw/viewalllang/<id>).

Episodes outside --start/--final are skipped. When --final is omitted the
course length is detected automatically; when --path is omitted the output
directory is derived from the course name under ~/Downloads.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.Timeout = time.Duration(timeoutSecs) * time.Second
			cfg.Delay = time.Duration(delaySecs * float64(time.Second))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Link, "link", "l", "", "course URL (required)")
	flags.StringVarP(&cfg.OutputDir, "path", "p", cfg.OutputDir, "output directory (default: ~/Downloads/<course name>)")
	flags.IntVarP(&cfg.Start, "start", "s", cfg.Start, "first episode to download (default: 1)")
	flags.IntVarP(&cfg.Final, "final", "f", cfg.Final, "last episode to download (default: auto-detect)")
	flags.IntVarP(&cfg.Concurrent, "concurrent", "c", cfg.Concurrent, "concurrent downloads (1-10)")
	flags.IntVarP(&timeoutSecs, "timeout", "t", int(cfg.Timeout/time.Second), "per-request timeout in seconds")
	flags.IntVarP(&cfg.RetryAttempts, "retry-attempts", "r", cfg.RetryAttempts, "fetch attempts per item (1-10)")
	flags.Float64VarP(&delaySecs, "delay", "d", cfg.Delay.Seconds(), "seconds to wait between requests")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "verbose logging")
	flags.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "resolve and list downloads without fetching")
	flags.BoolVar(&cfg.ValidateOnly, "validate-only", cfg.ValidateOnly, "validate the course link and exit")

	cmd.MarkFlagRequired("link")

	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return &exitError{code: exitInvalidArgs, err: err}
	}

	courseID, err := channelplus.ExtractCourseID(cfg.Link)
	if err != nil {
		return &exitError{code: exitInvalidArgs, err: err}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := newClient(cfg)
	defer client.Close()

	scraper := channelplus.NewScraper(client, channelplus.WithVerbose(cfg.Verbose))

	if cfg.ValidateOnly {
		return validateCourse(ctx, scraper, cfg.Link)
	}

	// Smart defaults: detect the course length and name when not given
	rng := channelplus.CourseRange{Start: cfg.Start, Final: cfg.Final}
	if rng.Start == 0 {
		rng.Start = 1
	}
	if rng.Final == 0 {
		total, err := scraper.TotalEpisodes(ctx, courseID)
		if err != nil {
			return &exitError{code: exitResolution, err: fmt.Errorf("detect course length: %w", err)}
		}
		rng.Final = total
		log.Printf("detected %d episodes", total)
	}
	if err := rng.Validate(); err != nil {
		return &exitError{code: exitInvalidArgs, err: err}
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		name, err := scraper.CourseName(ctx, courseID)
		if err != nil {
			return &exitError{code: exitResolution, err: fmt.Errorf("derive course name: %w", err)}
		}
		root, err := config.DefaultDownloadRoot()
		if err != nil {
			return &exitError{code: exitInvalidArgs, err: err}
		}
		outputDir = filepath.Join(root, name)
	}
	log.Printf("downloading episodes %d-%d to %s", rng.Start, rng.Final, outputDir)

	resolver := channelplus.NewResolver(scraper, cfg.Verbose)
	episodes, err := resolver.ResolveEpisodes(ctx, courseID, rng)
	if err != nil {
		return &exitError{code: exitResolution, err: err}
	}
	if len(episodes) == 0 {
		return &exitError{code: exitResolution, err: channelplus.ErrNoEpisodes}
	}

	base := scraper.BaseURL()
	items := channelplus.AudioItems(base, episodes)
	materials := channelplus.MaterialItems(base, episodes)
	if len(materials) == 0 {
		log.Printf("no course materials found")
	} else {
		log.Printf("found %d course materials", len(materials))
	}
	items = append(items, materials...)

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.RetryAttempts - 1

	downloader := channelplus.NewDownloader(client, channelplus.NewWriter(outputDir), channelplus.DownloaderConfig{
		Workers:         cfg.Concurrent,
		MaterialWorkers: cfg.MaterialConcurrent,
		ItemTimeout:     cfg.Timeout,
		Retry:           retryCfg,
		DryRun:          cfg.DryRun,
		Verbose:         cfg.Verbose,
		Progress:        progressLogger(cfg.Verbose),
	})

	summary, err := downloader.Download(ctx, items)
	if err != nil {
		return &exitError{code: exitTotal, err: err}
	}

	summary.Report(os.Stdout, cfg.Verbose)

	if cfg.DryRun {
		return nil
	}

	switch {
	case summary.OK():
		return nil
	case summary.Succeeded == 0:
		return &exitError{code: exitTotal, err: fmt.Errorf("all %d downloads failed", len(items))}
	default:
		return &exitError{code: exitPartial, err: fmt.Errorf("%d of %d downloads failed", summary.Failed+summary.Skipped, len(items))}
	}
}

// newClient builds the shared HTTP client. Every request carries a browser
// user agent, and requests to the Channel Plus host carry a same-site
// referer so the audio endpoint serves files.
func newClient(cfg *config.Config) *chttp.Client {
	httpCfg := chttp.DefaultConfig()
	httpCfg.Timeout = cfg.Timeout
	httpCfg.Referer = channelplus.DefaultBaseURL + "/"
	httpCfg.RefererHost = ""
	httpCfg.Pacer.Delay = cfg.Delay
	httpCfg.Retry.MaxRetries = cfg.RetryAttempts - 1
	return chttp.New(httpCfg)
}

func validateCourse(ctx context.Context, scraper *channelplus.Scraper, link string) error {
	info, err := scraper.CourseInfo(ctx, link)
	if err != nil {
		return &exitError{code: exitResolution, err: fmt.Errorf("validate course: %w", err)}
	}

	fmt.Printf("course %d is valid: %d episodes on first page, highest episode %d\n",
		info.CourseID, info.EpisodesFound, info.MaxEpisode)
	if info.Sample != nil {
		fmt.Printf("sample episode: %d %s (%s)\n", info.Sample.Part, info.Sample.Name, info.Sample.ReleaseDate)
	}
	return nil
}

// progressLogger returns a progress callback that logs retries; started and
// finished transitions are already logged by the downloader when verbose.
func progressLogger(verbose bool) channelplus.ProgressFunc {
	if !verbose {
		return nil
	}
	return func(ev channelplus.ProgressEvent) {
		if ev.Stage == channelplus.StageRetrying {
			log.Printf("retrying %s (attempt %d)", ev.Item.FileName, ev.Attempt)
		}
	}
}
