package channelplus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	chttp "chplus/http"
	"chplus/retry"
)

// DownloaderConfig holds the knobs for one download run.
type DownloaderConfig struct {
	// Workers is the number of concurrent download workers.
	Workers int

	// MaterialWorkers caps how many workers may fetch course materials at
	// the same time. Material fetches hit a slower endpoint and get their
	// own sub-limit.
	MaterialWorkers int

	// ItemTimeout bounds each fetch attempt for a single item.
	ItemTimeout time.Duration

	// Retry is the per-item retry policy.
	Retry retry.Config

	// Progress receives per-item transitions. May be nil.
	Progress ProgressFunc

	// DryRun resolves and reports items without fetching or writing.
	DryRun bool

	// Verbose enables per-item logging.
	Verbose bool
}

// DefaultDownloaderConfig returns the defaults used by the CLI.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		Workers:         3,
		MaterialWorkers: 3,
		ItemTimeout:     300 * time.Second,
		Retry:           retry.DefaultConfig(),
	}
}

// Downloader fetches download items through a fixed worker pool and writes
// them via the Writer. Items fail independently; one bad item never stops
// its siblings.
type Downloader struct {
	client *chttp.Client
	writer *Writer
	config DownloaderConfig
}

// NewDownloader creates a downloader over the given client and writer.
func NewDownloader(client *chttp.Client, writer *Writer, cfg DownloaderConfig) *Downloader {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaterialWorkers < 1 {
		cfg.MaterialWorkers = 1
	}
	return &Downloader{
		client: client,
		writer: writer,
		config: cfg,
	}
}

// Summary aggregates the outcome of one download run.
type Summary struct {
	// RunID uniquely identifies the run in logs and reports.
	RunID string

	Succeeded int
	Failed    int
	Skipped   int

	// Bytes is the total size written across successful items.
	Bytes int64

	Duration time.Duration

	// Results holds one entry per input item, in input order.
	Results []DownloadResult
}

// OK reports whether every item succeeded.
func (s *Summary) OK() bool {
	return s.Failed == 0 && s.Skipped == 0
}

// Report writes a human-readable run summary. With verbose set, every
// failed item is listed with its error.
func (s *Summary) Report(w io.Writer, verbose bool) {
	fmt.Fprintf(w, "run %s: %d succeeded, %d failed, %d skipped (%s, %d bytes)\n",
		s.RunID, s.Succeeded, s.Failed, s.Skipped, s.Duration.Round(time.Millisecond), s.Bytes)

	if !verbose {
		return
	}
	for _, res := range s.Results {
		if res.Outcome != OutcomeFailed {
			continue
		}
		fmt.Fprintf(w, "  failed: %s (episode %d, %d attempts): %v\n",
			res.Item.FileName, res.Item.Episode, res.Attempts, res.Err)
	}
}

// Download fetches all items and returns one result per item in input
// order. The run itself only fails for setup errors; per-item failures are
// recorded in the summary.
func (d *Downloader) Download(ctx context.Context, items []DownloadItem) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:   uuid.New().String(),
		Results: make([]DownloadResult, len(items)),
	}

	if d.config.DryRun {
		for i, item := range items {
			summary.Results[i] = DownloadResult{Item: item, Outcome: OutcomeSkipped}
			summary.Skipped++
			if d.config.Verbose {
				log.Printf("chplus: dry run, would download %s -> %s",
					item.URL, d.writer.PathFor(item))
			}
		}
		summary.Duration = time.Since(start)
		return summary, nil
	}

	if err := d.writer.EnsureDirs(); err != nil {
		return nil, err
	}

	// Each worker writes only its own result slots, so the pre-sized
	// results slice needs no locking.
	jobs := make(chan int)
	materialSlots := make(chan struct{}, d.config.MaterialWorkers)

	var wg sync.WaitGroup
	for w := 0; w < d.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				item := items[idx]

				// A canceled run marks the rest as skipped, not failed
				if ctx.Err() != nil {
					summary.Results[idx] = DownloadResult{Item: item, Outcome: OutcomeSkipped}
					continue
				}

				if item.Kind == KindMaterial {
					materialSlots <- struct{}{}
					summary.Results[idx] = d.downloadOne(ctx, item)
					<-materialSlots
				} else {
					summary.Results[idx] = d.downloadOne(ctx, item)
				}
			}
		}()
	}

	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for _, res := range summary.Results {
		switch res.Outcome {
		case OutcomeSuccess:
			summary.Succeeded++
			summary.Bytes += res.Bytes
		case OutcomeFailed:
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}
	summary.Duration = time.Since(start)

	return summary, nil
}

// downloadOne fetches and writes a single item, driving the retry policy
// itself so the attempt count ends up in the result.
func (d *Downloader) downloadOne(ctx context.Context, item DownloadItem) DownloadResult {
	result := DownloadResult{Item: item}

	d.emit(ProgressEvent{Item: item, Stage: StageStarted, Attempt: 1})
	if d.config.Verbose {
		log.Printf("chplus: downloading %s (episode %d)", item.FileName, item.Episode)
	}

	var body []byte
	err := retry.Do(ctx, d.config.Retry, d.itemClassifier(ctx), func(attemptCtx context.Context) error {
		result.Attempts++
		if result.Attempts > 1 {
			d.emit(ProgressEvent{Item: item, Stage: StageRetrying, Attempt: result.Attempts})
		}

		fetchCtx := attemptCtx
		if d.config.ItemTimeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(attemptCtx, d.config.ItemTimeout)
			defer cancel()
		}

		resp, err := d.client.GetOnce(fetchCtx, item.URL)
		if err != nil {
			return err
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = &DownloadError{Item: item, Kind: classifyFetchError(err), Err: err}
		d.emit(ProgressEvent{Item: item, Stage: StageFailed, Attempt: result.Attempts, Err: result.Err})
		if d.config.Verbose {
			log.Printf("chplus: failed %s after %d attempts: %v", item.FileName, result.Attempts, err)
		}
		return result
	}

	n, err := d.writer.Write(item, body)
	if err != nil {
		result.Outcome = OutcomeFailed
		result.Err = &DownloadError{Item: item, Kind: IOError, Err: err}
		d.emit(ProgressEvent{Item: item, Stage: StageFailed, Attempt: result.Attempts, Err: result.Err})
		return result
	}

	result.Outcome = OutcomeSuccess
	result.Bytes = n
	d.emit(ProgressEvent{Item: item, Stage: StageSucceeded, Attempt: result.Attempts})
	if d.config.Verbose {
		log.Printf("chplus: wrote %s (%d bytes, %d attempts)", item.FileName, n, result.Attempts)
	}

	return result
}

// itemClassifier decides which per-item fetch errors deserve a retry.
// An attempt timeout is transient; cancellation of the run context is
// terminal. Status-based classification follows the error taxonomy: 429
// and 5xx retry, 404 and other 4xx do not.
func (d *Downloader) itemClassifier(runCtx context.Context) retry.ErrorClassifier {
	return func(err error) bool {
		if runCtx.Err() != nil {
			return false
		}

		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		if errors.Is(err, context.Canceled) {
			return false
		}
		if errors.Is(err, chttp.ErrCircuitOpen) {
			return false
		}

		switch classifyFetchError(err) {
		case RateLimited, ServerError, TransportFailure:
			return true
		default:
			return false
		}
	}
}

func (d *Downloader) emit(ev ProgressEvent) {
	if d.config.Progress != nil {
		d.config.Progress(ev)
	}
}
