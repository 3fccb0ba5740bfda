package crawler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"rule-crawler/pkg/config"
	"rule-crawler/pkg/fetch"
	"rule-crawler/pkg/frontier"
	"rule-crawler/pkg/models"
	"rule-crawler/pkg/process"
	"rule-crawler/pkg/storage"
	"rule-crawler/pkg/utils"
)

// FieldExtractor turns a fetched page into field values.
// Implemented by extract.Extractor.
type FieldExtractor interface {
	Fields() []string
	Extract(page, url string) map[string][]string
}

// Crawler runs one crawl: it seeds the frontier, drains it with a fixed pool
// of workers and stops them once no work remains.
type Crawler struct {
	cfg *config.AppConfig
	log *logrus.Entry

	frontier  *frontier.Frontier
	fetcher   fetch.PageFetcher
	extractor FieldExtractor
	links     process.LinkDiscoverer
	saver     storage.Saver
	metrics   *Metrics

	fetchGate *semaphore.Weighted // Bounds concurrent fetches independently of the worker count

	runID string

	// Outcome counters, one per models.PageStatus
	succeeded  atomic.Int64
	failed     atomic.Int64
	saveErrors atomic.Int64
	skipped    atomic.Int64
	panics     atomic.Int64
}

// Summary reports the outcome of a finished Run
type Summary struct {
	RunID      string
	Seeded     int
	Seen       int
	Succeeded  int64
	Failed     int64
	SaveErrors int64
	Skipped    int64
	Panics     int64
	Duration   time.Duration
}

// Processed is the number of entries taken from the frontier
func (s Summary) Processed() int64 {
	return s.Succeeded + s.Failed + s.SaveErrors + s.Skipped + s.Panics
}

// NewCrawler wires the collaborators around a fresh frontier. cfg must have
// been validated. A nil metrics gets a private, unexported set.
func NewCrawler(
	cfg *config.AppConfig,
	fetcher fetch.PageFetcher,
	extractor FieldExtractor,
	links process.LinkDiscoverer,
	saver storage.Saver,
	metrics *Metrics,
	baseLogger *logrus.Entry,
) (*Crawler, error) {
	if cfg.NumWorkers < 1 {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "num_workers must be at least 1, got %d", cfg.NumWorkers)
	}

	rules, err := frontier.CompilePriorityRules(cfg.PriorityRules)
	if err != nil {
		return nil, err
	}
	blocked, err := utils.CompileRegexPatterns(cfg.URLDisallowPatterns)
	if err != nil {
		return nil, fmt.Errorf("compiling url_disallow_patterns: %w", err)
	}
	if metrics == nil {
		metrics = NewMetrics()
	}

	runID := uuid.NewString()
	logger := baseLogger.WithField("run_id", runID)
	if len(blocked) > 0 {
		logger.Infof("Compiled %d URL disallow patterns.", len(blocked))
	}

	return &Crawler{
		cfg:       cfg,
		log:       logger,
		frontier:  frontier.New(rules, blocked, logger.WithField("component", "frontier")),
		fetcher:   fetcher,
		extractor: extractor,
		links:     links,
		saver:     saver,
		metrics:   metrics,
		fetchGate: semaphore.NewWeighted(int64(cfg.EffectiveMaxConcurrentFetches())),
		runID:     runID,
	}, nil
}

// RunID identifies this crawl in logs and saved records
func (c *Crawler) RunID() string {
	return c.runID
}

// Frontier exposes the work queue, e.g. for progress reporting
func (c *Crawler) Frontier() *frontier.Frontier {
	return c.frontier
}

// Run crawls until every reachable URL has been handled, then stops the
// workers and returns a summary. Cancelling ctx makes the workers drain the
// remaining entries without processing them; Run still terminates normally
// and returns ctx.Err().
func (c *Crawler) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	numWorkers := c.cfg.NumWorkers
	c.log.WithFields(logrus.Fields{
		"workers":       numWorkers,
		"fetch_permits": c.cfg.EffectiveMaxConcurrentFetches(),
		"fields":        len(c.extractor.Fields()),
	}).Info("Crawl starting")

	// --- Seed Frontier ---
	seeded := 0
	for i, startURL := range c.cfg.StartURLs {
		if c.frontier.Add(startURL, nil) {
			seeded++
			continue
		}
		c.log.WithFields(logrus.Fields{"index": i, "url": startURL}).Warn("Start URL is a duplicate or disallowed. Skipping.")
	}
	c.log.Infof("Seeded %d of %d start URLs.", seeded, len(c.cfg.StartURLs))

	// --- Start Workers ---
	var g errgroup.Group
	for i := 1; i <= numWorkers; i++ {
		workerLog := c.log.WithField("worker_id", i)
		g.Go(func() error {
			c.worker(ctx, workerLog)
			return nil
		})
	}

	progressDone := make(chan struct{})
	progressStopped := make(chan struct{})
	go c.reportProgress(progressDone, progressStopped)

	// --- Termination: drain, then release every worker with one sentinel each ---
	c.frontier.Join()
	c.log.Debug("Frontier drained, stopping workers")
	c.frontier.Shutdown(numWorkers)
	_ = g.Wait() // Workers never return errors; failures are per URL

	close(progressDone)
	<-progressStopped
	c.observeFrontier()

	summary := Summary{
		RunID:      c.runID,
		Seeded:     seeded,
		Seen:       c.frontier.SeenCount(),
		Succeeded:  c.succeeded.Load(),
		Failed:     c.failed.Load(),
		SaveErrors: c.saveErrors.Load(),
		Skipped:    c.skipped.Load(),
		Panics:     c.panics.Load(),
		Duration:   time.Since(start),
	}
	c.logSummary(summary)

	return summary, ctx.Err()
}

// worker takes entries until it receives a sentinel. Every entry is marked
// done exactly once, whatever happened while processing it.
func (c *Crawler) worker(ctx context.Context, workerLog *logrus.Entry) {
	workerLog.Debug("Worker starting")
	defer workerLog.Debug("Worker finished")

	for {
		entry := c.frontier.Get()
		if entry.IsSentinel() {
			c.frontier.MarkDone()
			return
		}
		func() {
			defer c.frontier.MarkDone()
			c.processEntry(ctx, entry, workerLog)
		}()
	}
}

// processEntry runs one URL through fetch, extract, save and discover.
// It never panics and never returns an error; the outcome is logged and counted.
func (c *Crawler) processEntry(ctx context.Context, entry models.Entry, workerLog *logrus.Entry) (status models.PageStatus) {
	taskLog := workerLog.WithField("url", entry.URL)
	if ref := entry.Referrer(); ref != "" {
		taskLog = taskLog.WithField("referrer", ref)
	}
	startTime := time.Now()

	defer func() {
		if r := recover(); r != nil {
			status = models.PageStatusPanic
			taskLog.WithFields(logrus.Fields{
				"panic_info":  r,
				"duration":    time.Since(startTime).String(),
				"stack_trace": string(debug.Stack()),
			}).Error("PANIC recovered while processing URL")
		}
		c.countOutcome(status)
		if status == models.PageStatusSuccess {
			taskLog.WithField("duration", time.Since(startTime).String()).Debug("URL processed")
		}
	}()

	if ctx.Err() != nil {
		return models.PageStatusSkipped
	}

	// 1. Fetch
	page, err := c.fetchPage(ctx, entry.URL)
	if err != nil {
		category := utils.CategorizeError(err)
		c.metrics.observeFetchError(category)
		taskLog.WithField("category", category).Warnf("Fetch failed: %v", err)
		return models.PageStatusFailure
	}

	// 2. Extract
	values := c.extractor.Extract(page, entry.URL)
	record := models.NewRecord(c.runID, entry.URL, c.extractor.Fields(), values)

	// 3. Save; a failure here does not stop discovery
	status = models.PageStatusSuccess
	if err := c.saver.Save(ctx, record); err != nil {
		category := utils.CategorizeError(err)
		c.metrics.observeSaveError(category)
		taskLog.WithField("category", category).Errorf("Save failed: %v", err)
		status = models.PageStatusSaveError
	}

	// 4. Discover
	if ctx.Err() != nil {
		return status
	}
	links, err := c.links.Discover(page, entry.URL)
	if err != nil {
		taskLog.WithField("category", utils.CategorizeError(err)).Warnf("Link discovery failed: %v", err)
		return status
	}
	enqueued := 0
	for _, link := range links {
		if c.frontier.Add(link, map[string]string{models.MetadataReferrer: entry.URL}) {
			enqueued++
		}
	}
	c.metrics.observeLinks(len(links), enqueued)
	taskLog.WithFields(logrus.Fields{"links_found": len(links), "links_enqueued": enqueued}).Debug("Links discovered")

	return status
}

// fetchPage holds one fetch gate permit for the duration of the fetch.
// The permit wait is bounded by semaphore_acquire_timeout and the fetch
// itself by fetch_timeout.
func (c *Crawler) fetchPage(ctx context.Context, url string) (string, error) {
	start := time.Now()
	defer func() { c.metrics.fetchDuration.Observe(time.Since(start).Seconds()) }()

	acquireCtx := ctx
	if c.cfg.SemaphoreAcquireTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, c.cfg.SemaphoreAcquireTimeout)
		defer cancel()
	}
	if err := c.fetchGate.Acquire(acquireCtx, 1); err != nil {
		return "", fmt.Errorf("%w: %w: acquire fetch permit: %w", utils.ErrFetch, utils.ErrSemaphoreTimeout, err)
	}
	defer c.fetchGate.Release(1)

	c.metrics.fetchesInFlight.Inc()
	defer c.metrics.fetchesInFlight.Dec()

	fetchCtx := ctx
	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	return c.fetcher.Fetch(fetchCtx, url)
}

func (c *Crawler) countOutcome(status models.PageStatus) {
	switch status {
	case models.PageStatusSuccess:
		c.succeeded.Add(1)
	case models.PageStatusFailure:
		c.failed.Add(1)
	case models.PageStatusSaveError:
		c.saveErrors.Add(1)
	case models.PageStatusSkipped:
		c.skipped.Add(1)
	case models.PageStatusPanic:
		c.panics.Add(1)
	}
	if status.IsValid() {
		c.metrics.observePage(status)
	}
}

// reportProgress logs and publishes frontier state every progress_interval
// until done is closed
func (c *Crawler) reportProgress(done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	interval := c.cfg.ProgressInterval
	if interval <= 0 {
		<-done
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.observeFrontier()
			c.log.WithFields(logrus.Fields{
				"queue_len":   c.frontier.Len(),
				"outstanding": c.frontier.Outstanding(),
				"seen":        c.frontier.SeenCount(),
				"succeeded":   c.succeeded.Load(),
				"failed":      c.failed.Load(),
			}).Info("Crawl Progress")
		}
	}
}

func (c *Crawler) observeFrontier() {
	c.metrics.observeFrontier(c.frontier.Len(), c.frontier.Outstanding(), c.frontier.SeenCount())
}

func (c *Crawler) logSummary(s Summary) {
	summaryLog := c.log.WithField("save_as", c.cfg.Save.SaveAs)
	summaryLog.Info("========================================================================")
	summaryLog.Info("CRAWL FINISHED")
	summaryLog.Infof("Duration:         %v", s.Duration)
	summaryLog.Infof("Final Stats: Seen: %d, Processed: %d, Saved: %d, Fetch Failures: %d, Save Errors: %d, Skipped: %d, Panics: %d",
		s.Seen, s.Processed(), s.Succeeded, s.Failed, s.SaveErrors, s.Skipped, s.Panics)
	summaryLog.Info("========================================================================")
}
