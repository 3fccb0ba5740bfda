package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/config"
	"rule-crawler/pkg/crawler"
	"rule-crawler/pkg/extract"
	"rule-crawler/pkg/fetch"
	applog "rule-crawler/pkg/log"
	"rule-crawler/pkg/process"
	"rule-crawler/pkg/storage"
	"rule-crawler/pkg/utils"
)

// Globals are flags shared by every command
type Globals struct {
	Config   string `short:"c" default:"config.yaml" help:"Path to YAML config file."`
	LogLevel string `name:"log-level" help:"Log level (trace, debug, info, warn, error); overrides log_level."`
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Crawl    CrawlCmd    `cmd:"" help:"Crawl from the configured start URLs"`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file"`
	Export   ExportCmd   `cmd:"" help:"Dump a badger record database as JSON lines"`
	Version  VersionCmd  `cmd:"" help:"Show version info"`
}

// CrawlCmd is the "crawl" subcommand.
type CrawlCmd struct {
	MetricsAddr string `name:"metrics-addr" help:"Serve Prometheus metrics on this address, e.g. :9090 (disabled by default)."`
	Pprof       string `help:"pprof address, e.g. localhost:6060 (disabled by default)."`
}

// Run executes a full crawl and blocks until it terminates
func (c *CrawlCmd) Run(g *Globals, deps *Dependencies) error {
	cfg, warnings, err := loadConfig(g.Config)
	if err != nil {
		return err
	}

	level := cfg.LogLevel
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	logger, closeLog, err := applog.Setup(level, cfg.LogFile, deps.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()
	for _, w := range warnings {
		logger.Warn(w)
	}
	logAppConfig(cfg, logger)

	startPprof(c.Pprof, logger)

	// --- Global Context & Signal Handling ---
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc
	if cfg.GlobalCrawlTimeout > 0 {
		logger.Infof("Setting global crawl timeout: %v", cfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(deps.Ctx, cfg.GlobalCrawlTimeout)
	} else {
		crawlCtx, cancelCrawl = context.WithCancel(deps.Ctx)
	}
	defer cancelCrawl()
	stopSignals := handleSignals(cancelCrawl, logger)
	defer stopSignals()

	// --- Components ---
	logEntry := logger.WithField("component", "crawl")

	httpClient := fetch.NewClient(cfg.HTTPClientSettings, logEntry)
	fetcher := fetch.NewHTTPFetcher(httpClient, cfg.UserAgent, cfg.MaxPageSizeBytes, logEntry.WithField("component", "fetch"))
	defer fetcher.Close()

	extractor, err := extract.New(cfg.DataExtraction, logEntry.WithField("component", "extract"))
	if err != nil {
		return err
	}

	excludePatterns, err := utils.CompileRegexPatterns(cfg.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("exclude_patterns: %w", err)
	}
	links, err := process.NewLinkProcessor(cfg.LinkSelector, cfg.AllowedDomains, excludePatterns, logEntry.WithField("component", "links"))
	if err != nil {
		return err
	}

	saver, err := storage.NewSaver(cfg.Save, logEntry.WithField("component", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := saver.Close(); closeErr != nil {
			logger.Errorf("Failed to close saver: %v", closeErr)
		}
	}()
	if db, ok := saver.(*storage.BadgerSaver); ok {
		go db.RunGC(crawlCtx, 10*time.Minute)
	}

	metrics := crawler.NewMetrics()
	if c.MetricsAddr != "" {
		stopMetrics := startMetricsServer(c.MetricsAddr, metrics, logger)
		defer stopMetrics()
	}

	crawlerInstance, err := crawler.NewCrawler(cfg, fetcher, extractor, links, saver, metrics, logEntry)
	if err != nil {
		return err
	}

	// --- Run ---
	summary, err := crawlerInstance.Run(crawlCtx)
	fmt.Fprintf(deps.Stdout, "run %s: %d saved, %d fetch failures, %d save errors, %d skipped, %d panics in %v\n",
		summary.RunID, summary.Succeeded, summary.Failed, summary.SaveErrors, summary.Skipped, summary.Panics,
		summary.Duration.Round(time.Millisecond))

	switch {
	case err == nil:
		logger.Info("Crawl completed successfully.")
		return nil
	case errors.Is(err, context.Canceled):
		logger.Warn("Crawl cancelled gracefully.")
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("crawl timed out (global timeout %v)", cfg.GlobalCrawlTimeout)
	default:
		return fmt.Errorf("crawl finished with error: %w", err)
	}
}

// ValidateCmd is the "validate" subcommand.
type ValidateCmd struct{}

// Run checks the configuration without crawling
func (c *ValidateCmd) Run(g *Globals, deps *Dependencies) error {
	return doValidate(g.Config, deps.Stdout, deps.Stderr)
}

// doValidate loads the config, applies defaults and compiles every rule and
// selector, reporting the outcome on stdout/stderr.
func doValidate(configPath string, stdout, stderr io.Writer) error {
	cfg, warnings, err := loadConfig(configPath)
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return err
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	quietLog := logrus.NewEntry(quiet)

	extractor, err := extract.New(cfg.DataExtraction, quietLog)
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return err
	}
	if _, err := process.NewLinkProcessor(cfg.LinkSelector, cfg.AllowedDomains, nil, quietLog); err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return err
	}

	fmt.Fprintf(stdout, "OK: %d start URL(s), %d worker(s), save_as %s into %s\n",
		len(cfg.StartURLs), cfg.NumWorkers, cfg.Save.SaveAs, cfg.Save.SaveDir)
	for _, rule := range extractor.Rules() {
		fmt.Fprintf(stdout, "  field %-20s %s\n", rule.Field, rule.String())
	}
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return nil
}

// ExportCmd is the "export" subcommand.
type ExportCmd struct {
	Out string `short:"o" default:"-" help:"Output file, '-' for stdout."`
}

// Run writes every record of the configured badger database as JSON lines
func (c *ExportCmd) Run(g *Globals, deps *Dependencies) error {
	cfg, _, err := loadConfig(g.Config)
	if err != nil {
		return err
	}
	if cfg.Save.SaveAs != config.SaveFormatBadger {
		return fmt.Errorf("export needs save_as %q, config has %q", config.SaveFormatBadger, cfg.Save.SaveAs)
	}

	level := cfg.LogLevel
	if g.LogLevel != "" {
		level = g.LogLevel
	}
	logger, closeLog, err := applog.Setup(level, cfg.LogFile, deps.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := storage.OpenBadgerForExport(cfg.Save.SaveDir, cfg.Save.FilePrefix, logger.WithField("component", "export"))
	if err != nil {
		return err
	}
	defer db.Close()

	out := deps.Stdout
	if c.Out != "-" {
		f, err := os.Create(c.Out)
		if err != nil {
			return fmt.Errorf("creating %s: %w", c.Out, err)
		}
		defer f.Close()
		out = f
	}

	n, err := db.ExportJSONL(deps.Ctx, out)
	if err != nil {
		return err
	}
	fmt.Fprintf(deps.Stderr, "Exported %d records.\n", n)
	return nil
}

// VersionCmd is the "version" subcommand.
type VersionCmd struct{}

func (c *VersionCmd) Run(deps *Dependencies) error {
	fmt.Fprintf(deps.Stdout, "rule-crawler %s\n", version)
	return nil
}

// loadConfig loads the file and applies defaults. Warnings are returned even
// when validation fails.
func loadConfig(path string) (*config.AppConfig, []string, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// handleSignals cancels the crawl on the first SIGINT/SIGTERM and forces an
// exit on the second one or when the graceful period runs out.
func handleSignals(cancel context.CancelFunc, log *logrus.Logger) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		var sig os.Signal
		select {
		case sig = <-sigChan:
		case <-done:
			return
		}
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancel()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		case <-done:
		}
	}()

	return func() {
		signal.Stop(sigChan)
		close(done)
	}
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr == "" {
		return
	}
	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)
	go func() {
		log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Errorf("pprof server error: %v", err)
		}
	}()
}

// startMetricsServer serves /metrics until the returned stop func is called
func startMetricsServer(addr string, metrics *crawler.Metrics, log *logrus.Logger) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server error: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// logAppConfig logs the effective configuration
func logAppConfig(cfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Config: StartURLs:%d, AllowedDomains:%v, Fields:%v",
		len(cfg.StartURLs), cfg.AllowedDomains, cfg.DataExtraction.Fields())
	log.Infof("Config Concurrency: Workers:%d, MaxConcurrentFetches:%d",
		cfg.NumWorkers, cfg.EffectiveMaxConcurrentFetches())
	log.Infof("Config Timeouts: Fetch:%v, SemaphoreAcquire:%v, GlobalCrawl:%v",
		cfg.FetchTimeout, cfg.SemaphoreAcquireTimeout, cfg.GlobalCrawlTimeout)
	log.Infof("Config Save: As:%s, Dir:%s, Prefix:%s",
		cfg.Save.SaveAs, cfg.Save.SaveDir, cfg.Save.FilePrefix)
	log.Infof("Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		cfg.HTTPClientSettings.Timeout, cfg.HTTPClientSettings.MaxIdleConns, cfg.HTTPClientSettings.MaxIdleConnsPerHost,
		cfg.HTTPClientSettings.IdleConnTimeout, cfg.HTTPClientSettings.TLSHandshakeTimeout, cfg.HTTPClientSettings.DialerTimeout)
}
