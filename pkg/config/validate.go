package config

import (
	"fmt"
	"strings"
	"time"

	"rule-crawler/pkg/parse"
	"rule-crawler/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// Required: StartURLs
	if len(c.StartURLs) == 0 {
		return nil, fmt.Errorf("%w: no start_urls configured", utils.ErrConfigValidation)
	}
	for i, raw := range c.StartURLs {
		if _, perr := parse.ParseAbsolute(raw); perr != nil {
			return nil, fmt.Errorf("%w: start_urls #%d: %v", utils.ErrConfigValidation, i+1, perr)
		}
	}

	// Patterns are compiled again by their consumers; this only surfaces mistakes early
	for key, patterns := range map[string][]string{
		"exclude_patterns":      c.ExcludePatterns,
		"url_disallow_patterns": c.URLDisallowPatterns,
	} {
		if _, perr := utils.CompileRegexPatterns(patterns); perr != nil {
			return nil, fmt.Errorf("%s: %w", key, perr)
		}
	}
	for i, rule := range c.PriorityRules {
		if rule.Pattern == "" {
			return nil, fmt.Errorf("%w: priority_rules #%d has an empty pattern", utils.ErrConfigValidation, i+1)
		}
		if _, perr := utils.CompileRegexPatterns([]string{rule.Pattern}); perr != nil {
			return nil, fmt.Errorf("priority_rules #%d: %w", i+1, perr)
		}
	}

	// DataExtraction
	if len(c.DataExtraction) == 0 {
		warnings = append(warnings, "data_extraction is empty, records will only carry the page URL")
	}
	for _, rule := range c.DataExtraction {
		if strings.TrimSpace(rule.Field) == "" {
			return nil, fmt.Errorf("%w: data_extraction has an empty field name", utils.ErrConfigValidation)
		}
		if strings.TrimSpace(rule.Expression) == "" {
			return nil, fmt.Errorf("%w: data_extraction field %q has an empty expression", utils.ErrConfigValidation, rule.Field)
		}
	}

	// LinkSelector
	if c.LinkSelector == "" {
		c.LinkSelector = "a[href]"
	}

	// NumWorkers
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 10")
		c.NumWorkers = 10
	}

	// MaxConcurrentFetches
	if c.MaxConcurrentFetches < 0 {
		warnings = append(warnings, "max_concurrent_fetches cannot be negative, defaulting to num_workers")
		c.MaxConcurrentFetches = 0
	}

	// FetchTimeout
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 5 * time.Second
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout < 0 {
		warnings = append(warnings, "semaphore_acquire_timeout cannot be negative, waiting indefinitely")
		c.SemaphoreAcquireTimeout = 0
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// MaxPageSizeBytes
	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 10 * 1024 * 1024
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	// HTTPClientSettings defaults
	c.validateHTTPClientSettings()

	saveWarnings, err := c.Save.Validate()
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, saveWarnings...)

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 45 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SaveConfig fields and applies defaults.
// An unknown save_as is fatal so it surfaces before any page is fetched.
func (c *SaveConfig) Validate() (warnings []string, err error) {
	if c.SaveDir == "" {
		c.SaveDir = "data"
	}
	if c.FilePrefix == "" {
		c.FilePrefix = "result"
	} else if sanitized := utils.SanitizeFilename(c.FilePrefix); sanitized != c.FilePrefix {
		warnings = append(warnings, fmt.Sprintf("file_prefix %q sanitized to %q", c.FilePrefix, sanitized))
		c.FilePrefix = sanitized
	}

	c.SaveAs = strings.ToLower(strings.TrimSpace(c.SaveAs))
	switch c.SaveAs {
	case "":
		c.SaveAs = SaveFormatJSON
	case SaveFormatJSON, SaveFormatText, SaveFormatBadger:
	default:
		return nil, fmt.Errorf("%w: %w: save_as %q (want json, text or badger)",
			utils.ErrConfigValidation, utils.ErrUnsupportedFormat, c.SaveAs)
	}
	return warnings, nil
}
