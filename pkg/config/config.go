package config

import "time"

// Save formats understood by storage.NewSaver
const (
	SaveFormatJSON   = "json"
	SaveFormatText   = "text"
	SaveFormatBadger = "badger"
)

// DefaultUserAgent is sent with every request unless user_agent overrides it
const DefaultUserAgent = "Mozilla/5.0 (compatible; rule-crawler/1.0)"

// AppConfig holds the whole crawl configuration
type AppConfig struct {
	StartURLs               []string         `yaml:"start_urls"`
	AllowedDomains          []string         `yaml:"allowed_domains,omitempty"`       // Link discovery allow-list; empty allows any host
	ExcludePatterns         []string         `yaml:"exclude_patterns,omitempty"`      // Regexes; matching links are not discovered
	URLDisallowPatterns     []string         `yaml:"url_disallow_patterns,omitempty"` // Regexes; matching URLs count as already seen
	LinkSelector            string           `yaml:"link_selector,omitempty"`
	PriorityRules           []PriorityRule   `yaml:"priority_rules,omitempty"`
	DataExtraction          ExtractionRules  `yaml:"data_extraction"`
	NumWorkers              int              `yaml:"num_workers"`
	MaxConcurrentFetches    int              `yaml:"max_concurrent_fetches,omitempty"` // 0 = num_workers
	FetchTimeout            time.Duration    `yaml:"fetch_timeout,omitempty"`
	SemaphoreAcquireTimeout time.Duration    `yaml:"semaphore_acquire_timeout,omitempty"` // 0 = wait indefinitely
	GlobalCrawlTimeout      time.Duration    `yaml:"global_crawl_timeout,omitempty"`
	MaxPageSizeBytes        int64            `yaml:"max_page_size_bytes,omitempty"`
	UserAgent               string           `yaml:"user_agent,omitempty"`
	ProgressInterval        time.Duration    `yaml:"progress_interval,omitempty"`
	LogLevel                string           `yaml:"log_level,omitempty"`
	LogFile                 string           `yaml:"log_file,omitempty"`
	HTTPClientSettings      HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Save                    SaveConfig       `yaml:"save"`
}

// PriorityRule assigns Priority to URLs matching Pattern; first match wins
type PriorityRule struct {
	Pattern  string `yaml:"pattern"`
	Priority int    `yaml:"priority"`
}

// SaveConfig selects and parameterizes the record saver
type SaveConfig struct {
	SaveDir    string `yaml:"save_dir,omitempty"`
	SaveAs     string `yaml:"save_as,omitempty"` // json | text | badger
	FilePrefix string `yaml:"file_prefix,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// EffectiveMaxConcurrentFetches returns the fetch gate size
func (c *AppConfig) EffectiveMaxConcurrentFetches() int {
	if c.MaxConcurrentFetches > 0 {
		return c.MaxConcurrentFetches
	}
	return c.NumWorkers
}
