package models

import "time"

// Entry is a unit of work handed out by the frontier
type Entry struct {
	URL      string            // Normalized URL (never carries a fragment)
	Priority int               // Weight from the first matching priority rule (higher first)
	Metadata map[string]string // Caller-supplied context, e.g. "referrer"
	Seq      uint64            // Insertion order, breaks priority ties FIFO

	sentinel bool
}

// SentinelEntry returns the stop marker injected into the frontier during shutdown.
// A worker that receives it must MarkDone and exit.
func SentinelEntry() Entry {
	return Entry{sentinel: true}
}

// IsSentinel reports whether the entry is a shutdown marker rather than a URL
func (e Entry) IsSentinel() bool {
	return e.sentinel
}

// Referrer returns the page the URL was discovered on, or "" for seeds
func (e Entry) Referrer() string {
	if e.Metadata == nil {
		return ""
	}
	return e.Metadata[MetadataReferrer]
}

// MetadataReferrer is the metadata key carrying the discovering page URL
const MetadataReferrer = "referrer"

// Record is the structured result of crawling one page
type Record struct {
	RunID     string              `json:"run_id,omitempty"`
	URL       string              `json:"url"`
	CrawledAt time.Time           `json:"crawled_at"`
	Fields    map[string][]string `json:"fields"`

	// FieldOrder lists field names in configuration order; savers that emit
	// ordered output (text) iterate this instead of the map.
	FieldOrder []string `json:"-"`
}

// NewRecord builds a record with one entry per field in order, defaulting
// missing fields to an empty (non-nil) list.
func NewRecord(runID, url string, order []string, values map[string][]string) *Record {
	fields := make(map[string][]string, len(order))
	for _, name := range order {
		v := values[name]
		if v == nil {
			v = []string{}
		}
		fields[name] = v
	}
	return &Record{
		RunID:      runID,
		URL:        url,
		CrawledAt:  time.Now().UTC(),
		Fields:     fields,
		FieldOrder: append([]string(nil), order...),
	}
}
