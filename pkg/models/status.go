package models

// PageStatus is the outcome of running one URL through the pipeline
type PageStatus string

const (
	PageStatusUnset     PageStatus = ""           // Zero value = unset/unknown
	PageStatusSuccess   PageStatus = "success"    // Fetched, extracted and saved
	PageStatusFailure   PageStatus = "failure"    // Fetch failed; no record, no children
	PageStatusSaveError PageStatus = "save_error" // Fetched and extracted, but persisting failed
	PageStatusSkipped   PageStatus = "skipped"    // Drained after cancellation without processing
	PageStatusPanic     PageStatus = "panic"      // Recovered from a panic inside the task
)

// String implements fmt.Stringer for logging
func (s PageStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known outcome
func (s PageStatus) IsValid() bool {
	switch s {
	case PageStatusSuccess, PageStatusFailure, PageStatusSaveError, PageStatusSkipped, PageStatusPanic:
		return true
	}
	return false
}
