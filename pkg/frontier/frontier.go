package frontier

import (
	"math"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/config"
	"rule-crawler/pkg/models"
	"rule-crawler/pkg/parse"
	"rule-crawler/pkg/queue"
	"rule-crawler/pkg/utils"
)

// sentinelPriority keeps shutdown markers behind any real work still queued
const sentinelPriority = math.MinInt

// PriorityRule maps URLs matching Pattern (unanchored search) to Weight
type PriorityRule struct {
	Pattern *regexp.Regexp
	Weight  int
}

// CompilePriorityRules compiles configured rules, preserving their order.
// An invalid pattern is a configuration error.
func CompilePriorityRules(rules []config.PriorityRule) ([]PriorityRule, error) {
	compiled := make([]PriorityRule, 0, len(rules))
	for i, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, utils.WrapErrorf(utils.ErrConfigValidation, "priority rule #%d ('%s'): %v", i+1, r.Pattern, err)
		}
		compiled = append(compiled, PriorityRule{Pattern: re, Weight: r.Priority})
	}
	return compiled, nil
}

// Frontier is the deduplicating priority work queue shared by all workers.
//
// The seen set, the sequence counter and the outstanding counter are guarded
// by mu; the queue has its own lock and is only pushed while mu is held, so a
// URL is never visible in the queue before it is counted as outstanding.
type Frontier struct {
	queue   *queue.ThreadSafePriorityQueue
	rules   []PriorityRule
	blocked []*regexp.Regexp

	mu          sync.Mutex
	drained     *sync.Cond // Broadcast when outstanding reaches zero
	seen        map[string]struct{}
	seq         uint64
	outstanding int

	log *logrus.Entry
}

// New creates an empty frontier. Rules are applied in order on Add; blocked
// patterns make any matching URL behave as already seen.
func New(rules []PriorityRule, blocked []*regexp.Regexp, log *logrus.Entry) *Frontier {
	f := &Frontier{
		queue:   queue.NewThreadSafePriorityQueue(),
		rules:   rules,
		blocked: blocked,
		seen:    make(map[string]struct{}),
		log:     log,
	}
	f.drained = sync.NewCond(&f.mu)
	return f
}

// Add normalizes rawURL and enqueues it unless it was seen before or is blocked.
// Returns whether the URL was enqueued.
func (f *Frontier) Add(rawURL string, metadata map[string]string) bool {
	u := parse.Normalize(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isSeenLocked(u) {
		return false
	}

	f.seen[u] = struct{}{}
	f.seq++
	f.outstanding++
	f.queue.Add(models.Entry{
		URL:      u,
		Priority: f.priorityFor(u),
		Metadata: metadata,
		Seq:      f.seq,
	})
	return true
}

// Get blocks until an entry is available. During shutdown the entry may be a
// sentinel; callers must check IsSentinel. Every Get must be paired with MarkDone.
func (f *Frontier) Get() models.Entry {
	return f.queue.Pop()
}

// MarkDone records that one entry obtained from Get has been fully handled.
// Releases Join waiters when no work remains.
func (f *Frontier) MarkDone() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.outstanding == 0 {
		f.log.Warn("MarkDone called with no outstanding work, ignoring")
		return
	}
	f.outstanding--
	if f.outstanding == 0 {
		f.drained.Broadcast()
	}
}

// Join blocks until every added entry (and sentinel) has been marked done
func (f *Frontier) Join() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for f.outstanding > 0 {
		f.drained.Wait()
	}
}

// IsSeen reports whether rawURL (after normalization) would be rejected by Add
func (f *Frontier) IsSeen(rawURL string) bool {
	u := parse.Normalize(rawURL)

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.isSeenLocked(u)
}

// Shutdown injects n sentinel entries, one per worker, bypassing deduplication
// and priority rules. Each sentinel counts as outstanding until marked done.
func (f *Frontier) Shutdown(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := 0; i < n; i++ {
		s := models.SentinelEntry()
		s.Priority = sentinelPriority
		f.seq++
		s.Seq = f.seq
		f.outstanding++
		f.queue.Add(s)
	}
	f.log.Debugf("Injected %d shutdown sentinels", n)
}

// Len returns the number of queued entries
func (f *Frontier) Len() int {
	return f.queue.Len()
}

// Outstanding returns the number of entries added but not yet marked done
func (f *Frontier) Outstanding() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outstanding
}

// SeenCount returns the number of distinct URLs ever enqueued
func (f *Frontier) SeenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Frontier) isSeenLocked(u string) bool {
	if _, ok := f.seen[u]; ok {
		return true
	}
	for _, re := range f.blocked {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

// priorityFor returns the weight of the first matching rule, or 0
func (f *Frontier) priorityFor(u string) int {
	for _, r := range f.rules {
		if r.Pattern.MatchString(u) {
			return r.Weight
		}
	}
	return 0
}
