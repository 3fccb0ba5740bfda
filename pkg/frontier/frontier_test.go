package frontier

import (
	"fmt"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rule-crawler/pkg/config"
	"rule-crawler/pkg/utils"
)

// testLogger returns a logger that discards output
func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func newTestFrontier(t *testing.T, rules []config.PriorityRule, blocked ...string) *Frontier {
	t.Helper()
	compiled, err := CompilePriorityRules(rules)
	require.NoError(t, err)
	blockedRe, err := utils.CompileRegexPatterns(blocked)
	require.NoError(t, err)
	return New(compiled, blockedRe, testLogger())
}

// getWithin fails the test if Get does not return in time
func getWithin(t *testing.T, f *Frontier, d time.Duration) (url string, sentinel bool) {
	t.Helper()
	ch := make(chan struct {
		url      string
		sentinel bool
	}, 1)
	go func() {
		e := f.Get()
		ch <- struct {
			url      string
			sentinel bool
		}{e.URL, e.IsSentinel()}
	}()
	select {
	case r := <-ch:
		return r.url, r.sentinel
	case <-time.After(d):
		t.Fatal("Get() did not return in time")
		return "", false
	}
}

func TestFrontier_AddDeduplicates(t *testing.T) {
	f := newTestFrontier(t, nil)

	assert.True(t, f.Add("http://a/x", nil))
	assert.False(t, f.Add("http://a/x", nil))
	assert.Equal(t, 1, f.Len())
	assert.Equal(t, 1, f.Outstanding())
	assert.Equal(t, 1, f.SeenCount())
}

func TestFrontier_FragmentsCollide(t *testing.T) {
	f := newTestFrontier(t, nil)

	assert.True(t, f.Add("http://a/x#top", nil))
	assert.False(t, f.Add("http://a/x#bottom", nil))
	assert.False(t, f.Add("http://a/x", nil))
	assert.True(t, f.IsSeen("http://a/x#anything"))

	e := f.Get()
	assert.Equal(t, "http://a/x", e.URL, "entries never carry a fragment")
}

func TestFrontier_QueryStringsDistinct(t *testing.T) {
	f := newTestFrontier(t, nil)

	assert.True(t, f.Add("http://a/x?page=1", nil))
	assert.True(t, f.Add("http://a/x?page=2", nil))
	assert.Equal(t, 2, f.Len())
}

func TestFrontier_SeenSurvivesProcessing(t *testing.T) {
	f := newTestFrontier(t, nil)

	require.True(t, f.Add("http://a/", nil))
	f.Get()
	f.MarkDone()
	f.Join()

	assert.False(t, f.Add("http://a/", nil), "a processed URL is never re-enqueued")
	assert.Equal(t, 0, f.Outstanding())
}

func TestFrontier_BlockedPatterns(t *testing.T) {
	f := newTestFrontier(t, nil, `/login`, `\.pdf$`)

	assert.False(t, f.Add("http://a/login?next=/", nil))
	assert.False(t, f.Add("http://a/doc.pdf", nil))
	assert.True(t, f.Add("http://a/doc.html", nil))

	assert.True(t, f.IsSeen("http://a/login"))
	assert.False(t, f.IsSeen("http://a/other"))
	assert.Equal(t, 1, f.SeenCount(), "blocked URLs are not recorded individually")
	assert.Equal(t, 1, f.Outstanding())
}

func TestFrontier_PriorityOrdering(t *testing.T) {
	f := newTestFrontier(t, []config.PriorityRule{
		{Pattern: "/important/", Priority: 10},
		{Pattern: "/catalogue/", Priority: 5},
		{Pattern: "/archive/", Priority: -1},
	})

	f.Add("http://a/archive/1", nil)
	f.Add("http://a/plain", nil)
	f.Add("http://a/catalogue/1", nil)
	f.Add("http://a/important/1", nil)
	f.Add("http://a/catalogue/2", nil)

	want := []string{
		"http://a/important/1",
		"http://a/catalogue/1",
		"http://a/catalogue/2",
		"http://a/plain",
		"http://a/archive/1",
	}
	for i, w := range want {
		assert.Equal(t, w, f.Get().URL, "Get() #%d", i)
	}
}

func TestFrontier_FirstMatchingRuleWins(t *testing.T) {
	f := newTestFrontier(t, []config.PriorityRule{
		{Pattern: "docs", Priority: 1},
		{Pattern: "docs/api", Priority: 100},
	})

	f.Add("http://a/docs/api/x", nil)
	f.Add("http://a/blog", nil)
	f.Add("http://a/docs/guide", nil)

	e := f.Get()
	assert.Equal(t, "http://a/docs/api/x", e.URL)
	assert.Equal(t, 1, e.Priority, "only the first matching rule applies")
}

func TestFrontier_FIFOAmongEqualPriority(t *testing.T) {
	f := newTestFrontier(t, nil)
	for i := 0; i < 20; i++ {
		f.Add(fmt.Sprintf("http://a/%d", i), nil)
	}
	for i := 0; i < 20; i++ {
		assert.Equal(t, fmt.Sprintf("http://a/%d", i), f.Get().URL)
	}
}

func TestFrontier_MetadataCarried(t *testing.T) {
	f := newTestFrontier(t, nil)
	f.Add("http://a/child", map[string]string{"referrer": "http://a/"})

	e := f.Get()
	assert.Equal(t, "http://a/", e.Referrer())
}

func TestFrontier_JoinBlocksUntilAllDone(t *testing.T) {
	f := newTestFrontier(t, nil)
	f.Add("http://a/1", nil)
	f.Add("http://a/2", nil)

	joined := make(chan struct{})
	go func() {
		f.Join()
		close(joined)
	}()

	f.Get()
	f.MarkDone()

	select {
	case <-joined:
		t.Fatal("Join() returned while work was outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	f.Get()
	f.MarkDone()

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("Join() did not return after outstanding reached zero")
	}
}

func TestFrontier_JoinWithChildrenAddedDuringProcessing(t *testing.T) {
	f := newTestFrontier(t, nil)
	f.Add("http://a/", nil)

	joined := make(chan struct{})
	go func() {
		f.Join()
		close(joined)
	}()

	// Children are added before the parent is marked done
	f.Get()
	f.Add("http://a/child", nil)
	f.MarkDone()

	select {
	case <-joined:
		t.Fatal("Join() returned while a child was still queued")
	case <-time.After(50 * time.Millisecond):
	}

	f.Get()
	f.MarkDone()

	select {
	case <-joined:
	case <-time.After(time.Second):
		t.Fatal("Join() did not return")
	}
}

func TestFrontier_JoinOnEmptyReturnsImmediately(t *testing.T) {
	f := newTestFrontier(t, nil)

	done := make(chan struct{})
	go func() {
		f.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Join() on empty frontier blocked")
	}
}

func TestFrontier_MarkDoneWithoutWorkIsClamped(t *testing.T) {
	f := newTestFrontier(t, nil)

	f.MarkDone()
	assert.Equal(t, 0, f.Outstanding())

	f.Add("http://a/", nil)
	assert.Equal(t, 1, f.Outstanding())
}

func TestFrontier_ShutdownInjectsSentinels(t *testing.T) {
	f := newTestFrontier(t, nil)

	f.Shutdown(3)
	assert.Equal(t, 3, f.Outstanding())
	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 0, f.SeenCount(), "sentinels bypass the seen set")

	for i := 0; i < 3; i++ {
		_, sentinel := getWithin(t, f, time.Second)
		assert.True(t, sentinel)
		f.MarkDone()
	}
	assert.Equal(t, 0, f.Outstanding())
}

func TestFrontier_SentinelsQueueBehindRealWork(t *testing.T) {
	f := newTestFrontier(t, []config.PriorityRule{{Pattern: "low", Priority: -100}})
	f.Shutdown(1)
	f.Add("http://a/low", nil)

	e := f.Get()
	assert.False(t, e.IsSentinel())
	assert.Equal(t, "http://a/low", e.URL)
	assert.True(t, f.Get().IsSentinel())
}

func TestFrontier_GetBlocksUntilAdd(t *testing.T) {
	f := newTestFrontier(t, nil)

	got := make(chan string, 1)
	go func() { got <- f.Get().URL }()

	select {
	case <-got:
		t.Fatal("Get() returned on an empty frontier")
	case <-time.After(50 * time.Millisecond):
	}

	f.Add("http://a/late", nil)

	select {
	case u := <-got:
		assert.Equal(t, "http://a/late", u)
	case <-time.After(time.Second):
		t.Fatal("Get() did not wake after Add()")
	}
}

func TestFrontier_ConcurrentAddExactlyOnce(t *testing.T) {
	f := newTestFrontier(t, nil)

	const goroutines = 16
	const urls = 200
	var accepted sync.Map
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < urls; i++ {
				u := fmt.Sprintf("http://a/%d#frag%d", i, g)
				if f.Add(u, nil) {
					if _, dup := accepted.LoadOrStore(i, true); dup {
						t.Errorf("URL %d accepted twice", i)
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, urls, f.Len())
	assert.Equal(t, urls, f.Outstanding())
	assert.Equal(t, urls, f.SeenCount())
}

func TestFrontier_WorkerProtocol(t *testing.T) {
	// Each processed URL fans out to two children until depth 4 is reached;
	// the Join + Shutdown protocol must stop every worker exactly once.
	f := newTestFrontier(t, nil)
	f.Add("http://a/r", nil)

	const workers = 4
	var processed sync.Map
	var wg sync.WaitGroup
	exits := make(chan int, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				e := f.Get()
				if e.IsSentinel() {
					f.MarkDone()
					exits <- id
					return
				}
				processed.Store(e.URL, true)
				if len(e.URL) < len("http://a/r")+4 {
					f.Add(e.URL+"0", nil)
					f.Add(e.URL+"1", nil)
				}
				f.MarkDone()
			}
		}(w)
	}

	f.Join()
	f.Shutdown(workers)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("workers did not exit after Shutdown")
	}
	close(exits)

	count := 0
	processed.Range(func(_, _ any) bool { count++; return true })
	assert.Equal(t, 31, count, "1 + 2 + 4 + 8 + 16 URLs")
	assert.Len(t, exits, workers)
	assert.Equal(t, 0, f.Outstanding())
	assert.Equal(t, 0, f.Len())
}

func TestCompilePriorityRules_Invalid(t *testing.T) {
	_, err := CompilePriorityRules([]config.PriorityRule{{Pattern: "ok", Priority: 1}, {Pattern: "(", Priority: 2}})
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Contains(t, err.Error(), "#2")
}

func TestCompilePriorityRules_PreservesOrder(t *testing.T) {
	rules, err := CompilePriorityRules([]config.PriorityRule{{Pattern: "b", Priority: 2}, {Pattern: "a", Priority: 1}})
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, regexp.MustCompile("b").String(), rules[0].Pattern.String())
	assert.Equal(t, 1, rules[1].Weight)
}
