package extract

import (
	"io"
	"sync"
	"testing"

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

const productPage = `<!DOCTYPE html>
<html>
<head><title>Widget | Shop</title></head>
<body>
  <h1 class="title">  Widget  </h1>
  <p class="price">£12.50</p>
  <ul class="tags"><li>blue</li><li>small</li><li>   </li></ul>
  <a class="next" href="/page/2">Next</a>
  <div id="meta">ISBN 978-3-16 and ISBN 111-2</div>
</body>
</html>`

func mustExtractor(t *testing.T, rules config.ExtractionRules) *Extractor {
	t.Helper()
	e, err := New(rules, testLogger())
	require.NoError(t, err)
	return e
}

func TestParseRule_Dispatch(t *testing.T) {
	tests := []struct {
		raw      string
		kind     Kind
		expected string
	}{
		{"css:h1.title", KindCSS, "h1.title"},
		{"xpath://h1/text()", KindXPath, "//h1/text()"},
		{"re:ISBN ([0-9-]+)", KindRegex, "ISBN ([0-9-]+)"},
		{"h1 > span", KindCSS, "h1 > span"},
		{"css:  h1  ", KindCSS, "h1"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			rule, err := ParseRule("f", tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, rule.Kind)
			assert.Equal(t, tt.expected, rule.Expression)
			assert.Equal(t, "f", rule.Field)
		})
	}
}

func TestParseRule_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bad css", "css:h1[[["},
		{"bad xpath", "xpath://h1[@"},
		{"bad regex", "re:(unclosed"},
		{"empty after prefix", "xpath:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRule("f", tt.raw)
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), `"f"`)
		})
	}
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "css", KindCSS.String())
	assert.Equal(t, "xpath", KindXPath.String())
	assert.Equal(t, "re", KindRegex.String())
	assert.Equal(t, "Kind(9)", Kind(9).String())
}

func TestNew_FailsOnFirstMalformedRule(t *testing.T) {
	_, err := New(config.ExtractionRules{
		{Field: "ok", Expression: "h1"},
		{Field: "broken", Expression: "re:[a-"},
	}, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.Contains(t, err.Error(), "broken")
}

func TestExtract_CSS(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "title", Expression: "css:h1.title"},
		{Field: "tags", Expression: "ul.tags li"},
	})

	got := e.Extract(productPage, "http://shop/widget")

	assert.Equal(t, []string{"Widget"}, got["title"])
	assert.Equal(t, []string{"blue", "small"}, got["tags"], "whitespace-only matches are dropped")
}

func TestExtract_XPath(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "price", Expression: "xpath://p[@class='price']/text()"},
		{Field: "next", Expression: "xpath://a[@class='next']/@href"},
		{Field: "heading", Expression: "xpath://h1"},
		{Field: "tag_count", Expression: "xpath:count(//ul[@class='tags']/li)"},
		{Field: "title_str", Expression: "xpath:string(//title)"},
		{Field: "has_meta", Expression: "xpath:boolean(//div[@id='meta'])"},
	})

	got := e.Extract(productPage, "http://shop/widget")

	assert.Equal(t, []string{"£12.50"}, got["price"])
	assert.Equal(t, []string{"/page/2"}, got["next"])
	assert.Equal(t, []string{"Widget"}, got["heading"])
	assert.Equal(t, []string{"3"}, got["tag_count"])
	assert.Equal(t, []string{"Widget | Shop"}, got["title_str"])
	assert.Equal(t, []string{"true"}, got["has_meta"])
}

func TestExtract_Regex(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "isbn", Expression: `re:ISBN ([0-9-]+)`},
		{Field: "isbn_whole", Expression: `re:ISBN [0-9-]+`},
	})

	got := e.Extract(productPage, "http://shop/widget")

	assert.Equal(t, []string{"978-3-16", "111-2"}, got["isbn"], "first capture group of each match")
	assert.Equal(t, []string{"ISBN 978-3-16", "ISBN 111-2"}, got["isbn_whole"], "whole match without groups")
}

func TestExtract_EveryFieldPresent(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "missing_css", Expression: "css:.does-not-exist"},
		{Field: "missing_xpath", Expression: "xpath://table"},
		{Field: "missing_re", Expression: "re:zzz(\\d+)"},
		{Field: "empty_string", Expression: "xpath:string(//table)"},
	})

	got := e.Extract(productPage, "http://shop/widget")

	require.Len(t, got, 4)
	for _, field := range e.Fields() {
		v, ok := got[field]
		assert.True(t, ok, "field %q must be present", field)
		assert.NotNil(t, v, "field %q must be an empty list, not nil", field)
		assert.Empty(t, v, "field %q", field)
	}
}

func TestExtract_NonHTMLInput(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "title", Expression: "h1"},
		{Field: "num", Expression: `re:"n":\s*(\d+)`},
	})

	got := e.Extract(`{"n": 42}`, "http://api/x")

	assert.Empty(t, got["title"])
	assert.Equal(t, []string{"42"}, got["num"])
}

func TestExtract_Deterministic(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "tags", Expression: "ul.tags li"},
		{Field: "isbn", Expression: `re:ISBN ([0-9-]+)`},
	})
	first := e.Extract(productPage, "u")
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.Extract(productPage, "u"))
	}
}

func TestExtract_ConcurrentXPathRules(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "items", Expression: "xpath://ul[@class='tags']/li"},
		{Field: "count", Expression: "xpath:count(//li)"},
		{Field: "title", Expression: "xpath:string(//h1)"},
		{Field: "heading", Expression: "h1.title"},
	})
	want := map[string][]string{
		"items":   {"blue", "small"},
		"count":   {"3"},
		"title":   {"Widget"},
		"heading": {"Widget"},
	}

	const goroutines, calls = 16, 200
	var wg sync.WaitGroup
	mismatches := make(chan map[string][]string, goroutines*calls)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				if got := e.Extract(productPage, "u"); !assert.ObjectsAreEqual(want, got) {
					mismatches <- got
				}
			}
		}()
	}
	wg.Wait()
	close(mismatches)

	for got := range mismatches {
		assert.Equal(t, want, got)
	}
}

func TestExtract_NoRules(t *testing.T) {
	e := mustExtractor(t, nil)
	got := e.Extract(productPage, "u")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, e.Fields())
}

func TestExtractor_FieldsKeepOrder(t *testing.T) {
	e := mustExtractor(t, config.ExtractionRules{
		{Field: "z", Expression: "h1"},
		{Field: "a", Expression: "re:x"},
		{Field: "m", Expression: "xpath://p"},
	})
	assert.Equal(t, []string{"z", "a", "m"}, e.Fields())
	require.Len(t, e.Rules(), 3)
	assert.Equal(t, "xpath://p", e.Rules()[2].String())
}
