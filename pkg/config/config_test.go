package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rule-crawler/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
start_urls:
  - https://books.example.com/
allowed_domains: [books.example.com]
exclude_patterns: ['\.pdf$']
url_disallow_patterns: ['/login']
priority_rules:
  - pattern: '/catalogue/'
    priority: 10
  - pattern: '/page-'
    priority: 5
data_extraction:
  title: "css:h1"
  price: "xpath://p[@class='price']/text()"
  isbn: 're:ISBN ([0-9-]+)'
  author: ".author"
num_workers: 4
fetch_timeout: 3s
global_crawl_timeout: 10m
save:
  save_dir: out
  save_as: text
  file_prefix: books
`

func TestParse_FullConfig(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"https://books.example.com/"}, cfg.StartURLs)
	assert.Equal(t, []string{"books.example.com"}, cfg.AllowedDomains)
	assert.Equal(t, []string{`\.pdf$`}, cfg.ExcludePatterns)
	assert.Equal(t, []string{"/login"}, cfg.URLDisallowPatterns)
	assert.Equal(t, []PriorityRule{{"/catalogue/", 10}, {"/page-", 5}}, cfg.PriorityRules)
	assert.Equal(t, 4, cfg.NumWorkers)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 10*time.Minute, cfg.GlobalCrawlTimeout)
	assert.Equal(t, SaveConfig{SaveDir: "out", SaveAs: "text", FilePrefix: "books"}, cfg.Save)

	// File order is preserved
	assert.Equal(t, []string{"title", "price", "isbn", "author"}, cfg.DataExtraction.Fields())
	assert.Equal(t, "xpath://p[@class='price']/text()", cfg.DataExtraction[1].Expression)
}

func TestParse_ExtractionRulesAsSequence(t *testing.T) {
	cfg, err := Parse([]byte(`
start_urls: [http://a/]
data_extraction:
  - zeta: "css:h2"
  - alpha: "css:h1"
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha"}, cfg.DataExtraction.Fields())
}

func TestParse_ExtractionRulesErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"duplicate field", "data_extraction:\n  - a: h1\n  - a: h2\n", "duplicate data_extraction field"},
		{"scalar", "data_extraction: h1\n", "must be a mapping"},
		{"nested value", "data_extraction:\n  a: {b: c}\n", "field: expression"},
		{"multi-key item", "data_extraction:\n  - {a: h1, b: h2}\n", "single-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestParse_UnknownKeyRejected(t *testing.T) {
	_, err := Parse([]byte("start_urls: [http://a/]\nnum_wrokers: 3\n"))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.StartURLs)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, SaveFormatText, cfg.Save.SaveAs)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, utils.ErrConfigValidation)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExtractionRules_MarshalKeepsOrder(t *testing.T) {
	rules := ExtractionRules{{"z", "css:h1"}, {"a", "re:x"}}
	out, err := yaml.Marshal(struct {
		DataExtraction ExtractionRules `yaml:"data_extraction"`
	}{rules})
	require.NoError(t, err)
	text := string(out)
	require.Contains(t, text, "z:")
	require.Contains(t, text, "a:")
	assert.Less(t, strings.Index(text, "z:"), strings.Index(text, "a:"))
}
