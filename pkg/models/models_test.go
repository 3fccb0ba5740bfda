package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntry_Sentinel(t *testing.T) {
	assert.True(t, SentinelEntry().IsSentinel())
	assert.False(t, Entry{URL: "http://example.com/"}.IsSentinel())
	assert.Empty(t, SentinelEntry().URL)
}

func TestEntry_Referrer(t *testing.T) {
	assert.Equal(t, "", Entry{URL: "http://a/"}.Referrer())
	e := Entry{URL: "http://a/x", Metadata: map[string]string{MetadataReferrer: "http://a/"}}
	assert.Equal(t, "http://a/", e.Referrer())
}

func TestNewRecord_EveryFieldPresent(t *testing.T) {
	order := []string{"title", "price", "tags"}
	rec := NewRecord("run-1", "http://shop/item", order, map[string][]string{
		"title": {"Widget"},
		"tags":  {"a", "b"},
	})

	require.Len(t, rec.Fields, 3)
	assert.Equal(t, []string{"Widget"}, rec.Fields["title"])
	assert.NotNil(t, rec.Fields["price"])
	assert.Empty(t, rec.Fields["price"])
	assert.Equal(t, order, rec.FieldOrder)
	assert.Equal(t, "http://shop/item", rec.URL)
	assert.Equal(t, "run-1", rec.RunID)
	assert.False(t, rec.CrawledAt.IsZero())
}

func TestNewRecord_IgnoresUnconfiguredFields(t *testing.T) {
	rec := NewRecord("", "http://a/", []string{"title"}, map[string][]string{"stray": {"x"}})
	_, ok := rec.Fields["stray"]
	assert.False(t, ok)
}

func TestNewRecord_CopiesOrder(t *testing.T) {
	order := []string{"a", "b"}
	rec := NewRecord("", "http://a/", order, nil)
	order[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, rec.FieldOrder)
}
