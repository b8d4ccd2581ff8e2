package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResultLinesSuccess(t *testing.T) {
	t.Parallel()

	lines := []string{
		`{"custom_id":"blog-1","response":{"body":{"choices":[{"message":{"content":"{\"short_label\":\"x\"}"}}]}}}`,
	}

	out, err := parseResultLines(lines)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "blog-1", out[0].BlogID)
	assert.Equal(t, outcomeSuccess, out[0].Kind)
}

func TestParseResultLinesRefusal(t *testing.T) {
	t.Parallel()

	lines := []string{
		`{"custom_id":"blog-2","response":{"body":{"choices":[{"message":{"content":"I'm sorry, I cannot analyze this account."}}]}}}`,
	}

	out, err := parseResultLines(lines)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, outcomeRefusal, out[0].Kind)
}

func TestParseResultLinesProviderError(t *testing.T) {
	t.Parallel()

	lines := []string{
		`{"custom_id":"blog-3","error":{"message":"rate limited"}}`,
	}

	out, err := parseResultLines(lines)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, outcomeNone, out[0].Kind)
	assert.Equal(t, "rate limited", out[0].Content)
}

func TestParseResultLinesSkipsBlank(t *testing.T) {
	t.Parallel()

	lines := []string{"", "   ", `{"custom_id":"blog-4","error":{"message":"x"}}`}

	out, err := parseResultLines(lines)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestParseResultLinesMissingCustomID(t *testing.T) {
	t.Parallel()

	lines := []string{`{"response":{"body":{"choices":[{"message":{"content":"hi"}}]}}}`}

	_, err := parseResultLines(lines)
	assert.Error(t, err)
}

func TestParseResultLinesMalformedJSON(t *testing.T) {
	t.Parallel()

	_, err := parseResultLines([]string{`not json`})
	assert.Error(t, err)
}

func TestIsRefusalCaseInsensitive(t *testing.T) {
	t.Parallel()

	assert.True(t, isRefusal("Unfortunately, I cannot provide this analysis."))
	assert.False(t, isRefusal(`{"short_label": "fine"}`))
}

func TestDecodeInsightsRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	var out struct {
		ShortLabel string `json:"short_label"`
	}
	err := decodeInsights(`{"short_label":"x","unexpected_field":1}`, &out)
	assert.Error(t, err)
}

func TestDecodeInsightsValid(t *testing.T) {
	t.Parallel()

	var out struct {
		ShortLabel string `json:"short_label"`
	}
	require.NoError(t, decodeInsights(`{"short_label":"x"}`, &out))
	assert.Equal(t, "x", out.ShortLabel)
}
