package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// resultLine is the per-request shape a completed batch's output file
// carries: custom_id correlates back to the blog id, and exactly one of
// Body/Error is populated depending on whether the provider call succeeded.
type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		Body struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// outcomeKind distinguishes how a single batch result resolved.
type outcomeKind int

const (
	outcomeNone outcomeKind = iota
	outcomeSuccess
	outcomeRefusal
)

// parsedResult is one blog's resolved batch outcome.
type parsedResult struct {
	BlogID  string
	Kind    outcomeKind
	Content string // raw model content, populated for success and refusal
}

// parseResultLines decodes a completed batch's raw JSONL output into one
// parsedResult per line, classifying each as success, refusal, or none
// (provider-side error, skipped rather than treated as a refusal).
func parseResultLines(lines []string) ([]parsedResult, error) {
	out := make([]parsedResult, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rl resultLine
		if err := json.Unmarshal([]byte(line), &rl); err != nil {
			return nil, fmt.Errorf("op=batch.parse_result_lines.decode: line %d: %w", i, err)
		}
		if rl.CustomID == "" {
			return nil, fmt.Errorf("op=batch.parse_result_lines: line %d missing custom_id", i)
		}

		if rl.Error != nil {
			out = append(out, parsedResult{BlogID: rl.CustomID, Kind: outcomeNone, Content: rl.Error.Message})
			continue
		}
		if rl.Response == nil || len(rl.Response.Body.Choices) == 0 {
			out = append(out, parsedResult{BlogID: rl.CustomID, Kind: outcomeNone})
			continue
		}

		content := rl.Response.Body.Choices[0].Message.Content
		if isRefusal(content) {
			out = append(out, parsedResult{BlogID: rl.CustomID, Kind: outcomeRefusal, Content: content})
			continue
		}
		out = append(out, parsedResult{BlogID: rl.CustomID, Kind: outcomeSuccess, Content: content})
	}
	return out, nil
}

// refusalIndicators are keyword/phrase fragments that, found anywhere in a
// lowercased response, mark it as a refusal rather than an analysis.
var refusalIndicators = []string{
	"i'm sorry", "i cannot", "i can't", "i'm unable", "i apologize",
	"unfortunately, i", "i'm afraid", "i don't have access",
	"against my guidelines", "content policy", "safety guidelines",
	"cannot provide", "cannot assist", "unable to process",
}

// isRefusal reports whether content reads as a plain-text refusal rather
// than the requested JSON object, using keyword matching over the raw text.
// It does not attempt to decode content as JSON first: a refusal is
// recognized by what it says, not by what it fails to parse as.
func isRefusal(content string) bool {
	lower := strings.ToLower(content)
	for _, ind := range refusalIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// decodeInsights strictly decodes a successful result's content into
// AIInsights, rejecting unknown fields so a malformed or drifted schema
// surfaces as a parse error rather than silently dropped data.
func decodeInsights(content string, out any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(content))))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("op=batch.decode_insights: %w", err)
	}
	return nil
}
