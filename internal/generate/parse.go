package generate

import (
	"encoding/json"
	"fmt"
	"strings"
)

type rawCandidate struct {
	Text      string `json:"text"`
	Fragments []int  `json:"fragments"`
	Rationale string `json:"rationale"`
}

type rawReply struct {
	Candidates []rawCandidate `json:"candidates"`
}

// Parse decodes a model reply into exactly n candidates. The reply may be a
// {"candidates": [...]} object or a bare array, optionally wrapped in a
// Markdown code fence. Citation indices outside [1, fragments] are dropped and
// every candidate is assigned an ID from newID.
func Parse(content string, n, fragments int, newID func() string) ([]Candidate, error) {
	body := stripFence(content)
	if body == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	var raw []rawCandidate
	switch body[0] {
	case '[':
		if err := json.Unmarshal([]byte(body), &raw); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	case '{':
		var reply rawReply
		if err := json.Unmarshal([]byte(body), &reply); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		if reply.Candidates == nil {
			return nil, fmt.Errorf("%w: no \"candidates\" array", ErrMalformedResponse)
		}
		raw = reply.Candidates
	default:
		return nil, fmt.Errorf("%w: reply is not JSON", ErrMalformedResponse)
	}

	if len(raw) != n {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrWrongCardinality, len(raw), n)
	}

	out := make([]Candidate, len(raw))
	for i, rc := range raw {
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: candidate %d has no text", ErrMalformedResponse, i+1)
		}
		out[i] = Candidate{
			ID:        newID(),
			Text:      text,
			Fragments: citations(rc.Fragments, fragments),
			Rationale: strings.TrimSpace(rc.Rationale),
		}
	}
	return out, nil
}

// citations keeps the distinct indices in [1, limit], in order.
func citations(in []int, limit int) []int {
	out := []int{}
	seen := make(map[int]bool, len(in))
	for _, idx := range in {
		if idx < 1 || idx > limit || seen[idx] {
			continue
		}
		seen[idx] = true
		out = append(out, idx)
	}
	return out
}

// stripFence removes a surrounding ``` or ```json fence.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = ""
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
