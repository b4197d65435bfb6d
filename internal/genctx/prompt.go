package genctx

import (
	"fmt"
	"strings"

	"github.com/MrWong99/lybrarian/pkg/fragment"
)

// SystemPrompt is the fixed task description sent with every round.
const SystemPrompt = `You are a songwriting collaborator working from a writer's personal notebook of fragments.

The writer gives you a verse they are working on. Write fresh variations of it. Each variation should read as a finished verse in the writer's own voice.

Work from the material you are given:
- Fragments are numbered. When a variation borrows wording or imagery from a fragment, cite the fragment's number.
- Exemplars are finished works by the writer. Match their voice, diction and line shapes; do not copy them.
- Follow the strictness settings exactly as stated. They describe how closely each variation must follow the input's rhythm, rhyme and meaning, and how heavily it should lean on the fragments.

Keep each rationale to one short sentence.`

// Prompt is the instruction pair for one generation round.
type Prompt struct {
	System string
	User   string
}

// FormatPrompt renders b as a [Prompt]. Empty sections (no fragments, no
// exemplars, no feedback) are omitted rather than rendered as empty headers.
// A nil b yields the system prompt and an empty user block.
//
// FormatPrompt is pure and safe for concurrent use.
func FormatPrompt(b *Bundle) Prompt {
	p := Prompt{System: SystemPrompt}
	if b == nil {
		return p
	}

	var sb strings.Builder

	// ── Input ─────────────────────────────────────────────────────────────────
	sb.WriteString("## Input verse\n")
	sb.WriteString(b.Input)

	// ── Settings ──────────────────────────────────────────────────────────────
	if len(b.Instructions) > 0 {
		sb.WriteString("\n\n## Settings\n")
		for _, in := range b.Instructions {
			fmt.Fprintf(&sb, "- %s\n", in)
		}
		trimNewline(&sb)
	}

	// ── Fragments ─────────────────────────────────────────────────────────────
	if len(b.Fragments) > 0 {
		sb.WriteString("\n\n## Fragments\n")
		for i, f := range b.Fragments {
			if i > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(formatFragment(f))
		}
		trimNewline(&sb)
	}

	// ── Exemplars ─────────────────────────────────────────────────────────────
	if len(b.Exemplars) > 0 {
		sb.WriteString("\n\n## Exemplars\n")
		for i, e := range b.Exemplars {
			if i > 0 {
				sb.WriteString("\n")
			}
			title := e.Title
			if title == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&sb, "### %s\n%s\n", title, e.Body)
		}
		trimNewline(&sb)
	}

	// ── Feedback ──────────────────────────────────────────────────────────────
	if !b.Feedback.Empty() {
		sb.WriteString("\n\n## Feedback on the previous round\n")
		writeCandidates(&sb, "The writer liked:", b.Feedback.Favorable)
		writeCandidates(&sb, "The writer did not like:", b.Feedback.Unfavorable)
		sb.WriteString("Before writing, reflect on what the liked variations do well and what the disliked ones get wrong. Lean toward the former and avoid repeating the latter.")
	}

	p.User = sb.String()
	return p
}

// formatFragment renders one numbered fragment as a header line followed by
// its text and optional context note.
func formatFragment(f NumberedFragment) string {
	var meta []string
	if f.Type != "" {
		meta = append(meta, string(f.Type))
	}
	if f.HasProsody {
		if avg := fragment.AverageSyllables(f.Lines); avg > 0 {
			meta = append(meta, fmt.Sprintf("avg %.1f syllables", avg))
		}
	}
	if len(f.Tags) > 0 {
		meta = append(meta, "tags: "+strings.Join(f.Tags, ", "))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "[%d]", f.Index)
	if len(meta) > 0 {
		fmt.Fprintf(&sb, " (%s)", strings.Join(meta, "; "))
	}
	sb.WriteString("\n")
	sb.WriteString(strings.TrimSpace(f.Text))
	sb.WriteString("\n")
	if note := strings.TrimSpace(f.ContextNote); note != "" {
		fmt.Fprintf(&sb, "Context: %s\n", note)
	}
	return sb.String()
}

func writeCandidates(sb *strings.Builder, heading string, cs []Candidate) {
	if len(cs) == 0 {
		return
	}
	sb.WriteString(heading)
	sb.WriteString("\n")
	for _, c := range cs {
		text := strings.ReplaceAll(strings.TrimSpace(c.Text), "\n", " / ")
		if r := strings.TrimSpace(c.Rationale); r != "" {
			fmt.Fprintf(sb, "- %s (rationale: %s)\n", text, r)
			continue
		}
		fmt.Fprintf(sb, "- %s\n", text)
	}
	sb.WriteString("\n")
}

func trimNewline(sb *strings.Builder) {
	s := strings.TrimRight(sb.String(), "\n")
	sb.Reset()
	sb.WriteString(s)
}
