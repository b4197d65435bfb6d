package genctx

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Flatten converts a Markdown document into plain text. Paragraph and heading
// boundaries become blank lines, line breaks inside a paragraph are kept so
// verse stays on its lines, and all inline markup is dropped.
func Flatten(markdown string) string {
	if strings.TrimSpace(markdown) == "" {
		return ""
	}
	src := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := range lines.Len() {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			} else {
				endBlock(&buf, "\n\n")
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				endBlock(&buf, "\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				endBlock(&buf, "\n")
			}
		}
		return ast.WalkContinue, nil
	})

	lines := strings.Split(buf.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// endBlock replaces any trailing newlines in buf with sep.
func endBlock(buf *bytes.Buffer, sep string) {
	b := buf.Bytes()
	n := len(b)
	for n > 0 && b[n-1] == '\n' {
		n--
	}
	buf.Truncate(n)
	buf.WriteString(sep)
}
