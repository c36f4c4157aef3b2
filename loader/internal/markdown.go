package internal

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

type mdTokenType int

const (
	tokenText mdTokenType = iota
	tokenImage
	tokenTable
)

type mdToken struct {
	Type    mdTokenType
	Content string // text or base64 image
	Table   []TableRow
}

type TableRow struct {
	Key   string
	Value string
}

var imgRegex = regexp.MustCompile(
	`!\[[^\]]*\]\(data:image\/[a-zA-Z]+;base64,([^)]+)\)`,
)

// ImageDescriber turns a base64 image into prose.
type ImageDescriber interface {
	Describe(ctx context.Context, img string) (string, error)
}

// renderMarkdown flattens converter markdown into plain study text: tables
// become "Key: Value." lines and embedded images are replaced by a description
// when a describer is available.
func renderMarkdown(ctx context.Context, md string, describer ImageDescriber, logger *slog.Logger) string {
	tokens := mergeAdjacentTables(mergeAdjacentText(tokenizeMD(md)))

	var parts []string
	for _, token := range tokens {
		switch token.Type {
		case tokenText:
			if token.Content != "" {
				parts = append(parts, token.Content)
			}
		case tokenImage:
			if describer == nil {
				continue
			}
			desc, err := describer.Describe(ctx, token.Content)
			if err != nil {
				logger.Warn("image description failed, skipping image", "error", err)
				continue
			}
			if desc = strings.TrimSpace(desc); desc != "" {
				parts = append(parts, "[Figure] "+desc)
			}
		case tokenTable:
			var b strings.Builder
			for i, row := range token.Table {
				if i > 0 {
					b.WriteString("\n")
				}
				b.WriteString(row.Key)
				b.WriteString(": ")
				b.WriteString(row.Value)
				b.WriteString(".")
			}
			if b.Len() > 0 {
				parts = append(parts, b.String())
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

func tokenizeMD(md string) []mdToken {
	lines := strings.Split(md, "\n")
	var tokens []mdToken
	var buf strings.Builder

	flushText := func() {
		if buf.Len() > 0 {
			tokens = append(tokens, mdToken{Type: tokenText, Content: strings.TrimSpace(buf.String())})
			buf.Reset()
		}
	}

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if isSeparatorRow(line) {
			// header rows above the separator were buffered as text
			flushText()
			rows, next := parseLooseMarkdownTable(lines, i)
			tokens = dropTrailingTableHeader(tokens, lines, i)
			tokens = append(tokens, mdToken{Type: tokenTable, Table: rows})
			i = next - 1
			continue
		}

		if m := imgRegex.FindStringSubmatch(line); m != nil {
			flushText()
			tokens = append(tokens, mdToken{Type: tokenImage, Content: m[1]})
			continue
		}

		buf.WriteString(line)
		buf.WriteString("\n")
	}

	flushText()
	return tokens
}

// dropTrailingTableHeader removes table rows that were flushed as text just
// before the separator at sepIndex.
func dropTrailingTableHeader(tokens []mdToken, lines []string, sepIndex int) []mdToken {
	if len(tokens) == 0 || tokens[len(tokens)-1].Type != tokenText {
		return tokens
	}
	start := sepIndex - 1
	for start >= 0 && isTableRow(lines[start]) {
		start--
	}
	headerRows := sepIndex - 1 - start
	if headerRows == 0 {
		return tokens
	}
	last := &tokens[len(tokens)-1]
	textLines := strings.Split(last.Content, "\n")
	if headerRows > len(textLines) {
		headerRows = len(textLines)
	}
	last.Content = strings.TrimSpace(strings.Join(textLines[:len(textLines)-headerRows], "\n"))
	if last.Content == "" {
		return tokens[:len(tokens)-1]
	}
	return tokens
}

func isTableRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Count(line, "|") >= 2
}

func isSeparatorRow(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "|") && strings.Contains(line, "---")
}

func splitRow(line string) []string {
	var cells []string
	for _, p := range strings.Split(line, "|") {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

func mergeAdjacentText(tokens []mdToken) []mdToken {
	var result []mdToken
	var buf strings.Builder

	flush := func() {
		if buf.Len() > 0 {
			result = append(result, mdToken{Type: tokenText, Content: strings.TrimSpace(buf.String())})
			buf.Reset()
		}
	}

	for _, t := range tokens {
		if t.Type == tokenText {
			buf.WriteString(t.Content)
			buf.WriteString("\n")
			continue
		}
		flush()
		result = append(result, t)
	}
	flush()
	return result
}

func mergeAdjacentTables(tokens []mdToken) []mdToken {
	var out []mdToken
	for _, t := range tokens {
		if t.Type == tokenTable && len(out) > 0 && out[len(out)-1].Type == tokenTable {
			prev := &out[len(out)-1]
			prev.Table = append(prev.Table, t.Table...)
			continue
		}
		out = append(out, t)
	}
	return out
}

// parseLooseMarkdownTable collects the rows around a separator line. Header
// rows above the separator come first.
func parseLooseMarkdownTable(lines []string, sepIndex int) ([]TableRow, int) {
	start := sepIndex - 1
	for start >= 0 && isTableRow(lines[start]) {
		start--
	}
	start++

	var rows []TableRow
	for j := start; j < sepIndex; j++ {
		if cells := splitRow(lines[j]); len(cells) >= 2 {
			rows = append(rows, TableRow{Key: cells[0], Value: cells[1]})
		}
	}

	i := sepIndex + 1
	for i < len(lines) && isTableRow(lines[i]) {
		if cells := splitRow(lines[i]); len(cells) >= 2 {
			rows = append(rows, TableRow{Key: cells[0], Value: cells[1]})
		}
		i++
	}
	return rows, i
}
