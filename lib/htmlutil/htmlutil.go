package htmlutil

import (
	"regexp"
	"strings"
)

var (
	tagRegex        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

var entities = []struct{ from, to string }{
	{"&nbsp;", " "},
	{"&amp;", "&"},
	{"&lt;", "<"},
	{"&gt;", ">"},
	{"&#39;", "'"},
	{"&quot;", `"`},
}

// StripTags removes markup from an HTML fragment, decodes the handful
// of entities the portal actually emits and collapses whitespace.
func StripTags(fragment string) string {
	if fragment == "" {
		return ""
	}
	s := tagRegex.ReplaceAllString(fragment, " ")
	for _, e := range entities {
		s = replaceFold(s, e.from, e.to)
	}
	s = whitespaceRegex.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func replaceFold(s, from, to string) string {
	var out strings.Builder
	for {
		i := indexFold(s, from)
		if i < 0 {
			out.WriteString(s)
			return out.String()
		}
		out.WriteString(s[:i])
		out.WriteString(to)
		s = s[i+len(from):]
	}
}

func indexFold(s, substr string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(substr))
}

var (
	rowRegex  = regexp.MustCompile(`(?is)<tr[^>]*>(.*?)</tr>`)
	cellRegex = regexp.MustCompile(`(?is)<td[^>]*>(.*?)</td>`)
)

// Rows returns the inner HTML of every <tr> in the fragment. The
// portal's markup is not well formed, so this is a tolerant scan
// rather than a DOM walk.
func Rows(fragment string) []string {
	var rows []string
	for _, m := range rowRegex.FindAllStringSubmatch(fragment, -1) {
		rows = append(rows, m[1])
	}
	return rows
}

// RowsMatching returns the inner HTML of every <tr> whose opening tag
// matches the given pattern.
func RowsMatching(fragment string, openTag *regexp.Regexp) []string {
	var rows []string
	for _, m := range openTag.FindAllStringSubmatch(fragment, -1) {
		rows = append(rows, m[1])
	}
	return rows
}

// Cells returns the raw inner HTML of every <td> in a row fragment.
// Field assignment is positional throughout the scrapers.
func Cells(row string) []string {
	var cells []string
	for _, m := range cellRegex.FindAllStringSubmatch(row, -1) {
		cells = append(cells, m[1])
	}
	return cells
}

// CellsText is Cells with StripTags applied to each cell.
func CellsText(row string) []string {
	raw := Cells(row)
	out := make([]string, len(raw))
	for i, c := range raw {
		out[i] = StripTags(c)
	}
	return out
}
