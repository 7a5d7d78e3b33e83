package stopevent

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// ParseHTMLTable reads the first <table> of a stop-event page. The first row
// supplies the headers (<th>); later rows whose <td> count differs from the
// header count are skipped. A page without a table yields no records.
func ParseHTMLTable(r io.Reader) ([]Raw, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	table := findFirst(doc, "table")
	if table == nil {
		return nil, nil
	}

	var rows []*html.Node
	collect(table, "tr", &rows)
	if len(rows) == 0 {
		return nil, nil
	}

	header := cellTexts(rows[0], "th")
	var records []Raw
	for _, tr := range rows[1:] {
		cells := cellTexts(tr, "td")
		if len(cells) != len(header) {
			continue
		}
		m := make(map[string]string, len(header))
		for i, h := range header {
			m[h] = cells[i]
		}
		records = append(records, FromMap(m))
	}
	return records, nil
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collect(n *html.Node, tag string, out *[]*html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			*out = append(*out, c)
			continue
		}
		collect(c, tag, out)
	}
}

func cellTexts(tr *html.Node, tag string) []string {
	var cells []*html.Node
	collect(tr, tag, &cells)
	texts := make([]string, len(cells))
	for i, c := range cells {
		texts[i] = strings.TrimSpace(textOf(c))
	}
	return texts
}

func textOf(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		sb.WriteString(textOf(c))
	}
	return sb.String()
}
