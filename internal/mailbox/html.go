package mailbox

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText flattens an HTML body into the plain text the extractor and the
// flag rules consume. Script/style subtrees are dropped; block elements
// become newlines.
func HTMLToText(content string) string {
	doc, err := html.Parse(strings.NewReader(content))
	if err != nil {
		// Better to feed the raw markup to the extractor than nothing.
		return content
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "style", "script", "noscript", "head", "iframe":
				return
			}
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(text)
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "br", "tr", "li", "h1", "h2", "h3", "h4":
				b.WriteString("\n")
			}
		}
	}
	walk(doc)

	// Collapse runs of blank lines left by nested blocks.
	lines := strings.Split(b.String(), "\n")
	var out []string
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
