package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// Extract pulls the title and readable text out of an HTML document.
// Non-HTML input degrades gracefully: the tokenizer treats it as one text
// run and we return it as-is.
func Extract(body []byte) (title, content string) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", collapseWhitespace(string(body))
	}
	var text strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head":
				if n.Data == "head" {
					title = findTitle(n)
				}
				return
			}
		case html.TextNode:
			trimmed := strings.TrimSpace(n.Data)
			if trimmed != "" {
				text.WriteString(trimmed)
				text.WriteByte(' ')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title, collapseWhitespace(text.String())
}

func findTitle(head *html.Node) string {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "title" && c.FirstChild != nil {
			return strings.TrimSpace(c.FirstChild.Data)
		}
	}
	return ""
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
