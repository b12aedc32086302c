package template

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// droppedTags are elements removed wholesale, children included. Styling
// elements stay so the rendered body keeps its formatting.
var droppedTags = map[string]bool{
	"script": true,
	"iframe": true,
	"object": true,
	"embed":  true,
}

// Sanitize parses the HTML and strips active content: scripting elements,
// event-handler attributes and javascript: URLs. Inline styles, style
// elements and data: image URIs are preserved.
func Sanitize(src string) (string, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return "", err
	}

	sanitizeNode(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func sanitizeNode(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && droppedTags[c.Data] {
			n.RemoveChild(c)
		} else {
			sanitizeNode(c)
		}
		c = next
	}

	if n.Type != html.ElementNode {
		return
	}
	attrs := n.Attr[:0]
	for _, a := range n.Attr {
		key := strings.ToLower(a.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if (key == "href" || key == "src") && isJavascriptURL(a.Val) {
			continue
		}
		attrs = append(attrs, a)
	}
	n.Attr = attrs
}

func isJavascriptURL(val string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(val)), "javascript:")
}
