package pagedata

import (
	"strings"

	"golang.org/x/net/html"
)

const (
	// maxTextRunes bounds the visible-text excerpt sent with each request.
	maxTextRunes = 4000
	// maxElements bounds the interactive-element list.
	maxElements = 50
)

// Element is one interactive control found on the page.
type Element struct {
	Tag   string `json:"tag"`
	Text  string `json:"text,omitempty"`
	Href  string `json:"href,omitempty"`
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

// Snapshot is the serializable page context sent as conversational
// grounding. Collecting one never mutates anything.
type Snapshot struct {
	URL      string    `json:"url"`
	Title    string    `json:"title,omitempty"`
	Text     string    `json:"text,omitempty"`
	Elements []Element `json:"elements,omitempty"`
}

// Collect parses an HTML document and snapshots its URL, title, visible
// text, and interactive elements. Unparseable markup yields a snapshot with
// just the URL; collection never fails.
func Collect(pageURL, htmlSource string) Snapshot {
	snap := Snapshot{URL: pageURL}
	doc, err := html.Parse(strings.NewReader(htmlSource))
	if err != nil {
		return snap
	}

	var textParts []string
	var walk func(n *html.Node, hidden bool)
	walk = func(n *html.Node, hidden bool) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "template", "head":
				hidden = true
			case "title":
				if snap.Title == "" {
					snap.Title = nodeText(n)
				}
				hidden = true
			case "a", "button", "input", "select", "textarea":
				if len(snap.Elements) < maxElements {
					snap.Elements = append(snap.Elements, elementFrom(n))
				}
			}
			if attr(n, "hidden") != "" || strings.Contains(attr(n, "style"), "display:none") {
				hidden = true
			}
		}
		if n.Type == html.TextNode && !hidden {
			if t := strings.TrimSpace(n.Data); t != "" {
				textParts = append(textParts, t)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, hidden)
		}
	}
	walk(doc, false)

	text := strings.Join(textParts, " ")
	if runes := []rune(text); len(runes) > maxTextRunes {
		text = string(runes[:maxTextRunes])
	}
	snap.Text = text
	return snap
}

func elementFrom(n *html.Node) Element {
	el := Element{Tag: n.Data}
	switch n.Data {
	case "a":
		el.Href = attr(n, "href")
		el.Text = nodeText(n)
	case "button":
		el.Text = nodeText(n)
	case "input":
		el.Name = attr(n, "name")
		el.Value = attr(n, "placeholder")
		if el.Value == "" {
			el.Value = attr(n, "value")
		}
	case "select", "textarea":
		el.Name = attr(n, "name")
	}
	return el
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
