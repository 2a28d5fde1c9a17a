package webpage

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLines = regexp.MustCompile(`\n{3,}`)

// noise lists elements dropped before conversion when the page has no main
// or article element.
var noise = map[string]bool{
	"nav": true, "header": true, "footer": true, "aside": true, "script": true,
	"style": true, "noscript": true, "iframe": true, "form": true, "button": true,
}

// Converter turns HTML pages into markdown focused on the main content.
type Converter struct {
	md *md.Converter
}

// NewConverter returns a Converter with GitHub flavored markdown output.
func NewConverter() *Converter {
	c := md.NewConverter("", true, nil)
	c.Use(plugin.GitHubFlavored())
	return &Converter{md: c}
}

// Convert returns the page title and its main content as markdown.
func (c *Converter) Convert(page []byte) (title, markdown string, err error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return "", "", err
	}
	if t := find(doc, "title"); t != nil && t.FirstChild != nil {
		title = strings.TrimSpace(t.FirstChild.Data)
	}
	root := find(doc, "main")
	if root == nil {
		root = find(doc, "article")
	}
	if root == nil {
		strip(doc)
		root = find(doc, "body")
	}
	if root == nil {
		root = doc
	}
	var b strings.Builder
	if err := html.Render(&b, root); err != nil {
		return "", "", err
	}
	markdown, err = c.md.ConvertString(b.String())
	if err != nil {
		return "", "", err
	}
	return title, clean(markdown), nil
}

func find(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func strip(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && noise[c.Data] {
			n.RemoveChild(c)
		} else {
			strip(c)
		}
		c = next
	}
}

func clean(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(excessiveLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}
