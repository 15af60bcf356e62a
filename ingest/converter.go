package ingest

import (
	"bytes"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"golang.org/x/net/html"
)

var excessiveLinesRe = regexp.MustCompile(`\n{3,}`)

// ConvertResult is an HTML document rendered as markdown
type ConvertResult struct {
	Title    string
	Markdown string
}

// Converter renders HTML stewards' bulletins as markdown
type Converter struct {
	converter *md.Converter
}

// NewConverter creates a GitHub-flavored HTML to markdown converter
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	converter.Remove("head", "script", "style", "noscript", "nav", "footer", "iframe", "form")

	return &Converter{converter: converter}
}

// Convert transforms HTML content to markdown
func (c *Converter) Convert(content []byte) (*ConvertResult, error) {
	markdown, err := c.converter.ConvertBytes(content)
	if err != nil {
		return nil, err
	}

	text := strings.TrimSpace(excessiveLinesRe.ReplaceAllString(string(markdown), "\n\n"))

	return &ConvertResult{
		Title:    extractHTMLTitle(content),
		Markdown: text,
	}, nil
}

// extractHTMLTitle returns the text of the first <title> element
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return title
}
