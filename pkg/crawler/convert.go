package crawler

import (
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Converter sanitises HTML and renders it as markdown.
type Converter struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewConverter creates a Converter with a UGC sanitising policy.
func NewConverter() *Converter {
	return &Converter{
		policy: bluemonday.UGCPolicy(),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Markdown converts raw HTML from pageURL. Relative links are resolved
// against the page's domain.
func (c *Converter) Markdown(rawHTML, pageURL string) (string, error) {
	clean := c.policy.Sanitize(rawHTML)
	out, err := c.md.ConvertString(clean, converter.WithDomain(pageURL))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Metadata is page-level information taken from <head>.
type Metadata struct {
	Title        string
	Description  string
	CanonicalURL string
}

// ExtractMetadata reads the title, meta description and canonical link.
func ExtractMetadata(doc *html.Node, base *url.URL) Metadata {
	var m Metadata
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Title:
				if m.Title == "" {
					m.Title = strings.TrimSpace(textContent(n))
				}
			case atom.Meta:
				if strings.EqualFold(attr(n, "name"), "description") && m.Description == "" {
					m.Description = strings.TrimSpace(attr(n, "content"))
				}
			case atom.Link:
				if hasToken(attr(n, "rel"), "canonical") && m.CanonicalURL == "" {
					if u, ok := resolve(base, attr(n, "href")); ok {
						m.CanonicalURL = u.String()
					}
				}
			case atom.Svg:
				// <title> inside inline SVG is not the page title.
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return m
}

// ExtractLinks returns absolute http(s) links from <a href>, without
// fragments, de-duplicated in document order.
func ExtractLinks(doc *html.Node, base *url.URL) []string {
	seen := make(map[string]bool)
	var links []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			href := strings.TrimSpace(attr(n, "href"))
			if href != "" && !strings.HasPrefix(href, "#") {
				if u, ok := resolve(base, href); ok && !seen[u.String()] {
					seen[u.String()] = true
					links = append(links, u.String())
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func resolve(base *url.URL, ref string) (*url.URL, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" && u.Opaque == "" {
		u.Path = "/"
	}
	return u, true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasToken(list, token string) bool {
	for _, f := range strings.Fields(list) {
		if strings.EqualFold(f, token) {
			return true
		}
	}
	return false
}

func textContent(n *html.Node) string {
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
	return sb.String()
}
