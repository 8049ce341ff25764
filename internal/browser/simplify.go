package browser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxPageText bounds the page text sent to the model
const maxPageText = 8000

// SimplifyHTML strips a document down to structure and test-relevant
// attributes. It is sent to the model when an extraction asks for the DOM.
func SimplifyHTML(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	simplifyNode(doc)
	cleanupNode(doc)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return clip(buf.String(), maxPageText), nil
}

// PageText returns the visible text of a document, one block per line
func PageText(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("script, style, noscript, template, svg, [hidden], [aria-hidden='true']").Remove()
	doc.Find("[style*='display:none'], [style*='display: none']").Remove()

	var lines []string
	seen := map[string]bool{}
	doc.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, label, button, a, option, span, div").Each(func(_ int, s *goquery.Selection) {
		// only leaf-ish blocks, so nested containers don't repeat their children
		if s.Children().Length() > 0 && goquery.NodeName(s) == "div" {
			return
		}
		text := strings.Join(strings.Fields(s.Text()), " ")
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		lines = append(lines, text)
	})
	for _, input := range []string{"input", "textarea"} {
		doc.Find(input).Each(func(_ int, s *goquery.Selection) {
			label := attrOr(s, "aria-label", attrOr(s, "placeholder", attrOr(s, "name", "")))
			value, _ := s.Attr("value")
			if label == "" && value == "" {
				return
			}
			lines = append(lines, fmt.Sprintf("[%s %s] %s", input, label, value))
		})
	}
	return clip(strings.Join(lines, "\n"), maxPageText), nil
}

func attrOr(s *goquery.Selection, name, def string) string {
	if v, ok := s.Attr(name); ok && v != "" {
		return v
	}
	return def
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "\n..."
}

func simplifyNode(n *html.Node) {
	var toRemove []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		simplifyNode(c)
		if shouldRemoveNode(c) {
			toRemove = append(toRemove, c)
		}
	}
	for _, node := range toRemove {
		n.RemoveChild(node)
	}
	if n.Type == html.ElementNode {
		simplifyAttributes(n)
	}
}

func shouldRemoveNode(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode:
		return true
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Meta, atom.Link, atom.Noscript, atom.Template:
			return true
		case atom.Svg:
			n.Data = "svg"
			n.Attr = nil
			for n.FirstChild != nil {
				n.RemoveChild(n.FirstChild)
			}
			return false
		}
		for _, attr := range n.Attr {
			if attr.Key == "hidden" {
				return true
			}
			if attr.Key == "style" && strings.Contains(strings.ReplaceAll(attr.Val, " ", ""), "display:none") {
				return true
			}
		}
	}
	return false
}

var relevantAttrs = map[string]bool{
	"id":          true,
	"class":       true,
	"role":        true,
	"type":        true,
	"name":        true,
	"placeholder": true,
	"href":        true,
	"value":       true,
	"alt":         true,
	"title":       true,
	"checked":     true,
	"selected":    true,
	"disabled":    true,
	"required":    true,
}

func simplifyAttributes(n *html.Node) {
	var keep []html.Attribute
	for _, attr := range n.Attr {
		switch {
		case strings.HasPrefix(attr.Key, "data-test"), attr.Key == "data-cy", strings.HasPrefix(attr.Key, "aria-"):
		case relevantAttrs[attr.Key]:
		default:
			continue
		}
		if attr.Key == "class" {
			if classes := strings.Fields(attr.Val); len(classes) > 3 {
				attr.Val = strings.Join(classes[:3], " ")
			}
		}
		if (attr.Key == "href" || attr.Key == "value") && len(attr.Val) > 100 {
			attr.Val = attr.Val[:100] + "..."
		}
		keep = append(keep, attr)
	}
	n.Attr = keep
}

func cleanupNode(n *html.Node) {
	var toRemove []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		cleanupNode(c)
		if c.Type == html.TextNode {
			c.Data = strings.Join(strings.Fields(c.Data), " ")
			if c.Data == "" {
				toRemove = append(toRemove, c)
			}
		}
	}
	for _, node := range toRemove {
		n.RemoveChild(node)
	}
}
