// internal/page/dom/dom.go
package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"github.com/xkilldash9x/pagert/internal/page/css"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document wraps a parsed HTML tree together with its author stylesheets.
// It is not a general DOM: the tree is the x/net/html node graph and callers
// mutate it with that package's API, calling RefreshStyles when <style>
// content changes.
type Document struct {
	Root *html.Node

	mu     sync.RWMutex
	styles *css.Engine
}

// Parse reads an HTML document and collects its stylesheets.
func Parse(r io.Reader) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	doc := &Document{Root: root}
	doc.RefreshStyles()
	return doc, nil
}

// ParseString is a convenience wrapper around Parse.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// RefreshStyles re-reads every <style> element in the document.
func (d *Document) RefreshStyles() {
	var sheets []css.StyleSheet
	for _, n := range htmlquery.Find(d.Root, "//style") {
		sheets = append(sheets, css.NewParser(htmlquery.InnerText(n)).Parse())
	}
	engine := css.NewEngine(sheets...)
	d.mu.Lock()
	d.styles = engine
	d.mu.Unlock()
}

// ComputedStyle returns the cascaded declarations for the node.
func (d *Document) ComputedStyle(n *html.Node) map[string]string {
	d.mu.RLock()
	engine := d.styles
	d.mu.RUnlock()
	return engine.CalculateStyles(n)
}

// Body returns the <body> element, or nil.
func (d *Document) Body() *html.Node {
	return htmlquery.FindOne(d.Root, "//body")
}

// Contains reports whether n is a node of this document.
func (d *Document) Contains(n *html.Node) bool {
	return Contains(d.Root, n)
}

// FindCustomElements returns every element whose tag name starts with prefix,
// in document order.
func (d *Document) FindCustomElements(prefix string) ([]*html.Node, error) {
	prefix = strings.ToLower(prefix)
	if strings.ContainsAny(prefix, `'"[]()`) {
		return nil, fmt.Errorf("invalid element prefix %q", prefix)
	}
	nodes, err := htmlquery.QueryAll(d.Root, fmt.Sprintf("//*[starts-with(name(), '%s')]", prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to query custom elements: %w", err)
	}
	return nodes, nil
}

// FindByID returns the element with the given id attribute, or nil.
func (d *Document) FindByID(id string) *html.Node {
	for _, n := range htmlquery.Find(d.Root, "//*[@id]") {
		if htmlquery.SelectAttr(n, "id") == id {
			return n
		}
	}
	return nil
}

// -- Tree helpers --

// TagName returns the lower-case tag name of an element node.
func TagName(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return strings.ToLower(n.Data)
}

// IsBody reports whether n is the <body> element.
func IsBody(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && (n.DataAtom == atom.Body || TagName(n) == "body")
}

// ParentElement returns the closest ancestor that is an element.
func ParentElement(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode {
			return p
		}
	}
	return nil
}

// Contains reports whether node is ancestor itself or one of its descendants.
func Contains(ancestor, node *html.Node) bool {
	if ancestor == nil || node == nil {
		return false
	}
	for n := node; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// InDocument reports whether the node is still attached to a document root.
func InDocument(n *html.Node) bool {
	if n == nil {
		return false
	}
	for p := n; p != nil; p = p.Parent {
		if p.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

// WalkDescendants calls fn for every element below n in document order. It
// does not call fn for n itself.
func WalkDescendants(n *html.Node, fn func(*html.Node)) {
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			fn(c)
		}
		WalkDescendants(c, fn)
	}
}

// Attr returns the attribute value (case-insensitive key) or "".
func Attr(n *html.Node, key string) string {
	v, _ := LookupAttr(n, key)
	return v
}

// HasAttr reports whether the attribute is present, even when empty.
func HasAttr(n *html.Node, key string) bool {
	_, ok := LookupAttr(n, key)
	return ok
}

// LookupAttr returns the attribute value and whether it was present.
func LookupAttr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func RemoveAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}
