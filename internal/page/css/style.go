// internal/page/css/style.go
package css

import (
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// DefaultUserAgentCSS hides the elements a browser never renders so that
// their subtrees measure as empty.
const DefaultUserAgentCSS = `
head, script, style, template, noscript { display: none; }
[hidden] { display: none; }
`

// Engine resolves the cascade for single elements. It is immutable once
// built and safe for concurrent use.
type Engine struct {
	userAgentSheets []StyleSheet
	authorSheets    []StyleSheet
}

// NewEngine creates an engine over the default user agent sheet and the
// given author sheets, in document order.
func NewEngine(authorSheets ...StyleSheet) *Engine {
	return &Engine{
		userAgentSheets: []StyleSheet{NewParser(DefaultUserAgentCSS).Parse()},
		authorSheets:    authorSheets,
	}
}

type StyleOrigin int

const (
	OriginUserAgent StyleOrigin = iota
	OriginAuthor
	OriginInline
)

type DeclarationWithContext struct {
	Declaration Declaration
	Specificity Specificity
	Origin      StyleOrigin
	Order       int
}

// CalculateStyles returns the cascaded value of every property that applies
// to node, keyed by lower case property name. Non-element nodes get nil.
func (se *Engine) CalculateStyles(node *html.Node) map[string]string {
	if node == nil || node.Type != html.ElementNode {
		return nil
	}
	var declarations []DeclarationWithContext
	order := 0

	processSheets := func(sheets []StyleSheet, origin StyleOrigin) {
		for _, sheet := range sheets {
			for _, rule := range sheet.Rules {
				specificity, ok := se.matches(node, rule.Selectors)
				if !ok {
					continue
				}
				for _, decl := range rule.Declarations {
					declarations = append(declarations, DeclarationWithContext{
						Declaration: decl,
						Specificity: specificity,
						Origin:      origin,
						Order:       order,
					})
					order++
				}
			}
		}
	}

	processSheets(se.userAgentSheets, OriginUserAgent)
	processSheets(se.authorSheets, OriginAuthor)

	for _, attr := range node.Attr {
		if !strings.EqualFold(attr.Key, "style") {
			continue
		}
		for _, decl := range ParseInline(attr.Val) {
			declarations = append(declarations, DeclarationWithContext{
				Declaration: decl,
				Specificity: Specificity{A: 1},
				Origin:      OriginInline,
				Order:       order,
			})
			order++
		}
	}

	sort.SliceStable(declarations, func(i, j int) bool {
		d1, d2 := declarations[i], declarations[j]
		if p1, p2 := calculateCascadePriority(d1), calculateCascadePriority(d2); p1 != p2 {
			return p1 < p2
		}
		if d1.Specificity != d2.Specificity {
			return d1.Specificity.Less(d2.Specificity)
		}
		return d1.Order < d2.Order
	})

	styles := make(map[string]string, len(declarations))
	for _, d := range declarations {
		styles[string(d.Declaration.Property)] = string(d.Declaration.Value)
	}
	return styles
}

// calculateCascadePriority ranks origin and importance. Inline important
// beats author important.
func calculateCascadePriority(d DeclarationWithContext) int {
	important := d.Declaration.Important
	switch d.Origin {
	case OriginUserAgent:
		if important {
			return 6
		}
		return 1
	case OriginAuthor:
		if important {
			return 4
		}
		return 2
	case OriginInline:
		if important {
			return 5
		}
		return 3
	}
	return 0
}

// matches returns the highest specificity among the selectors in group that
// match node.
func (se *Engine) matches(node *html.Node, group SelectorGroup) (Specificity, bool) {
	var best Specificity
	found := false
	for _, complexSelector := range group {
		last := len(complexSelector.Selectors) - 1
		if last < 0 || !se.recursiveMatch(node, complexSelector, last) {
			continue
		}
		if s := complexSelector.CalculateSpecificity(); !found || best.Less(s) {
			best = s
		}
		found = true
	}
	return best, found
}

// recursiveMatch matches right to left, following each combinator.
func (se *Engine) recursiveMatch(node *html.Node, complexSelector ComplexSelector, index int) bool {
	if node == nil || index < 0 || node.Type != html.ElementNode {
		return false
	}
	current := complexSelector.Selectors[index]
	if !se.matchesSimple(node, current.SimpleSelector) {
		return false
	}
	if index == 0 {
		return true
	}
	next := index - 1
	switch current.Combinator {
	case CombinatorDescendant:
		for parent := node.Parent; parent != nil; parent = parent.Parent {
			if se.recursiveMatch(parent, complexSelector, next) {
				return true
			}
		}
		return false
	case CombinatorChild:
		return se.recursiveMatch(node.Parent, complexSelector, next)
	case CombinatorAdjacentSibling:
		return se.recursiveMatch(previousElementSibling(node), complexSelector, next)
	case CombinatorGeneralSibling:
		for sibling := previousElementSibling(node); sibling != nil; sibling = previousElementSibling(sibling) {
			if se.recursiveMatch(sibling, complexSelector, next) {
				return true
			}
		}
		return false
	}
	return false
}

func previousElementSibling(node *html.Node) *html.Node {
	for sibling := node.PrevSibling; sibling != nil; sibling = sibling.PrevSibling {
		if sibling.Type == html.ElementNode {
			return sibling
		}
	}
	return nil
}

func (se *Engine) matchesSimple(node *html.Node, selector SimpleSelector) bool {
	if selector.TagName != "" && selector.TagName != "*" && !strings.EqualFold(node.Data, selector.TagName) {
		return false
	}
	if selector.ID != "" {
		if id, ok := attrValue(node, "id"); !ok || id != selector.ID {
			return false
		}
	}
	if len(selector.Classes) > 0 {
		class, _ := attrValue(node, "class")
		nodeClasses := strings.Fields(class)
		for _, required := range selector.Classes {
			if !containsWord(nodeClasses, required) {
				return false
			}
		}
	}
	for _, attrSel := range selector.Attributes {
		if !matchesAttribute(node, attrSel) {
			return false
		}
	}
	return true
}

func matchesAttribute(node *html.Node, sel AttributeSelector) bool {
	actual, found := attrValue(node, sel.Name)
	if !found {
		return false
	}
	switch sel.Operator {
	case "":
		return true
	case "=":
		return actual == sel.Value
	case "~=":
		return containsWord(strings.Fields(actual), sel.Value)
	case "|=":
		return actual == sel.Value || strings.HasPrefix(actual, sel.Value+"-")
	case "^=":
		return sel.Value != "" && strings.HasPrefix(actual, sel.Value)
	case "$=":
		return sel.Value != "" && strings.HasSuffix(actual, sel.Value)
	case "*=":
		return sel.Value != "" && strings.Contains(actual, sel.Value)
	}
	return false
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func containsWord(words []string, want string) bool {
	for _, w := range words {
		if w == want {
			return true
		}
	}
	return false
}
