// internal/page/css/parser.go
package css

import (
	"fmt"
	"strings"
)

// Property represents a CSS property (e.g., "position"). Parsed properties
// are lower case.
type Property string

// Value represents a CSS value (e.g., "fixed").
type Value string

// Declaration is a key-value pair (e.g., position: fixed).
type Declaration struct {
	Property  Property
	Value     Value
	Important bool
}

// Rule applies its declarations to every element matched by one of its selectors.
type Rule struct {
	Selectors    SelectorGroup
	Declarations []Declaration
}

// StyleSheet is the parsed content of one <style> block.
type StyleSheet struct {
	Rules []Rule
}

// SelectorGroup is a comma-separated list of selectors (e.g., "amp-ad, .sticky > amp-img").
type SelectorGroup []ComplexSelector

// ComplexSelector is a sequence of compound selectors joined by combinators (e.g., "div > amp-img").
type ComplexSelector struct {
	Selectors []SimpleSelectorWithCombinator
}

// SimpleSelectorWithCombinator pairs a compound selector with the combinator
// that links it to the selector on its left.
type SimpleSelectorWithCombinator struct {
	Combinator     Combinator
	SimpleSelector SimpleSelector
}

// SimpleSelector is a run of tag, ID, class and attribute selectors without
// combinators, e.g. "amp-ad.sticky[data-slot]".
type SimpleSelector struct {
	TagName    string
	ID         string
	Classes    []string
	Attributes []AttributeSelector
}

// AttributeSelector represents `[name]` or `[name op "value"]`.
type AttributeSelector struct {
	Name     string
	Operator string // "", "=", "~=", "|=", "^=", "$=", "*="
	Value    string
}

// Combinator defines the relationship between two compound selectors.
type Combinator int

const (
	CombinatorNone            Combinator = iota // first selector
	CombinatorDescendant                        // space
	CombinatorChild                             // >
	CombinatorAdjacentSibling                   // +
	CombinatorGeneralSibling                    // ~
)

// Specificity is the (ids, classes, tags) triple of a selector.
type Specificity struct{ A, B, C int }

// Less orders specificities lexicographically.
func (s Specificity) Less(o Specificity) bool {
	if s.A != o.A {
		return s.A < o.A
	}
	if s.B != o.B {
		return s.B < o.B
	}
	return s.C < o.C
}

// CalculateSpecificity sums the specificity of every compound selector in cs.
func (cs ComplexSelector) CalculateSpecificity() Specificity {
	var total Specificity
	for _, s := range cs.Selectors {
		total.A += s.SimpleSelector.ids()
		total.B += s.SimpleSelector.classes()
		total.C += s.SimpleSelector.tags()
	}
	return total
}

func (s SimpleSelector) ids() int {
	if s.ID != "" {
		return 1
	}
	return 0
}

// Attribute selectors weigh the same as classes.
func (s SimpleSelector) classes() int { return len(s.Classes) + len(s.Attributes) }

func (s SimpleSelector) tags() int {
	if s.TagName != "" && s.TagName != "*" {
		return 1
	}
	return 0
}

// IsValid checks if the selector has at least one component.
func (s SimpleSelector) IsValid() bool {
	return s.TagName != "" || s.ID != "" || len(s.Classes) > 0 || len(s.Attributes) > 0
}

// Parser holds the state of the CSS parser. It covers what the runtime needs
// to answer display and geometry questions: comments, skipped at-rules,
// selector lists with all four combinators, attribute selectors and
// declaration blocks. Rules whose selectors use pseudo-classes or
// pseudo-elements are dropped rather than over-matched.
type Parser struct {
	input string
	pos   int
}

func NewParser(input string) *Parser {
	return &Parser{input: input}
}

// Parse analyzes the input and builds a StyleSheet. Malformed rules are skipped.
func (p *Parser) Parse() StyleSheet {
	var rules []Rule
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		if p.currentChar() == '@' {
			p.skipAtRule()
			continue
		}

		group := p.parseSelectorGroup()
		p.skipTo('{')
		if p.eof() {
			break
		}
		p.consumeChar() // '{'
		declarations := p.parseDeclarationList(true)
		if len(group) > 0 && len(declarations) > 0 {
			rules = append(rules, Rule{Selectors: group, Declarations: declarations})
		}
	}
	return StyleSheet{Rules: rules}
}

// ParseInline parses the value of a style attribute.
func ParseInline(style string) []Declaration {
	return NewParser(style).parseDeclarationList(false)
}

// parseSelectorGroup parses a comma-separated list of complex selectors and
// stops at the opening brace. Selectors that fail to parse are dropped.
func (p *Parser) parseSelectorGroup() SelectorGroup {
	var group SelectorGroup
	for {
		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' {
			return group
		}
		if complex, ok := p.parseComplexSelector(); ok {
			group = append(group, complex)
		}
		if !p.eof() && p.currentChar() == ',' {
			p.consumeChar()
		}
	}
}

// parseComplexSelector parses one selector up to ',' or '{'. It reports false
// for dangling combinators and unsupported syntax, after skipping past the
// selector.
func (p *Parser) parseComplexSelector() (ComplexSelector, bool) {
	var complexSelector ComplexSelector
	combinator := CombinatorNone

	for {
		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' || p.currentChar() == ',' {
			break
		}

		simple, err := p.parseSimpleSelector()
		if err != nil {
			p.skipTo(',', '{')
			return ComplexSelector{}, false
		}
		complexSelector.Selectors = append(complexSelector.Selectors, SimpleSelectorWithCombinator{
			Combinator:     combinator,
			SimpleSelector: simple,
		})
		combinator = CombinatorNone

		p.consumeWhitespace()
		if p.eof() || p.currentChar() == '{' || p.currentChar() == ',' {
			break
		}
		switch p.currentChar() {
		case '>':
			combinator = CombinatorChild
			p.consumeChar()
		case '+':
			combinator = CombinatorAdjacentSibling
			p.consumeChar()
		case '~':
			combinator = CombinatorGeneralSibling
			p.consumeChar()
		default:
			combinator = CombinatorDescendant
		}
	}
	if len(complexSelector.Selectors) == 0 || combinator != CombinatorNone {
		return ComplexSelector{}, false
	}
	return complexSelector, true
}

// parseSimpleSelector parses a single compound selector (e.g., amp-img#hero.wide).
func (p *Parser) parseSimpleSelector() (SimpleSelector, error) {
	selector := SimpleSelector{}

	if ch := p.currentChar(); ch == '*' {
		p.consumeChar()
		selector.TagName = "*"
	} else if isValidIdentifierStart(ch) {
		selector.TagName = strings.ToLower(p.parseIdentifier())
	}

	for !p.eof() {
		switch ch := p.currentChar(); ch {
		case '#':
			p.consumeChar()
			selector.ID = p.parseIdentifier()
		case '.':
			p.consumeChar()
			selector.Classes = append(selector.Classes, p.parseIdentifier())
		case '[':
			p.consumeChar()
			attr, err := p.parseAttributeSelector()
			if err != nil {
				return SimpleSelector{}, err
			}
			selector.Attributes = append(selector.Attributes, attr)
		case ':':
			return SimpleSelector{}, fmt.Errorf("unsupported pseudo selector at offset %d", p.pos)
		default:
			if !selector.IsValid() {
				return SimpleSelector{}, fmt.Errorf("invalid simple selector at offset %d", p.pos)
			}
			return selector, nil
		}
	}
	if !selector.IsValid() {
		return SimpleSelector{}, fmt.Errorf("invalid simple selector at offset %d", p.pos)
	}
	return selector, nil
}

// parseAttributeSelector parses the contents of `[...]`, consuming the closing bracket.
func (p *Parser) parseAttributeSelector() (AttributeSelector, error) {
	p.consumeWhitespace()
	name := strings.ToLower(p.parseIdentifier())
	p.consumeWhitespace()

	if name == "" || p.eof() {
		return AttributeSelector{}, fmt.Errorf("malformed attribute selector")
	}
	if p.currentChar() == ']' {
		p.consumeChar()
		return AttributeSelector{Name: name}, nil
	}

	var operator strings.Builder
	if ch := p.currentChar(); ch != '=' {
		operator.WriteByte(p.consumeChar())
		if p.currentChar() != '=' {
			return AttributeSelector{}, fmt.Errorf("unknown attribute operator %q", ch)
		}
	}
	operator.WriteByte(p.consumeChar())
	p.consumeWhitespace()

	var value string
	if ch := p.currentChar(); ch == '"' || ch == '\'' {
		p.consumeChar()
		start := p.pos
		for !p.eof() && p.currentChar() != ch {
			p.pos++
		}
		value = p.input[start:p.pos]
		p.consumeChar()
	} else {
		value = p.parseIdentifier()
	}
	p.consumeWhitespace()

	if p.eof() || p.currentChar() != ']' {
		return AttributeSelector{}, fmt.Errorf("expected ']' to close attribute selector")
	}
	p.consumeChar()

	switch op := operator.String(); op {
	case "=", "~=", "|=", "^=", "$=", "*=":
		return AttributeSelector{Name: name, Operator: op, Value: value}, nil
	default:
		return AttributeSelector{}, fmt.Errorf("unknown attribute operator %q", op)
	}
}

// parseDeclarationList reads declarations up to the closing brace, which it
// consumes, or to the end of input for inline styles.
func (p *Parser) parseDeclarationList(inBlock bool) []Declaration {
	var declarations []Declaration
	for {
		p.consumeWhitespace()
		if p.eof() {
			break
		}
		if p.currentChar() == '}' {
			if inBlock {
				p.consumeChar()
				break
			}
			p.consumeChar()
			continue
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}

		property, value, important := p.parseDeclaration()
		if property != "" && value != "" {
			declarations = append(declarations, Declaration{
				Property:  Property(strings.ToLower(property)),
				Value:     Value(value),
				Important: important,
			})
		}
	}
	return declarations
}

// parseDeclaration parses a single 'property: value;' pair.
func (p *Parser) parseDeclaration() (prop, val string, important bool) {
	if !isValidIdentifierStart(p.currentChar()) {
		p.skipDeclaration()
		return "", "", false
	}
	prop = p.parseIdentifier()
	p.consumeWhitespace()

	if p.eof() || p.currentChar() != ':' {
		p.skipDeclaration()
		return "", "", false
	}
	p.consumeChar()
	p.consumeWhitespace()

	val = p.parseValue()
	if strings.HasSuffix(strings.ToLower(val), "!important") {
		important = true
		val = strings.TrimSpace(val[:len(val)-len("!important")])
	}

	p.consumeWhitespace()
	if !p.eof() && p.currentChar() == ';' {
		p.consumeChar()
	}
	return prop, val, important
}

func (p *Parser) skipDeclaration() {
	p.skipTo(';', '}')
	if !p.eof() && p.currentChar() == ';' {
		p.consumeChar()
	}
}

// parseValue reads a value until ';' or '}', stepping over strings and
// parenthesised arguments so url(a;b) stays whole.
func (p *Parser) parseValue() string {
	start := p.pos
	for !p.eof() {
		ch := p.currentChar()
		if ch == ';' || ch == '}' {
			break
		}
		if p.startsWith("/*") {
			p.skipComment()
			continue
		}
		if ch == '"' || ch == '\'' {
			p.skipQuotedString(ch)
			continue
		}
		if ch == '(' {
			p.consumeChar()
			p.skipBlock('(', ')')
			continue
		}
		p.pos++
	}
	return strings.TrimSpace(stripComments(p.input[start:p.pos]))
}

// -- Lexing helpers --

func (p *Parser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *Parser) currentChar() byte {
	if p.eof() {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) consumeChar() byte {
	ch := p.currentChar()
	if !p.eof() {
		p.pos++
	}
	return ch
}

func (p *Parser) consumeWhitespace() {
	for !p.eof() && isWhitespace(p.currentChar()) {
		p.pos++
	}
}

func (p *Parser) startsWith(s string) bool {
	return strings.HasPrefix(p.input[p.pos:], s)
}

func (p *Parser) skipComment() {
	p.pos += 2
	if end := strings.Index(p.input[p.pos:], "*/"); end >= 0 {
		p.pos += end + 2
	} else {
		p.pos = len(p.input)
	}
}

func (p *Parser) skipTo(targets ...byte) {
	for !p.eof() {
		ch := p.currentChar()
		for _, target := range targets {
			if ch == target {
				return
			}
		}
		p.pos++
	}
}

// skipBlock consumes up to and including the close that balances an open
// already consumed by the caller.
func (p *Parser) skipBlock(open, close byte) {
	depth := 1
	for !p.eof() {
		switch p.consumeChar() {
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return
			}
		}
	}
}

func (p *Parser) skipQuotedString(quote byte) {
	p.consumeChar()
	for !p.eof() {
		ch := p.consumeChar()
		if ch == '\\' {
			p.consumeChar()
		} else if ch == quote {
			return
		}
	}
}

// skipAtRule skips statement at-rules (@import ...;) and block at-rules
// (@media ... { ... }) including nested blocks.
func (p *Parser) skipAtRule() {
	p.consumeChar() // '@'
	for !p.eof() {
		switch p.currentChar() {
		case '{':
			p.consumeChar()
			p.skipBlock('{', '}')
			return
		case ';':
			p.consumeChar()
			return
		}
		p.pos++
	}
}

func (p *Parser) parseIdentifier() string {
	start := p.pos
	for !p.eof() && isValidIdentifierChar(p.currentChar()) {
		p.pos++
	}
	return p.input[start:p.pos]
}

func stripComments(s string) string {
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			return s
		}
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			return s[:start]
		}
		s = s[:start] + s[start+2+end+2:]
	}
}

func isWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' || ch == '\f'
}

func isValidIdentifierStart(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_' || ch == '-'
}

func isValidIdentifierChar(ch byte) bool {
	return isValidIdentifierStart(ch) || (ch >= '0' && ch <= '9')
}
