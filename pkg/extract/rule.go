package extract

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/xpath"

	"rule-crawler/pkg/utils"
)

// Kind selects how a rule's expression is evaluated
type Kind int

const (
	KindCSS Kind = iota
	KindXPath
	KindRegex
)

func (k Kind) String() string {
	switch k {
	case KindCSS:
		return "css"
	case KindXPath:
		return "xpath"
	case KindRegex:
		return "re"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Expression prefixes; an unprefixed expression is a CSS selector
const (
	prefixCSS   = "css:"
	prefixXPath = "xpath:"
	prefixRegex = "re:"
)

// Rule is one compiled extraction rule. Only the matcher for Kind is set.
type Rule struct {
	Field      string
	Kind       Kind
	Expression string // Without the kind prefix

	css   cascadia.Selector
	xpath *sync.Pool // of *xpath.Expr; evaluation mutates the compiled query
	re    *regexp.Regexp
}

// ParseRule splits the kind prefix off raw and compiles the expression.
// A malformed expression is a configuration error.
func ParseRule(field, raw string) (Rule, error) {
	rule := Rule{Field: field}
	switch {
	case strings.HasPrefix(raw, prefixCSS):
		rule.Kind, rule.Expression = KindCSS, raw[len(prefixCSS):]
	case strings.HasPrefix(raw, prefixXPath):
		rule.Kind, rule.Expression = KindXPath, raw[len(prefixXPath):]
	case strings.HasPrefix(raw, prefixRegex):
		rule.Kind, rule.Expression = KindRegex, raw[len(prefixRegex):]
	default:
		rule.Kind, rule.Expression = KindCSS, raw
	}
	rule.Expression = strings.TrimSpace(rule.Expression)
	if rule.Expression == "" {
		return Rule{}, utils.WrapErrorf(utils.ErrConfigValidation, "field %q: empty %s expression", field, rule.Kind)
	}

	var err error
	switch rule.Kind {
	case KindCSS:
		rule.css, err = cascadia.Compile(rule.Expression)
	case KindXPath:
		var expr *xpath.Expr
		if expr, err = xpath.Compile(rule.Expression); err == nil {
			rule.xpath = newXPathPool(rule.Expression, expr)
		}
	case KindRegex:
		rule.re, err = regexp.Compile(rule.Expression)
	}
	if err != nil {
		return Rule{}, utils.WrapErrorf(utils.ErrConfigValidation, "field %q: invalid %s expression '%s': %v", field, rule.Kind, rule.Expression, err)
	}
	return rule, nil
}

// newXPathPool hands out one compiled copy of expr per concurrent evaluation.
// first is the copy compiled during validation.
func newXPathPool(expression string, first *xpath.Expr) *sync.Pool {
	pool := &sync.Pool{
		New: func() any {
			return xpath.MustCompile(expression)
		},
	}
	pool.Put(first)
	return pool
}

// String renders the rule in its configuration form
func (r Rule) String() string {
	return r.Kind.String() + ":" + r.Expression
}
