package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"rule-crawler/pkg/config"
)

// Extractor applies an ordered set of rules to a page
type Extractor struct {
	rules     []Rule
	fields    []string
	needsTree bool // Any CSS or XPath rule; regex-only sets skip HTML parsing
	log       *logrus.Entry
}

// New compiles every configured rule once. Fails with a configuration error
// on the first malformed expression.
func New(rules config.ExtractionRules, log *logrus.Entry) (*Extractor, error) {
	e := &Extractor{log: log}
	for _, fr := range rules {
		rule, err := ParseRule(fr.Field, fr.Expression)
		if err != nil {
			return nil, err
		}
		e.rules = append(e.rules, rule)
		e.fields = append(e.fields, rule.Field)
		if rule.Kind != KindRegex {
			e.needsTree = true
		}
	}
	return e, nil
}

// Fields returns the configured field names in order
func (e *Extractor) Fields() []string {
	return e.fields
}

// Rules returns the compiled rules in order
func (e *Extractor) Rules() []Rule {
	return e.rules
}

// Extract evaluates every rule against page. Every configured field is present
// in the result; a rule that matches nothing, or fails while evaluating,
// yields an empty list for its field only.
func (e *Extractor) Extract(page, url string) map[string][]string {
	result := make(map[string][]string, len(e.rules))

	var root *html.Node
	if e.needsTree {
		var err error
		root, err = htmlquery.Parse(strings.NewReader(page))
		if err != nil {
			e.log.WithField("url", url).Warnf("HTML parsing failed, element rules yield nothing: %v", err)
		}
	}

	for _, rule := range e.rules {
		values, err := e.apply(rule, page, root)
		if err != nil {
			e.log.WithFields(logrus.Fields{"url": url, "field": rule.Field, "rule": rule.String()}).
				Warnf("Extraction rule failed: %v", err)
		}
		if values == nil {
			values = []string{}
		}
		result[rule.Field] = values
	}
	return result
}

// apply isolates one rule; a panic inside a selector engine is turned into an error
func (e *Extractor) apply(rule Rule, page string, root *html.Node) (values []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			values, err = nil, fmt.Errorf("panic evaluating %s rule: %v", rule.Kind, r)
		}
	}()

	switch rule.Kind {
	case KindCSS:
		if root == nil {
			return nil, nil
		}
		return selectCSS(rule, root), nil
	case KindXPath:
		if root == nil {
			return nil, nil
		}
		return evaluateXPath(rule, root)
	case KindRegex:
		return matchRegex(rule, page), nil
	}
	return nil, fmt.Errorf("unknown rule kind %v", rule.Kind)
}

// selectCSS returns the trimmed text of every matching element, in document order
func selectCSS(rule Rule, root *html.Node) []string {
	var out []string
	goquery.NewDocumentFromNode(root).FindMatcher(rule.css).Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out
}

// evaluateXPath handles both node-set and scalar expressions (count(), string(), ...).
// The borrowed expression is returned to the pool only after its result is consumed.
func evaluateXPath(rule Rule, root *html.Node) ([]string, error) {
	expr := rule.xpath.Get().(*xpath.Expr)
	defer rule.xpath.Put(expr)

	switch v := expr.Evaluate(htmlquery.CreateXPathNavigator(root)).(type) {
	case *xpath.NodeIterator:
		var out []string
		for v.MoveNext() {
			// Value is the inner text for elements, the data for text nodes and the value for attributes
			if text := strings.TrimSpace(v.Current().Value()); text != "" {
				out = append(out, text)
			}
		}
		return out, nil
	case string:
		if text := strings.TrimSpace(v); text != "" {
			return []string{text}, nil
		}
		return nil, nil
	case float64:
		return []string{formatNumber(v)}, nil
	case bool:
		return []string{fmt.Sprint(v)}, nil
	default:
		return nil, fmt.Errorf("unexpected xpath result type %T", v)
	}
}

// matchRegex runs the pattern over the raw page. With a capture group the
// first group of each match is returned, otherwise the whole match.
func matchRegex(rule Rule, page string) []string {
	matches := rule.re.FindAllStringSubmatch(page, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	group := 0
	if rule.re.NumSubexp() > 0 {
		group = 1
	}
	for _, m := range matches {
		out = append(out, m[group])
	}
	return out
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(f)
}
