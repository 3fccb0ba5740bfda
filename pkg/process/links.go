package process

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/sirupsen/logrus"

	"rule-crawler/pkg/parse"
	"rule-crawler/pkg/utils"
)

// LinkDiscoverer finds the outbound links of a fetched page
type LinkDiscoverer interface {
	Discover(page, baseURL string) ([]string, error)
}

// LinkProcessor extracts crawlable links from a page and filters them by
// scheme, allowed domain and exclude patterns
type LinkProcessor struct {
	selector        cascadia.Selector
	allowedDomains  map[string]struct{} // Lowercased; empty allows any host
	excludePatterns []*regexp.Regexp    // Searched against the absolute URL
	log             *logrus.Entry
}

// NewLinkProcessor compiles the link selector. An invalid selector is a configuration error.
func NewLinkProcessor(
	linkSelector string,
	allowedDomains []string,
	excludePatterns []*regexp.Regexp,
	log *logrus.Entry,
) (*LinkProcessor, error) {
	if linkSelector == "" {
		linkSelector = "a[href]"
	}
	sel, err := cascadia.Compile(linkSelector)
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrConfigValidation, "invalid link_selector '%s': %v", linkSelector, err)
	}

	domains := make(map[string]struct{}, len(allowedDomains))
	for _, d := range allowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains[d] = struct{}{}
		}
	}

	return &LinkProcessor{
		selector:        sel,
		allowedDomains:  domains,
		excludePatterns: excludePatterns,
		log:             log,
	}, nil
}

// Discover returns the absolute, fragment-free, in-scope links of page in
// document order, each at most once. Relative links resolve against the
// page's <base href> when present, otherwise against baseURL.
// Errors only when baseURL cannot be parsed.
func (lp *LinkProcessor) Discover(page, baseURL string) ([]string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base URL '%s': %v", utils.ErrParsing, baseURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		// x/net/html only fails on reader errors; treat as a page without links
		lp.log.WithField("url", baseURL).Warnf("HTML parsing failed during link discovery: %v", err)
		return nil, nil
	}

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, perr := base.Parse(strings.TrimSpace(href)); perr == nil {
			base = resolved
		}
	}

	var links []string
	found := make(map[string]struct{})
	doc.FindMatcher(lp.selector).Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		href = strings.TrimSpace(href)
		if !exists || href == "" || strings.HasPrefix(href, "#") {
			return
		}

		linkURL, perr := base.Parse(href)
		if perr != nil {
			lp.log.WithField("url", baseURL).Debugf("Skipping invalid link href '%s': %v", href, perr)
			return
		}
		if !lp.inScope(linkURL) {
			return
		}

		link := parse.Normalize(linkURL.String())
		if lp.isExcluded(link) {
			return
		}
		if _, dup := found[link]; dup {
			return
		}
		found[link] = struct{}{}
		links = append(links, link)
	})

	lp.log.WithFields(logrus.Fields{"url": baseURL, "links": len(links)}).Debug("Discovered links")
	return links, nil
}

// inScope applies the scheme and allowed-domain filters. A domain entry
// matches either the host with port or the bare hostname.
func (lp *LinkProcessor) inScope(u *url.URL) bool {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false // mailto:, javascript:, tel:, ftp:, ...
	}
	if u.Host == "" {
		return false
	}
	if len(lp.allowedDomains) == 0 {
		return true
	}
	if _, ok := lp.allowedDomains[strings.ToLower(u.Host)]; ok {
		return true
	}
	_, ok := lp.allowedDomains[strings.ToLower(u.Hostname())]
	return ok
}

func (lp *LinkProcessor) isExcluded(link string) bool {
	for _, re := range lp.excludePatterns {
		if re.MatchString(link) {
			return true
		}
	}
	return false
}
