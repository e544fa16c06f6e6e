package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

const (
	linkBasePriority = 3
	maxLinksPerPage  = 100
)

// collectLinks gathers outbound anchors, resolves them against the page URL,
// and assigns each a priority derived from its anchor text: tender-flavored
// words and profile keywords both raise it.
func collectLinks(doc *goquery.Document, pageURL string, rules Ruleset) []pipeline.Link {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	var links []pipeline.Link
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") ||
			strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return true
		}
		normalized, err := pipeline.NormalizeURL(resolved.String())
		if err != nil {
			return true
		}
		if _, dup := seen[normalized]; dup {
			return true
		}
		seen[normalized] = struct{}{}

		anchor := strings.TrimSpace(sel.Text())
		links = append(links, pipeline.Link{
			URL:        normalized,
			AnchorText: anchor,
			Priority:   anchorPriority(anchor, rules),
		})
		return len(links) < maxLinksPerPage
	})
	return links
}

// anchorPriority scores anchor text by keyword relevance, clamped to the
// task priority range.
func anchorPriority(anchor string, rules Ruleset) int {
	lower := strings.ToLower(anchor)
	priority := linkBasePriority
	for _, word := range tenderWords {
		if strings.Contains(lower, word) {
			priority += 3
			break
		}
	}
	for _, pat := range rules.keywordPatterns {
		if pat.MatchString(lower) {
			priority += 2
			break
		}
	}
	return clamp(priority, 1, 10)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
