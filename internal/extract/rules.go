// Package extract turns raw page text into candidate procurement records
// using a data-driven rule table. Extraction is a pure function of
// (page, ruleset): no network, no browser state, unit-testable in isolation.
package extract

import (
	"regexp"
	"strings"
)

// Ruleset is the compiled pattern table consumed by Extract. Field rules are
// labeled-window matches: a label regex locates the field, then a value regex
// runs inside a short window after the label, so interleaved fields on one
// line don't bleed into each other.
type Ruleset struct {
	Keywords        []string
	keywordPatterns []*regexp.Regexp

	titleLabels  []*regexp.Regexp
	rfpNumber    *regexp.Regexp
	deadlineZone *regexp.Regexp
	postedZone   *regexp.Regexp
	budgetZone   *regexp.Regexp
	agencyLabel  *regexp.Regexp

	dateValues []*regexp.Regexp
	moneyRange *regexp.Regexp
	moneyOne   *regexp.Regexp
	email      *regexp.Regexp
	phone      *regexp.Regexp
	document   *regexp.Regexp

	// MaxTextBytes caps how much page text the rules scan.
	MaxTextBytes int
}

// Tender-flavored words that boost an anchor's crawl priority.
var tenderWords = []string{
	"tender", "rfp", "rfq", "eoi", "bid", "procurement", "solicitation", "proposal",
}

// NewRuleset compiles the default rule table, tagging candidates with the
// given keywords (typically the business profile's keyword list).
func NewRuleset(keywords []string) Ruleset {
	rs := Ruleset{
		Keywords: normalizeKeywords(keywords),
		titleLabels: []*regexp.Regexp{
			regexp.MustCompile(`(?i)request\s+for\s+(?:proposals?|quotations?|bids?)\s*[:\-–]\s*([^,\n\r]{3,160})`),
			regexp.MustCompile(`(?i)(?:tender|bid|notice)\s+(?:for|of)\s+[:\-–]?\s*([^,\n\r]{3,160})`),
		},
		rfpNumber:    regexp.MustCompile(`(?i)\b(?:RFP|RFQ|EOI|Tender|Bid)\s*(?:No\.?|Number|#)?\s*[:\-–]?\s*([A-Za-z0-9][A-Za-z0-9/\-._]{2,24})`),
		deadlineZone: regexp.MustCompile(`(?i)(?:deadline|closing\s+date|due\s+date|submission\s+(?:date|deadline)|closes?\s+on)\s*[:\-–]?\s*(.{0,48})`),
		postedZone:   regexp.MustCompile(`(?i)(?:posted|published|issued?|date\s+of\s+(?:posting|issue))\s*(?:on|date)?\s*[:\-–]?\s*(.{0,48})`),
		budgetZone:   regexp.MustCompile(`(?i)(?:budget|estimated\s+(?:cost|value|budget)|contract\s+value)\s*[:\-–]?\s*(.{0,64})`),
		agencyLabel:  regexp.MustCompile(`(?i)(?:agency|department|authority|issued\s+by|organization)\s*[:\-–]\s*([^,\n\r]{3,120})`),
		dateValues: []*regexp.Regexp{
			regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
			regexp.MustCompile(`(?i)\d{1,2}[ \-/](?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)[a-z]*[ \-/,]+\d{2,4}`),
			regexp.MustCompile(`(?i)(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}`),
			regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
		},
		moneyRange:   regexp.MustCompile(`(?i)([$€£₹]|USD|EUR|GBP|INR)\s*([\d,]+(?:\.\d+)?)\s*(?:[-–—~]|to)\s*(?:[$€£₹]|USD|EUR|GBP|INR)?\s*([\d,]+(?:\.\d+)?)`),
		moneyOne:     regexp.MustCompile(`(?i)([$€£₹]|USD|EUR|GBP|INR)\s*([\d,]+(?:\.\d+)?)`),
		email:        regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
		phone:        regexp.MustCompile(`\+?\d[\d\-\s()]{6,16}\d`),
		document:     regexp.MustCompile(`(?i)https?://[^\s"'<>]+?\.(?:pdf|docx?|xlsx?)\b`),
		MaxTextBytes: 200_000,
	}
	rs.keywordPatterns = make([]*regexp.Regexp, len(rs.Keywords))
	for i, kw := range rs.Keywords {
		rs.keywordPatterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
	}
	return rs
}

// matchedKeywords returns the ruleset keywords present in text, in ruleset
// order.
func (rs Ruleset) matchedKeywords(text string) []string {
	var out []string
	for i, pat := range rs.keywordPatterns {
		if pat.MatchString(text) {
			out = append(out, rs.Keywords[i])
		}
	}
	return out
}

// firstDate scans a labeled window for the first recognizable date literal.
func (rs Ruleset) firstDate(window string) string {
	for _, pat := range rs.dateValues {
		if m := pat.FindString(window); m != "" {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func normalizeKeywords(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, kw := range in {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}

// currencyCode maps a matched symbol or code to ISO-4217.
func currencyCode(symbol string) string {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "$", "USD":
		return "USD"
	case "€", "EUR":
		return "EUR"
	case "£", "GBP":
		return "GBP"
	case "₹", "INR":
		return "INR"
	default:
		return ""
	}
}
