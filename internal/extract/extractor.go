package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

const (
	maxCandidatesPerPage = 10
	maxDescriptionChars  = 500
)

// Extract produces zero or more Candidates plus the page's outbound links.
// It never fails on malformed input: unparsable HTML is treated as plain
// text, and unmatched fields stay empty rather than guessed. Pages with no
// tender signal at all yield no candidates, which is not an error.
func Extract(page pipeline.RawPage, rules Ruleset) ([]pipeline.Candidate, []pipeline.Link) {
	text, links := pageText(page, rules)
	if rules.MaxTextBytes > 0 && len(text) > rules.MaxTextBytes {
		text = text[:rules.MaxTextBytes]
	}
	if strings.TrimSpace(text) == "" {
		return nil, links
	}

	base := pipeline.Candidate{SourceURL: page.URL}
	base.Title = rules.findTitle(text)
	base.Agency = captureFirst(rules.agencyLabel, text)
	base.MatchedKeywords = rules.matchedKeywords(text)
	base.DocumentURLs = uniqueStrings(rules.document.FindAllString(text, 8))
	base.ContactEmail = rules.email.FindString(text)
	base.ContactPhone = firstPhone(rules, text)
	base.Description = snippet(text)

	if window := captureFirst(rules.deadlineZone, text); window != "" {
		base.DeadlineRaw = rules.firstDate(window)
	}
	if window := captureFirst(rules.postedZone, text); window != "" {
		base.PostedRaw = rules.firstDate(window)
	}
	if window := captureFirst(rules.budgetZone, text); window != "" {
		base.BudgetRaw, base.Currency = rules.findBudget(window)
	}

	numbers := rules.rfpNumbers(text)

	// A page with no tender signal produces nothing.
	if len(numbers) == 0 && base.DeadlineRaw == "" && base.PostedRaw == "" &&
		len(base.MatchedKeywords) == 0 && len(base.DocumentURLs) == 0 {
		return nil, links
	}

	// One candidate per distinct reference number (listing pages), or a
	// single candidate for the whole page.
	if len(numbers) == 0 {
		return []pipeline.Candidate{base}, links
	}
	candidates := make([]pipeline.Candidate, 0, len(numbers))
	for _, number := range numbers {
		c := base
		c.RFPNumber = number
		candidates = append(candidates, c)
		if len(candidates) == maxCandidatesPerPage {
			break
		}
	}
	return candidates, links
}

// findTitle prefers a labeled title ("Request for Proposal: ...") and falls
// back to the first strong line of the page.
func (rs Ruleset) findTitle(text string) string {
	for _, pat := range rs.titleLabels {
		if m := pat.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 10 && len(line) < 180 && line != strings.ToLower(line) {
			return line
		}
	}
	return ""
}

// findBudget returns the raw money expression (range preferred) and its
// currency inside a labeled window.
func (rs Ruleset) findBudget(window string) (raw, currency string) {
	if m := rs.moneyRange.FindStringSubmatch(window); m != nil {
		return strings.TrimSpace(m[0]), currencyCode(m[1])
	}
	if m := rs.moneyOne.FindStringSubmatch(window); m != nil {
		return strings.TrimSpace(m[0]), currencyCode(m[1])
	}
	return "", ""
}

// rfpNumbers collects distinct reference numbers. Tokens without a digit are
// discarded; bare keyword hits ("the tender for ...") aren't references.
func (rs Ruleset) rfpNumbers(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range rs.rfpNumber.FindAllStringSubmatch(text, 20) {
		token := strings.TrimRight(m[1], ".,;:")
		if !strings.ContainsAny(token, "0123456789") {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

// pageText extracts visible text and outbound links. HTML bodies go through
// goquery; anything else is used verbatim with no links.
func pageText(page pipeline.RawPage, rules Ruleset) (string, []pipeline.Link) {
	body := page.Body
	if len(body) == 0 {
		return "", nil
	}
	looksHTML := strings.Contains(page.ContentType, "html") ||
		bytes.Contains(body[:min(len(body), 1024)], []byte("<"))
	if !looksHTML {
		return string(body), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return string(body), nil
	}
	doc.Find("script, style, noscript").Remove()
	text := normalizeWhitespace(doc.Text())
	links := collectLinks(doc, page.URL, rules)
	return text, links
}

func captureFirst(pat interface{ FindStringSubmatch(string) []string }, text string) string {
	if m := pat.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// firstPhone scans digit runs and keeps the first one with a plausible
// phone length. Date strings produce 8-digit runs, so 9 is the floor.
func firstPhone(rules Ruleset, text string) string {
	for _, raw := range rules.phone.FindAllString(text, 5) {
		var digits strings.Builder
		for _, r := range raw {
			if r >= '0' && r <= '9' {
				digits.WriteRune(r)
			}
		}
		if n := digits.Len(); n >= 9 && n <= 15 {
			return digits.String()
		}
	}
	return ""
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxDescriptionChars {
		return text
	}
	cut := text[:maxDescriptionChars]
	if idx := strings.LastIndexByte(cut, ' '); idx > maxDescriptionChars/2 {
		cut = cut[:idx]
	}
	return cut
}

// normalizeWhitespace collapses runs of blanks but keeps line structure for
// the first-strong-line title heuristic.
func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
