// Package validate gates extracted candidates before scoring. A candidate
// must carry a title, a source URL, and at least one parsable date; optional
// fields are coerced best-effort and nulled when coercion fails.
package validate

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rfpscout/rfpscout/internal/hash/sha256"
	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Rejection reasons surfaced to counters and debug logs.
const (
	ReasonMissingTitle  = "missing title"
	ReasonMissingSource = "missing source_url"
	ReasonNoDate        = "no parsable posted or deadline date"
)

// RejectionError marks a candidate that failed a required-field check.
// Rejections are counted by the caller, never fatal to the run.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "candidate rejected: " + e.Reason
}

// IsRejection reports whether err is a validation rejection as opposed to
// an unexpected failure.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// Date layouts accepted on procurement pages, tried in order.
var dateLayouts = []string{
	"2006-01-02",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
	"1/2/2006",
	"2006/01/02",
}

var numberPattern = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

// Validator turns Candidates into ValidatedRecords.
type Validator struct {
	clock pipeline.Clock
}

// New returns a Validator stamping records with the given clock.
func New(clock pipeline.Clock) *Validator {
	return &Validator{clock: clock}
}

// Validate checks required fields and coerces the rest. It returns a
// RejectionError when title or source URL is missing, or when neither the
// posted nor the deadline date could be parsed.
func (v *Validator) Validate(c pipeline.Candidate) (pipeline.ValidatedRecord, error) {
	title := strings.TrimSpace(c.Title)
	if title == "" {
		return pipeline.ValidatedRecord{}, &RejectionError{Reason: ReasonMissingTitle}
	}
	sourceURL := strings.TrimSpace(c.SourceURL)
	if sourceURL == "" {
		return pipeline.ValidatedRecord{}, &RejectionError{Reason: ReasonMissingSource}
	}

	posted := parseDate(c.PostedRaw)
	deadline := parseDate(c.DeadlineRaw)
	if posted == nil && deadline == nil {
		return pipeline.ValidatedRecord{}, &RejectionError{Reason: ReasonNoDate}
	}

	budgetMin, budgetMax := parseBudget(c.BudgetRaw)

	rec := pipeline.ValidatedRecord{
		ID:            sha256.RecordID(sourceURL, c.RFPNumber, title),
		SchemaVersion: pipeline.SchemaVersion,
		Title:         title,
		Description:   strings.TrimSpace(c.Description),
		Agency:        strings.TrimSpace(c.Agency),
		RFPNumber:     strings.TrimSpace(c.RFPNumber),
		BudgetMin:     budgetMin,
		BudgetMax:     budgetMax,
		Currency:      c.Currency,
		PostedDate:    posted,
		DeadlineDate:  deadline,
		Location: pipeline.Location{
			Country: strings.TrimSpace(c.Country),
			State:   strings.TrimSpace(c.State),
			City:    strings.TrimSpace(c.City),
		},
		Contact: pipeline.Contact{
			Email: strings.TrimSpace(c.ContactEmail),
			Phone: strings.TrimSpace(c.ContactPhone),
		},
		Category:     strings.TrimSpace(c.Category),
		SourceURL:    sourceURL,
		Keywords:     append([]string(nil), c.MatchedKeywords...),
		DocumentURLs: append([]string(nil), c.DocumentURLs...),
		ExtractedAt:  v.clock.Now().UTC(),
	}
	return rec, nil
}

// parseDate tries each accepted layout and returns nil when none fits.
// Dates are calendar dates; the result is midnight UTC.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// parseBudget pulls numeric amounts out of a raw budget string. The first
// amount is the minimum; a second amount, when present, is the maximum. A
// single amount fills both bounds. Unparsable input nulls the field.
func parseBudget(raw string) (*float64, *float64) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	matches := numberPattern.FindAllString(raw, 2)
	if len(matches) == 0 {
		return nil, nil
	}
	min := parseAmount(matches[0])
	if min == nil {
		return nil, nil
	}
	v := *min
	max := &v
	if len(matches) > 1 {
		if m := parseAmount(matches[1]); m != nil {
			max = m
		}
	}
	if *max < *min {
		min, max = max, min
	}
	return min, max
}

func parseAmount(s string) *float64 {
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return nil
	}
	return &f
}
