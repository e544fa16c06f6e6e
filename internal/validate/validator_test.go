package validate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestValidator() *Validator {
	return New(fixedClock{now: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)})
}

func goodCandidate() pipeline.Candidate {
	return pipeline.Candidate{
		Title:           "Waterproofing Coating",
		Description:     "Request for Proposal: Waterproofing Coating works for the reservoir site.",
		Agency:          "Metro Water District",
		RFPNumber:       "RFP-2025-001",
		BudgetRaw:       "$50,000 - $100,000",
		Currency:        "USD",
		DeadlineRaw:     "2025-06-01",
		ContactEmail:    "bids@agency.gov",
		SourceURL:       "https://agency.gov/tender/123",
		MatchedKeywords: []string{"waterproofing", "coating"},
	}
}

func TestValidateAcceptsCompleteCandidate(t *testing.T) {
	v := newTestValidator()

	rec, err := v.Validate(goodCandidate())
	require.NoError(t, err)

	assert.Len(t, rec.ID, 16)
	assert.Equal(t, pipeline.SchemaVersion, rec.SchemaVersion)
	assert.Equal(t, "Waterproofing Coating", rec.Title)
	assert.Equal(t, "https://agency.gov/tender/123", rec.SourceURL)

	require.NotNil(t, rec.BudgetMin)
	require.NotNil(t, rec.BudgetMax)
	assert.Equal(t, 50000.0, *rec.BudgetMin)
	assert.Equal(t, 100000.0, *rec.BudgetMax)
	assert.Equal(t, "USD", rec.Currency)

	require.NotNil(t, rec.DeadlineDate)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), *rec.DeadlineDate)
	assert.Nil(t, rec.PostedDate)

	assert.Equal(t, "bids@agency.gov", rec.Contact.Email)
	assert.Equal(t, []string{"waterproofing", "coating"}, rec.Keywords)
	assert.Equal(t, time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC), rec.ExtractedAt)
}

func TestValidateRejectsMissingRequiredFields(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name   string
		mutate func(*pipeline.Candidate)
		reason string
	}{
		{
			name:   "missing title",
			mutate: func(c *pipeline.Candidate) { c.Title = "   " },
			reason: ReasonMissingTitle,
		},
		{
			name:   "missing source url",
			mutate: func(c *pipeline.Candidate) { c.SourceURL = "" },
			reason: ReasonMissingSource,
		},
		{
			name: "no date at all",
			mutate: func(c *pipeline.Candidate) {
				c.PostedRaw = ""
				c.DeadlineRaw = ""
			},
			reason: ReasonNoDate,
		},
		{
			name: "both dates unparsable",
			mutate: func(c *pipeline.Candidate) {
				c.PostedRaw = "soon"
				c.DeadlineRaw = "next quarter"
			},
			reason: ReasonNoDate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := goodCandidate()
			tt.mutate(&c)

			_, err := v.Validate(c)
			require.Error(t, err)
			assert.True(t, IsRejection(err))

			var re *RejectionError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.reason, re.Reason)
		})
	}
}

func TestValidateOptionalCoercionFailureNullsField(t *testing.T) {
	v := newTestValidator()

	c := goodCandidate()
	c.BudgetRaw = "negotiable"
	c.PostedRaw = "last week" // unparsable, but deadline still carries the record

	rec, err := v.Validate(c)
	require.NoError(t, err)
	assert.Nil(t, rec.BudgetMin)
	assert.Nil(t, rec.BudgetMax)
	assert.Nil(t, rec.PostedDate)
	require.NotNil(t, rec.DeadlineDate)
}

func TestValidateDateLayouts(t *testing.T) {
	v := newTestValidator()
	want := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)

	for _, raw := range []string{
		"2025-06-12",
		"12 June 2025",
		"12 Jun 2025",
		"June 12, 2025",
		"Jun 12, 2025",
		"6/12/2025",
		"2025/06/12",
	} {
		t.Run(raw, func(t *testing.T) {
			c := goodCandidate()
			c.DeadlineRaw = raw

			rec, err := v.Validate(c)
			require.NoError(t, err)
			require.NotNil(t, rec.DeadlineDate)
			assert.Equal(t, want, *rec.DeadlineDate)
		})
	}
}

func TestValidateBudgetForms(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		name string
		raw  string
		min  float64
		max  float64
	}{
		{name: "range", raw: "$50,000 - $100,000", min: 50000, max: 100000},
		{name: "single value fills both bounds", raw: "USD 250,000", min: 250000, max: 250000},
		{name: "reversed range is reordered", raw: "$100,000 to $50,000", min: 50000, max: 100000},
		{name: "decimal", raw: "€12,500.50", min: 12500.50, max: 12500.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := goodCandidate()
			c.BudgetRaw = tt.raw

			rec, err := v.Validate(c)
			require.NoError(t, err)
			require.NotNil(t, rec.BudgetMin)
			require.NotNil(t, rec.BudgetMax)
			assert.Equal(t, tt.min, *rec.BudgetMin)
			assert.Equal(t, tt.max, *rec.BudgetMax)
		})
	}
}

func TestValidateDeterministicID(t *testing.T) {
	v := newTestValidator()

	first, err := v.Validate(goodCandidate())
	require.NoError(t, err)
	second, err := v.Validate(goodCandidate())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	changed := goodCandidate()
	changed.Title = "Bridge Repainting"
	third, err := v.Validate(changed)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestIsRejectionIgnoresOtherErrors(t *testing.T) {
	assert.False(t, IsRejection(errors.New("boom")))
	assert.True(t, IsRejection(&RejectionError{Reason: ReasonNoDate}))
}
