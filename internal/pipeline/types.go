// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"time"
)

// SchemaVersion tags every validated record so downstream consumers can
// detect format drift.
const SchemaVersion = "v1"

// TaskStatus represents the lifecycle state of a crawl task.
type TaskStatus string

// Task status values tracked by the frontier. Terminal tasks are never
// deleted; they remain for dedup and audit.
const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusSkipped    TaskStatus = "skipped"
)

// Outcome reports how a claimed task finished.
type Outcome string

// Outcomes accepted by Frontier.Complete.
const (
	OutcomeDone   Outcome = "done"
	OutcomeFailed Outcome = "failed"
)

// CrawlTask is a unit of crawl work. URL is the canonical (normalized) form
// and is the unique key across the frontier.
type CrawlTask struct {
	URL          string     `json:"url"`
	Domain       string     `json:"domain"`
	Priority     int        `json:"priority"`
	Depth        int        `json:"depth"`
	ParentURL    string     `json:"parent_url,omitempty"`
	Status       TaskStatus `json:"status"`
	RetryCount   int        `json:"retry_count"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	NotBefore    time.Time  `json:"not_before,omitempty"`
	ClaimedAt    time.Time  `json:"claimed_at,omitempty"`
	SkipReason   string     `json:"skip_reason,omitempty"`
}

// RawPage is produced by a Fetcher, consumed once, and not retained.
type RawPage struct {
	URL         string
	StatusCode  int
	Body        []byte
	ContentType string
	FetchedAt   time.Time
	Duration    time.Duration
}

// Candidate holds fields extracted from a page by pattern rules. Values are
// raw strings as they appeared on the page; unmatched fields stay empty
// rather than guessed. A Candidate is not yet trusted.
type Candidate struct {
	Title           string
	Description     string
	Agency          string
	RFPNumber       string
	BudgetRaw       string
	Currency        string
	PostedRaw       string
	DeadlineRaw     string
	Country         string
	State           string
	City            string
	ContactEmail    string
	ContactPhone    string
	Category        string
	SourceURL       string
	MatchedKeywords []string
	DocumentURLs    []string
}

// Location is a coarse geographic tag for a record.
type Location struct {
	Country string `json:"country,omitempty"`
	State   string `json:"state,omitempty"`
	City    string `json:"city,omitempty"`
}

// Contact captures how to reach the issuing agency.
type Contact struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// ValidatedRecord is a Candidate that passed required-field and type checks.
// It is immutable once created. ID is deterministic per source URL so
// re-processing the same page updates rather than duplicates.
type ValidatedRecord struct {
	ID            string     `json:"id"`
	SchemaVersion string     `json:"schema_version"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	Agency        string     `json:"agency,omitempty"`
	RFPNumber     string     `json:"rfp_number,omitempty"`
	BudgetMin     *float64   `json:"budget_min,omitempty"`
	BudgetMax     *float64   `json:"budget_max,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	PostedDate    *time.Time `json:"posted_date,omitempty"`
	DeadlineDate  *time.Time `json:"deadline_date,omitempty"`
	Location      Location   `json:"location"`
	Contact       Contact    `json:"contact"`
	Category      string     `json:"category,omitempty"`
	SourceURL     string     `json:"source_url"`
	Keywords      []string   `json:"keywords,omitempty"`
	DocumentURLs  []string   `json:"document_urls,omitempty"`
	ExtractedAt   time.Time  `json:"extracted_at"`
}

// Text joins the record's free-text fields for scoring.
func (r ValidatedRecord) Text() string {
	out := r.Title
	if r.Description != "" {
		out += " " + r.Description
	}
	if r.Category != "" {
		out += " " + r.Category
	}
	return out
}

// ScoreResult combines the independent relevance signals for one record.
// Cosine and LLM are nil when their collaborator was unavailable; the
// aggregate is renormalized over the signals actually present. Overall is
// nil only when every signal was unavailable.
type ScoreResult struct {
	Jaccard      float64  `json:"jaccard"`
	Cosine       *float64 `json:"cosine,omitempty"`
	LLM          *float64 `json:"llm,omitempty"`
	Overall      *float64 `json:"overall,omitempty"`
	Unscored     bool     `json:"unscored,omitempty"`
	HighPriority bool     `json:"high_priority"`
	Reasoning    string   `json:"reasoning,omitempty"`
}

// BusinessProfile describes what the operator is looking for. Loaded once
// per run and treated as read-only afterward.
type BusinessProfile struct {
	Name                string             `json:"name" mapstructure:"name"`
	Description         string             `json:"description" mapstructure:"description"`
	Keywords            []string           `json:"keywords" mapstructure:"keywords"`
	CategoryWeights     map[string]float64 `json:"category_weights" mapstructure:"category_weights"`
	AcceptanceThreshold float64            `json:"acceptance_threshold" mapstructure:"acceptance_threshold"`
}

// Judgment is the LLM collaborator's verdict on a record.
type Judgment struct {
	Score     float64 `json:"score"`
	Reasoning string  `json:"reasoning"`
}

// Link is an outbound link discovered on a page, a candidate for frontier
// re-seeding.
type Link struct {
	URL        string
	AnchorText string
	Priority   int
}

// FrontierStats summarizes frontier state for observability.
type FrontierStats struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Total returns the number of tasks ever admitted.
func (s FrontierStats) Total() int {
	return s.Pending + s.InProgress + s.Done + s.Failed + s.Skipped
}
