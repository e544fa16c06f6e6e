// Package ollama implements the embedding and LLM-judging collaborators
// against an Ollama server. Both signals are optional: any transport,
// status, or parse failure surfaces as ErrUnavailable so the scorer nulls
// the signal instead of failing the record.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

const (
	defaultTimeout    = 60 * time.Second
	defaultEmbedModel = "nomic-embed-text"
	defaultJudgeModel = "llama3"

	// Record descriptions are truncated before prompting to keep the
	// request bounded.
	maxPromptDescription = 500
)

// Config locates the Ollama server and selects models.
type Config struct {
	BaseURL    string        `mapstructure:"base_url"`
	EmbedModel string        `mapstructure:"embed_model"`
	JudgeModel string        `mapstructure:"judge_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Client talks to one Ollama server. It implements both pipeline.Embedder
// and pipeline.Judge.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client with defaults filled in.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbedModel
	}
	if cfg.JudgeModel == "" {
		cfg.JudgeModel = defaultJudgeModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Embed requests an embedding for the text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	payload := map[string]any{
		"model":  c.cfg.EmbedModel,
		"prompt": text,
	}
	var out struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := c.post(ctx, "/api/embeddings", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned empty embedding: %w", pipeline.ErrUnavailable)
	}
	return out.Embedding, nil
}

// Judge asks the LLM to rate a record against the profile. The model is
// instructed to answer in JSON; responses wrapped in markdown fences are
// unwrapped before parsing.
func (c *Client) Judge(ctx context.Context, record pipeline.ValidatedRecord, profile pipeline.BusinessProfile) (pipeline.Judgment, error) {
	payload := map[string]any{
		"model":   c.cfg.JudgeModel,
		"prompt":  judgePrompt(record, profile),
		"stream":  false,
		"options": map[string]any{"temperature": 0},
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := c.post(ctx, "/api/generate", payload, &out); err != nil {
		return pipeline.Judgment{}, err
	}

	var verdict struct {
		Score     float64 `json:"score"`
		Reasoning string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(stripFences(out.Response)), &verdict); err != nil {
		c.logger.Debug("unparsable judge response", zap.String("response", out.Response), zap.Error(err))
		return pipeline.Judgment{}, fmt.Errorf("parse judge response: %v: %w", err, pipeline.ErrUnavailable)
	}
	return pipeline.Judgment{Score: verdict.Score, Reasoning: verdict.Reasoning}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ollama %s: %v: %w", path, err, pipeline.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("ollama %s status %d: %w", path, resp.StatusCode, pipeline.ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode ollama %s response: %v: %w", path, err, pipeline.ErrUnavailable)
	}
	return nil
}

func judgePrompt(record pipeline.ValidatedRecord, profile pipeline.BusinessProfile) string {
	description := record.Description
	if len(description) > maxPromptDescription {
		description = description[:maxPromptDescription]
	}
	budget := "Not specified"
	if record.BudgetMin != nil && record.BudgetMax != nil {
		budget = fmt.Sprintf("%s %.0f - %.0f", record.Currency, *record.BudgetMin, *record.BudgetMax)
	}
	deadline := "Not specified"
	if record.DeadlineDate != nil {
		deadline = record.DeadlineDate.Format("2006-01-02")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert at evaluating procurement opportunities for %s.\n\n", profile.Name)
	fmt.Fprintf(&b, "OPPORTUNITY:\nTitle: %s\nDescription: %s\nAgency: %s\nBudget: %s\nDeadline: %s\n\n",
		record.Title, description, record.Agency, budget, deadline)
	fmt.Fprintf(&b, "BUSINESS PROFILE:\n%s\nKeywords: %s\n\n",
		profile.Description, strings.Join(profile.Keywords, ", "))
	b.WriteString("Rate how well this opportunity matches the business, from 0.0 (no fit) to 1.0 (perfect fit).\n")
	b.WriteString("Respond ONLY in JSON format:\n{\"score\": 0.75, \"reasoning\": \"Brief explanation\"}")
	return b.String()
}

// stripFences unwraps a markdown-fenced code block when the model ignores
// the JSON-only instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	} else {
		return s
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
