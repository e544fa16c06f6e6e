// Package score computes relevance signals for validated records against a
// business profile and combines them into one aggregate. Each signal is
// independent: the lexical one is computed locally, the semantic and
// LLM-judged ones come from collaborators and are nulled when the
// collaborator is unavailable.
package score

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

// Weights holds the per-signal weights used for aggregation. Missing signals
// have their weight redistributed across the ones present.
type Weights struct {
	Jaccard float64 `mapstructure:"jaccard"`
	Cosine  float64 `mapstructure:"cosine"`
	LLM     float64 `mapstructure:"llm"`
}

// DefaultWeights favors the LLM judgment when it is available.
func DefaultWeights() Weights {
	return Weights{Jaccard: 0.2, Cosine: 0.3, LLM: 0.5}
}

// Scorer evaluates records against one profile. The profile embedding is
// generated on first use and cached for the rest of the run.
type Scorer struct {
	profile  pipeline.BusinessProfile
	weights  Weights
	embedder pipeline.Embedder
	judge    pipeline.Judge
	logger   *zap.Logger

	mu         sync.Mutex
	profileVec []float64
}

// New builds a Scorer. embedder and judge may be nil, which permanently nulls
// their signals; the scorer still produces aggregates from what remains.
func New(profile pipeline.BusinessProfile, weights Weights, embedder pipeline.Embedder, judge pipeline.Judge, logger *zap.Logger) *Scorer {
	if weights.Jaccard <= 0 && weights.Cosine <= 0 && weights.LLM <= 0 {
		weights = DefaultWeights()
	}
	return &Scorer{
		profile:  profile,
		weights:  weights,
		embedder: embedder,
		judge:    judge,
		logger:   logger,
	}
}

// Score computes every available signal for the record. It never returns an
// error: collaborator failures degrade the result instead of failing the
// task.
func (s *Scorer) Score(ctx context.Context, rec pipeline.ValidatedRecord) pipeline.ScoreResult {
	text := rec.Text()

	result := pipeline.ScoreResult{}
	jaccardOK := false
	if len(s.profile.Keywords) > 0 && strings.TrimSpace(text) != "" {
		j, matched := Jaccard(text, s.profile.Keywords)
		j = s.applyCategoryWeight(j, rec.Category)
		result.Jaccard = j
		jaccardOK = true
		s.logger.Debug("jaccard signal",
			zap.String("record_id", rec.ID),
			zap.Float64("score", j),
			zap.Strings("matched", matched))
	}

	result.Cosine = s.cosineSignal(ctx, rec.ID, text)
	result.LLM, result.Reasoning = s.llmSignal(ctx, rec)

	result.Overall = Combine(result.Jaccard, jaccardOK, result.Cosine, result.LLM, s.weights)
	if result.Overall == nil {
		result.Unscored = true
		s.logger.Warn("record unscored, all signals unavailable", zap.String("record_id", rec.ID))
		return result
	}
	result.HighPriority = *result.Overall >= s.profile.AcceptanceThreshold
	return result
}

// Combine is the pure aggregation step: a weighted mean over the signals
// actually present, weights renormalized so the result stays in [0,1]. It
// returns nil when no signal is available.
func Combine(jaccard float64, jaccardOK bool, cosine, llm *float64, w Weights) *float64 {
	var sum, weightSum float64
	if jaccardOK {
		sum += w.Jaccard * jaccard
		weightSum += w.Jaccard
	}
	if cosine != nil {
		sum += w.Cosine * *cosine
		weightSum += w.Cosine
	}
	if llm != nil {
		sum += w.LLM * *llm
		weightSum += w.LLM
	}
	if weightSum == 0 {
		return nil
	}
	overall := clamp01(sum / weightSum)
	return &overall
}

func (s *Scorer) cosineSignal(ctx context.Context, recordID, text string) *float64 {
	if s.embedder == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	profileVec, err := s.profileEmbedding(ctx)
	if err != nil {
		s.logger.Debug("cosine signal unavailable", zap.String("record_id", recordID), zap.Error(err))
		return nil
	}
	recVec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		s.logger.Debug("cosine signal unavailable", zap.String("record_id", recordID), zap.Error(err))
		return nil
	}
	cos, err := cosine(profileVec, recVec)
	if err != nil {
		s.logger.Debug("cosine signal unavailable", zap.String("record_id", recordID), zap.Error(err))
		return nil
	}
	cos = clamp01(cos)
	return &cos
}

func (s *Scorer) llmSignal(ctx context.Context, rec pipeline.ValidatedRecord) (*float64, string) {
	if s.judge == nil {
		return nil, ""
	}
	judgment, err := s.judge.Judge(ctx, rec, s.profile)
	if err != nil {
		s.logger.Debug("llm signal unavailable", zap.String("record_id", rec.ID), zap.Error(err))
		return nil, ""
	}
	score := clamp01(judgment.Score)
	return &score, judgment.Reasoning
}

// profileEmbedding caches the profile vector after the first successful call
// so unavailability is retried on later records rather than latched.
func (s *Scorer) profileEmbedding(ctx context.Context) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileVec != nil {
		return s.profileVec, nil
	}
	vec, err := s.embedder.Embed(ctx, s.profile.Description)
	if err != nil {
		return nil, err
	}
	s.profileVec = vec
	return vec, nil
}

// applyCategoryWeight scales the lexical score by the profile's weight for
// the record's category, when one is configured.
func (s *Scorer) applyCategoryWeight(score float64, category string) float64 {
	if category == "" || len(s.profile.CategoryWeights) == 0 {
		return score
	}
	w, ok := s.profile.CategoryWeights[strings.ToLower(category)]
	if !ok {
		return score
	}
	return clamp01(score * w)
}

// cosine computes vector cosine similarity. Raw similarity lives in [-1,1];
// callers clamp to [0,1] to keep the signal comparable to the others.
func cosine(a, b []float64) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, fmt.Errorf("cosine: dimension mismatch %d vs %d", len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, fmt.Errorf("cosine: zero-magnitude vector")
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
