package score

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rfpscout/rfpscout/internal/pipeline"
)

type stubEmbedder struct {
	vec   []float64
	err   error
	calls int
}

func (e *stubEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return e.vec, nil
}

type stubJudge struct {
	judgment pipeline.Judgment
	err      error
}

func (j *stubJudge) Judge(_ context.Context, _ pipeline.ValidatedRecord, _ pipeline.BusinessProfile) (pipeline.Judgment, error) {
	if j.err != nil {
		return pipeline.Judgment{}, j.err
	}
	return j.judgment, nil
}

func testProfile() pipeline.BusinessProfile {
	return pipeline.BusinessProfile{
		Name:                "coatings vendor",
		Description:         "Protective coating and waterproofing solutions for infrastructure.",
		Keywords:            []string{"waterproofing", "coating"},
		AcceptanceThreshold: 0.45,
	}
}

func testRecord() pipeline.ValidatedRecord {
	return pipeline.ValidatedRecord{
		ID:          "abc123",
		Title:       "Waterproofing Coating",
		Description: "Request for Proposal covering waterproofing and protective coating works.",
	}
}

func TestJaccard(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     float64
	}{
		{
			name:     "all keywords present",
			text:     "Request for Proposal: Waterproofing Coating for the reservoir",
			keywords: []string{"waterproofing", "coating"},
			want:     1.0,
		},
		{
			name:     "half present",
			text:     "Bridge repainting and surface preparation",
			keywords: []string{"repainting", "coating"},
			want:     0.5,
		},
		{
			name:     "multi-word phrase keyword",
			text:     "Includes surface treatment and primer application",
			keywords: []string{"surface treatment", "epoxy"},
			want:     0.5,
		},
		{
			name:     "case and punctuation insensitive",
			text:     "WATERPROOFING, coating.",
			keywords: []string{"Waterproofing", "COATING"},
			want:     1.0,
		},
		{
			name:     "no overlap",
			text:     "Office furniture supply",
			keywords: []string{"coating"},
			want:     0.0,
		},
		{
			name:     "empty keyword set",
			text:     "anything",
			keywords: nil,
			want:     0.0,
		},
		{
			name:     "empty text",
			text:     "",
			keywords: []string{"coating"},
			want:     0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := Jaccard(tt.text, tt.keywords)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestJaccardReportsMatchedKeywords(t *testing.T) {
	_, matched := Jaccard("protective coating tender", []string{"coating", "waterproofing", "coating"})
	assert.Equal(t, []string{"coating"}, matched)
}

func TestCombine(t *testing.T) {
	w := DefaultWeights()
	f := func(v float64) *float64 { return &v }

	t.Run("all signals", func(t *testing.T) {
		got := Combine(0.5, true, f(0.8), f(0.9), w)
		require.NotNil(t, got)
		assert.InDelta(t, 0.79, *got, 1e-9)
	})

	t.Run("jaccard only renormalizes to itself", func(t *testing.T) {
		got := Combine(0.6, true, nil, nil, w)
		require.NotNil(t, got)
		assert.InDelta(t, 0.6, *got, 1e-9)
	})

	t.Run("jaccard and llm", func(t *testing.T) {
		got := Combine(0.4, true, nil, f(1.0), w)
		require.NotNil(t, got)
		// (0.2*0.4 + 0.5*1.0) / 0.7
		assert.InDelta(t, 0.58/0.7, *got, 1e-9)
	})

	t.Run("no signals", func(t *testing.T) {
		assert.Nil(t, Combine(0, false, nil, nil, w))
	})
}

func TestScoreWithAllCollaborators(t *testing.T) {
	embedder := &stubEmbedder{vec: []float64{1, 0, 0.5}}
	judge := &stubJudge{judgment: pipeline.Judgment{Score: 0.9, Reasoning: "strong coating fit"}}
	s := New(testProfile(), DefaultWeights(), embedder, judge, zap.NewNop())

	result := s.Score(context.Background(), testRecord())

	assert.InDelta(t, 1.0, result.Jaccard, 1e-9)
	require.NotNil(t, result.Cosine)
	assert.InDelta(t, 1.0, *result.Cosine, 1e-9) // identical vectors
	require.NotNil(t, result.LLM)
	assert.InDelta(t, 0.9, *result.LLM, 1e-9)
	require.NotNil(t, result.Overall)
	assert.GreaterOrEqual(t, *result.Overall, 0.0)
	assert.LessOrEqual(t, *result.Overall, 1.0)
	assert.True(t, result.HighPriority)
	assert.Equal(t, "strong coating fit", result.Reasoning)
	assert.False(t, result.Unscored)
}

func TestScoreDegradesWhenCollaboratorsUnavailable(t *testing.T) {
	embedder := &stubEmbedder{err: pipeline.ErrUnavailable}
	judge := &stubJudge{err: pipeline.ErrUnavailable}
	s := New(testProfile(), DefaultWeights(), embedder, judge, zap.NewNop())

	result := s.Score(context.Background(), testRecord())

	assert.Nil(t, result.Cosine)
	assert.Nil(t, result.LLM)
	require.NotNil(t, result.Overall)
	assert.InDelta(t, 1.0, *result.Overall, 1e-9) // jaccard alone, renormalized
	assert.True(t, result.HighPriority)
	assert.False(t, result.Unscored)
}

func TestScoreWithoutCollaboratorsConfigured(t *testing.T) {
	s := New(testProfile(), DefaultWeights(), nil, nil, zap.NewNop())

	result := s.Score(context.Background(), testRecord())

	assert.Nil(t, result.Cosine)
	assert.Nil(t, result.LLM)
	require.NotNil(t, result.Overall)
	assert.InDelta(t, 1.0, *result.Overall, 1e-9)
}

func TestScoreUnscoredWhenNoSignalAvailable(t *testing.T) {
	profile := testProfile()
	profile.Keywords = nil
	s := New(profile, DefaultWeights(), nil, nil, zap.NewNop())

	result := s.Score(context.Background(), testRecord())

	assert.True(t, result.Unscored)
	assert.Nil(t, result.Overall)
	assert.False(t, result.HighPriority)
}

func TestScoreCachesProfileEmbedding(t *testing.T) {
	embedder := &stubEmbedder{vec: []float64{0.3, 0.7}}
	s := New(testProfile(), DefaultWeights(), embedder, nil, zap.NewNop())

	s.Score(context.Background(), testRecord())
	s.Score(context.Background(), testRecord())

	// 1 profile embed + 2 record embeds; a cold cache per call would be 4.
	assert.Equal(t, 3, embedder.calls)
}

func TestScoreClampsJudgeScore(t *testing.T) {
	judge := &stubJudge{judgment: pipeline.Judgment{Score: 1.4}}
	s := New(testProfile(), DefaultWeights(), nil, judge, zap.NewNop())

	result := s.Score(context.Background(), testRecord())

	require.NotNil(t, result.LLM)
	assert.InDelta(t, 1.0, *result.LLM, 1e-9)
}

func TestScoreBelowThresholdNotHighPriority(t *testing.T) {
	profile := testProfile()
	profile.Keywords = []string{"coating", "epoxy", "primer", "enamel"}
	s := New(profile, DefaultWeights(), nil, nil, zap.NewNop())

	result := s.Score(context.Background(), testRecord())

	require.NotNil(t, result.Overall)
	assert.InDelta(t, 0.25, *result.Overall, 1e-9)
	assert.False(t, result.HighPriority)
}

func TestScoreAppliesCategoryWeight(t *testing.T) {
	profile := testProfile()
	profile.CategoryWeights = map[string]float64{"construction": 0.5}
	s := New(profile, DefaultWeights(), nil, nil, zap.NewNop())

	rec := testRecord()
	rec.Category = "Construction"
	result := s.Score(context.Background(), rec)

	require.NotNil(t, result.Overall)
	assert.Less(t, *result.Overall, 1.0)
}
