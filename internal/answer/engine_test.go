package answer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/prompt-engine/internal/answer/coref"
	"github.com/capitalize-ai/prompt-engine/internal/llm"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

type fakeHistory struct {
	entries []model.HistoryEntry
	err     error
}

func (f *fakeHistory) Recent(_ context.Context, _ string, n int) ([]model.HistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.entries) > n {
		return f.entries[:n], nil
	}
	return f.entries, nil
}

type similarityCall struct {
	query     string
	threshold float64
	limit     int
}

type fakeMatcher struct {
	matches []model.SimilarityMatch
	err     error
	calls   []similarityCall
}

func (f *fakeMatcher) FindSimilar(_ context.Context, query string, threshold float64, limit int) ([]model.SimilarityMatch, error) {
	f.calls = append(f.calls, similarityCall{query, threshold, limit})
	return f.matches, f.err
}

type fakeRetriever struct {
	docs  []model.ContextDocument
	err   error
	calls []similarityCall
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, threshold float64, limit int) ([]model.ContextDocument, error) {
	f.calls = append(f.calls, similarityCall{query, threshold, limit})
	return f.docs, f.err
}

type fakeRewriter struct {
	out   string
	calls int
}

func (f *fakeRewriter) Rewrite(_ context.Context, _ []coref.Turn, _ string) (*coref.Result, error) {
	f.calls++
	return &coref.Result{Query: f.out, RawMetadata: json.RawMessage(`{"step":"coref"}`)}, nil
}

type fakeLLM struct {
	content string
	err     error
	reqs    []*llm.CompletionRequest
}

func (f *fakeLLM) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content, Model: "gpt-3.5-turbo", RawMetadata: json.RawMessage(`{"step":"answer"}`)}, nil
}

func (f *fakeLLM) Name() string { return "fake" }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SystemPrompt = "You answer farmers."
	return cfg
}

func pestHistory() *fakeHistory {
	return &fakeHistory{entries: []model.HistoryEntry{
		{ID: "newer", QueryInPivot: "How do I protect my crops from pests?", ResponseInPivot: "Use integrated pest management."},
		{ID: "older", QueryInPivot: "Hello", ResponseInPivot: "Hi, how can I help?"},
	}}
}

func TestAnswerCacheHit(t *testing.T) {
	matcher := &fakeMatcher{matches: []model.SimilarityMatch{{
		Entry: model.HistoryEntry{ID: "prev-1", ResponseInPivot: "Neem oil, pheromone traps and crop rotation."},
		Score: 0.98,
	}}}
	retriever := &fakeRetriever{}
	gen := &fakeLLM{content: "unused"}
	rewriter := &fakeRewriter{out: "What are the common methods of integrated pest management?"}

	e := NewEngine(pestHistory(), matcher, retriever, rewriter, gen, testConfig(), logger.NewNop())
	res, err := e.Answer(context.Background(), Request{UserID: "u1", Query: "What are the methods in that?"})
	require.NoError(t, err)

	assert.True(t, res.CacheHit)
	assert.Equal(t, "prev-1", res.ReusedEntryID)
	assert.Equal(t, "Neem oil, pheromone traps and crop rotation.", res.Response)
	assert.Equal(t, "What are the common methods of integrated pest management?", res.Rewritten)
	assert.Empty(t, gen.reqs)
	assert.Empty(t, retriever.calls)

	require.Len(t, matcher.calls, 1)
	assert.Equal(t, similarityCall{"What are the common methods of integrated pest management?", 0.97, 1}, matcher.calls[0])
	assert.JSONEq(t, `[{"step":"coref"},null]`, string(res.Metadata))
}

func TestAnswerCacheMiss(t *testing.T) {
	matcher := &fakeMatcher{}
	retriever := &fakeRetriever{docs: []model.ContextDocument{
		{ID: "d1", Content: "Integrated pest management combines biological controls.", Tags: "pests"},
		{ID: "d2", Content: "Second document must not reach the prompt.", Tags: "other"},
	}}
	gen := &fakeLLM{content: "Biological, cultural and chemical controls."}
	rewriter := &fakeRewriter{out: "User: What are the methods of integrated pest management?"}

	e := NewEngine(pestHistory(), matcher, retriever, rewriter, gen, testConfig(), logger.NewNop())
	res, err := e.Answer(context.Background(), Request{UserID: "u1", Query: "What are the methods in that?"})
	require.NoError(t, err)

	assert.False(t, res.CacheHit)
	assert.Equal(t, "Biological, cultural and chemical controls.", res.Response)
	assert.Equal(t, "gpt-3.5-turbo", res.Model)
	assert.Len(t, res.Context, 2)

	require.Len(t, retriever.calls, 1)
	assert.Equal(t, "What are the methods of integrated pest management?", retriever.calls[0].query)
	assert.Equal(t, 0.78, retriever.calls[0].threshold)
	assert.Equal(t, 2, retriever.calls[0].limit)

	require.Len(t, gen.reqs, 1)
	msgs := gen.reqs[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "You answer farmers.", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "User: Hello\nAI: Hi, how can I help?\nUser: How do I protect my crops from pests?")
	assert.Contains(t, msgs[1].Content, "The user has asked a question: What are the methods of integrated pest management?")
	assert.Contains(t, msgs[1].Content, `[{"combined_prompt":"pests","combined_content":"Integrated pest management combines biological controls."}]`)
	assert.NotContains(t, msgs[1].Content, "Second document")
	assert.JSONEq(t, `[{"step":"coref"},{"step":"answer"}]`, string(res.Metadata))
}

func TestAnswerEmptyHistoryBypassesRewriteAndCache(t *testing.T) {
	matcher := &fakeMatcher{}
	retriever := &fakeRetriever{}
	rewriter := &fakeRewriter{out: "unused"}
	gen := &fakeLLM{content: "Spindle spots are a sign of blast disease."}

	e := NewEngine(&fakeHistory{}, matcher, retriever, rewriter, gen, testConfig(), logger.NewNop())
	res, err := e.Answer(context.Background(), Request{UserID: "u1", Query: "How do I fix spindle spots on paddy?"})
	require.NoError(t, err)

	assert.Zero(t, rewriter.calls)
	assert.Empty(t, matcher.calls)
	assert.Empty(t, res.Rewritten)
	require.Len(t, retriever.calls, 1)
	assert.Equal(t, "How do I fix spindle spots on paddy?", retriever.calls[0].query)
	require.Len(t, gen.reqs, 1)
	assert.Equal(t, "How do I fix spindle spots on paddy? Some expert context is provided in dictionary format here:[]\n", gen.reqs[0].Messages[1].Content)
}

func TestAnswerGenerationFailures(t *testing.T) {
	tests := []struct {
		name    string
		llm     *fakeLLM
		wantErr error
	}{
		{name: "no choices", llm: &fakeLLM{err: llm.ErrNoChoices}, wantErr: ErrNoAnswer},
		{name: "blank content", llm: &fakeLLM{content: "   "}, wantErr: ErrNoAnswer},
		{name: "provider error", llm: &fakeLLM{err: errors.New("503")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(&fakeHistory{}, &fakeMatcher{}, &fakeRetriever{}, nil, tt.llm, testConfig(), logger.NewNop())
			res, err := e.Answer(context.Background(), Request{UserID: "u1", Query: "q"})
			require.Error(t, err)
			assert.Nil(t, res)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestAnswerDegradesOnLookupFailures(t *testing.T) {
	matcher := &fakeMatcher{err: errors.New("search down")}
	retriever := &fakeRetriever{err: errors.New("search down")}
	gen := &fakeLLM{content: "An answer without context."}

	e := NewEngine(pestHistory(), matcher, retriever, &fakeRewriter{out: "q2"}, gen, testConfig(), logger.NewNop())
	res, err := e.Answer(context.Background(), Request{UserID: "u1", Query: "q"})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Empty(t, res.Context)
	assert.Equal(t, "An answer without context.", res.Response)
}

func TestAnswerIgnoresMatchesBelowThreshold(t *testing.T) {
	matcher := &fakeMatcher{matches: []model.SimilarityMatch{{
		Entry: model.HistoryEntry{ID: "prev", ResponseInPivot: "old"},
		Score: 0.9,
	}}}
	gen := &fakeLLM{content: "fresh"}

	e := NewEngine(pestHistory(), matcher, &fakeRetriever{}, &fakeRewriter{out: "q"}, gen, testConfig(), logger.NewNop())
	res, err := e.Answer(context.Background(), Request{UserID: "u1", Query: "q"})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, "fresh", res.Response)
}
