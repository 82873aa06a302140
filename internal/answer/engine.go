// Package answer produces open-domain answers. It rewrites the latest turn
// against recent history, reuses a stored answer for near-duplicate queries
// and otherwise retrieves context and generates a fresh answer.
package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/capitalize-ai/prompt-engine/internal/answer/coref"
	"github.com/capitalize-ai/prompt-engine/internal/llm"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
	"github.com/capitalize-ai/prompt-engine/pkg/metrics"
	"github.com/capitalize-ai/prompt-engine/pkg/tracing"
)

// ErrNoAnswer is returned when generation produced nothing usable.
var ErrNoAnswer = errors.New("no answer generated")

// HistoryReader returns a user's most recent entries, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, userID string, n int) ([]model.HistoryEntry, error)
}

// HistoryMatcher finds prior entries similar to a query, best first.
type HistoryMatcher interface {
	FindSimilar(ctx context.Context, query string, threshold float64, limit int) ([]model.SimilarityMatch, error)
}

// ContextRetriever finds supporting documents for a query, best first.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, threshold float64, limit int) ([]model.ContextDocument, error)
}

// Config tunes the engine.
type Config struct {
	SystemPrompt     string
	Model            string
	HistoryWindow    int
	CacheThreshold   float64
	ContextThreshold float64
	ContextLimit     int
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		HistoryWindow:    2,
		CacheThreshold:   0.97,
		ContextThreshold: 0.78,
		ContextLimit:     2,
	}
}

// Request is one open-domain question.
type Request struct {
	UserID string
	// Query is the pivot-language question.
	Query string
}

// Result describes how an answer was produced.
type Result struct {
	Query string
	// Rewritten is the coreferenced query; empty when there was no history.
	Rewritten string
	// Response is the answer in the pivot language.
	Response      string
	CacheHit      bool
	ReusedEntryID string
	Context       []model.ContextDocument
	Model         string
	Metadata      json.RawMessage
	// Latency covers cache lookup, retrieval and generation.
	Latency time.Duration
}

// LookupQuery is the query used for similarity comparisons.
func (r *Result) LookupQuery() string {
	if r.Rewritten != "" {
		return r.Rewritten
	}
	return r.Query
}

// Engine answers questions.
type Engine struct {
	history   HistoryReader
	matcher   HistoryMatcher
	retriever ContextRetriever
	rewriter  coref.Rewriter
	llm       llm.Client
	cfg       Config
	logger    *logger.Logger
}

// NewEngine creates a new Engine.
func NewEngine(
	history HistoryReader,
	matcher HistoryMatcher,
	retriever ContextRetriever,
	rewriter coref.Rewriter,
	client llm.Client,
	cfg Config,
	log *logger.Logger,
) *Engine {
	if rewriter == nil {
		rewriter = coref.PassThrough{}
	}
	return &Engine{
		history:   history,
		matcher:   matcher,
		retriever: retriever,
		rewriter:  rewriter,
		llm:       client,
		cfg:       cfg,
		logger:    log,
	}
}

// Answer answers req.Query for req.UserID.
func (e *Engine) Answer(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracing.Start(ctx, "answer")
	defer span.End()

	log := e.logger.With(zap.String("user_id", req.UserID))
	res := &Result{Query: req.Query}

	turns := e.recentTurns(ctx, req.UserID, log)

	var corefRaw json.RawMessage
	if len(turns) > 0 {
		rw, err := e.rewriter.Rewrite(ctx, turns, req.Query)
		if err != nil {
			log.Warn("query rewrite failed, using raw query", zap.Error(err))
			res.Rewritten = req.Query
		} else {
			res.Rewritten = coref.Clean(rw.Query)
			corefRaw = rw.RawMetadata
		}
		if res.Rewritten == "" {
			res.Rewritten = req.Query
		}
	}

	start := time.Now()

	if len(turns) > 0 && e.lookupCache(ctx, res, log) {
		res.Latency = time.Since(start)
		res.Metadata = combineMetadata(corefRaw, nil)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		return res, nil
	}
	span.SetAttributes(attribute.Bool("cache_hit", false))

	res.Context = e.retrieve(ctx, res.LookupQuery(), log)

	gen, err := e.generate(ctx, turns, res)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res.Response = gen.Content
	res.Model = gen.Model
	res.Latency = time.Since(start)
	res.Metadata = combineMetadata(corefRaw, gen.RawMetadata)

	log.Debug("answer generated",
		zap.String("model", gen.Model),
		zap.Int("context_items", len(res.Context)),
		zap.Duration("latency", res.Latency),
	)
	return res, nil
}

// recentTurns loads history oldest first. A failing store degrades to no
// history.
func (e *Engine) recentTurns(ctx context.Context, userID string, log *logger.Logger) []coref.Turn {
	if e.history == nil || e.cfg.HistoryWindow <= 0 {
		return nil
	}

	entries, err := e.history.Recent(ctx, userID, e.cfg.HistoryWindow)
	if err != nil {
		log.Warn("failed to load history", zap.Error(err))
		return nil
	}

	turns := make([]coref.Turn, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		turns = append(turns, coref.Turn{
			Query:    entries[i].QueryInPivot,
			Response: entries[i].ResponseInPivot,
		})
	}
	return turns
}

func (e *Engine) lookupCache(ctx context.Context, res *Result, log *logger.Logger) bool {
	if e.matcher == nil {
		return false
	}

	ctx, span := tracing.Start(ctx, "answer.cache_lookup")
	defer span.End()

	matches, err := e.matcher.FindSimilar(ctx, res.LookupQuery(), e.cfg.CacheThreshold, 1)
	if err != nil {
		span.RecordError(err)
		log.Warn("cache lookup failed, treating as miss", zap.Error(err))
		metrics.RecordCacheLookup(false)
		return false
	}

	for _, m := range matches {
		if m.Score < e.cfg.CacheThreshold || m.Entry.ResponseInPivot == "" {
			continue
		}
		res.CacheHit = true
		res.ReusedEntryID = m.Entry.ID
		res.Response = m.Entry.ResponseInPivot
		metrics.RecordCacheLookup(true)
		log.Info("answer reused from history",
			zap.String("reused_entry_id", m.Entry.ID),
			zap.Float64("score", m.Score),
		)
		return true
	}

	metrics.RecordCacheLookup(false)
	return false
}

// retrieve returns supporting context. A failing retriever degrades to no
// context.
func (e *Engine) retrieve(ctx context.Context, query string, log *logger.Logger) []model.ContextDocument {
	if e.retriever == nil {
		return nil
	}

	ctx, span := tracing.Start(ctx, "answer.retrieve")
	defer span.End()

	docs, err := e.retriever.Retrieve(ctx, query, e.cfg.ContextThreshold, e.cfg.ContextLimit)
	if err != nil {
		span.RecordError(err)
		log.Warn("context retrieval failed, generating without context", zap.Error(err))
		return nil
	}
	if e.cfg.ContextLimit > 0 && len(docs) > e.cfg.ContextLimit {
		docs = docs[:e.cfg.ContextLimit]
	}
	return docs
}

func (e *Engine) generate(ctx context.Context, turns []coref.Turn, res *Result) (*llm.CompletionResponse, error) {
	ctx, span := tracing.Start(ctx, "answer.generate")
	defer span.End()

	req := &llm.CompletionRequest{
		Model: e.cfg.Model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: e.cfg.SystemPrompt},
			{Role: llm.RoleUser, Content: BuildUserMessage(turns, res.Query, res.Rewritten, res.Context)},
		},
	}

	start := time.Now()
	resp, err := e.llm.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	modelName := e.cfg.Model
	if modelName == "" {
		modelName = e.llm.Name()
	}

	if err != nil {
		metrics.RecordGeneration(modelName, "error", elapsed, 0, 0)
		if errors.Is(err, llm.ErrNoChoices) {
			return nil, fmt.Errorf("%w: %v", ErrNoAnswer, err)
		}
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		metrics.RecordGeneration(modelName, "empty", elapsed, resp.TokensIn, resp.TokensOut)
		return nil, ErrNoAnswer
	}

	if resp.Model != "" {
		modelName = resp.Model
	}
	metrics.RecordGeneration(modelName, "success", elapsed, resp.TokensIn, resp.TokensOut)
	resp.Model = modelName
	return resp, nil
}

type contextItem struct {
	CombinedPrompt  string `json:"combined_prompt"`
	CombinedContent string `json:"combined_content"`
}

// BuildUserMessage renders the generation prompt. Only the top context
// document is included.
func BuildUserMessage(turns []coref.Turn, query, rewritten string, docs []model.ContextDocument) string {
	items := make([]contextItem, 0, 1)
	if len(docs) > 0 {
		items = append(items, contextItem{CombinedPrompt: docs[0].Tags, CombinedContent: docs[0].Content})
	}
	encoded, _ := json.Marshal(items)
	expert := "Some expert context is provided in dictionary format here:" + string(encoded) + "\n"

	if len(turns) == 0 {
		return query + " " + expert
	}

	question := rewritten
	if question == "" {
		question = query
	}

	var b strings.Builder
	b.WriteString("Some important elements of the conversation so far between the user and AI have been extracted in a dictionary here: ")
	b.WriteString(coref.Transcript(turns, query))
	b.WriteString(" The user has asked a question: ")
	b.WriteString(question)
	b.WriteString("\n ")
	b.WriteString(expert)
	return b.String()
}

func combineMetadata(parts ...json.RawMessage) json.RawMessage {
	out := make([]json.RawMessage, len(parts))
	for i, p := range parts {
		if len(p) == 0 {
			p = json.RawMessage("null")
		}
		out[i] = p
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return raw
}
