package aitools

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/capitalize-ai/prompt-engine/internal/model"
)

type searchRequest struct {
	Query               string  `json:"query"`
	SimilarityThreshold float64 `json:"similarityThreshold"`
	MatchCount          int     `json:"matchCount"`
}

type searchHit struct {
	ID                json.RawMessage `json:"id"`
	Content           string          `json:"content"`
	Tags              json.RawMessage `json:"tags"`
	Similarity        float64         `json:"similarity"`
	QueryInEnglish    string          `json:"queryInEnglish"`
	ResponseInEnglish string          `json:"responseInEnglish"`
	Query             string          `json:"query"`
	Response          string          `json:"response"`
	Coreferenced      string          `json:"coreferencedPrompt"`
	UserID            string          `json:"userId"`
}

func (c *Client) search(ctx context.Context, op, path, query string, threshold float64, matchCount int) ([]searchHit, error) {
	var hits []searchHit
	req := searchRequest{Query: query, SimilarityThreshold: threshold, MatchCount: matchCount}
	if err := c.post(ctx, op, c.lookup, path, req, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// SearchDocuments returns supporting documents for query, best first.
func (c *Client) SearchDocuments(ctx context.Context, query string, threshold float64, matchCount int) ([]model.ContextDocument, error) {
	hits, err := c.search(ctx, "search_documents", PathDocuments, query, threshold, matchCount)
	if err != nil {
		return nil, err
	}

	docs := make([]model.ContextDocument, 0, len(hits))
	for _, h := range hits {
		docs = append(docs, model.ContextDocument{
			ID:      rawID(h.ID),
			Content: h.Content,
			Tags:    flattenTags(h.Tags),
			Score:   h.Similarity,
		})
	}
	return docs, nil
}

// SearchHistory returns prior turns whose query is similar to query, best first.
func (c *Client) SearchHistory(ctx context.Context, query string, threshold float64, matchCount int) ([]model.SimilarityMatch, error) {
	hits, err := c.search(ctx, "search_history", PathHistory, query, threshold, matchCount)
	if err != nil {
		return nil, err
	}

	matches := make([]model.SimilarityMatch, 0, len(hits))
	for _, h := range hits {
		if h.ResponseInEnglish == "" {
			continue
		}
		matches = append(matches, model.SimilarityMatch{
			Entry: model.HistoryEntry{
				ID:               rawID(h.ID),
				UserID:           h.UserID,
				Query:            h.Query,
				QueryInPivot:     h.QueryInEnglish,
				Response:         h.Response,
				ResponseInPivot:  h.ResponseInEnglish,
				CoreferencedText: h.Coreferenced,
			},
			Score: h.Similarity,
		})
	}
	return matches, nil
}

// rawID accepts both numeric and string identifiers.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.Trim(string(raw), `"`)
}

// flattenTags accepts tags as a string or a list of strings.
func flattenTags(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, ", ")
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return string(raw)
}
