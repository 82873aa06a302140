package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/capitalize-ai/prompt-engine/internal/embedding"
	"github.com/capitalize-ai/prompt-engine/internal/model"
)

// KnowledgeDocument is a row of the knowledge corpus.
type KnowledgeDocument struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Content   string          `gorm:"type:text;not null"`
	Tags      string          `gorm:"type:text"`
	Embedding pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}

// TableName implements gorm's tabler.
func (KnowledgeDocument) TableName() string {
	return "knowledge_documents"
}

// DefaultLimit is the number of documents returned when no limit is given.
const DefaultLimit = 2

// documentMatch is a knowledge document scored against a query.
type documentMatch struct {
	ID         uuid.UUID
	Content    string
	Tags       string
	Similarity float64
}

// nearestDocuments selects documents scoring at least threshold against vec,
// best first.
func nearestDocuments(tx *gorm.DB, vec pgvector.Vector, threshold float64, limit int) *gorm.DB {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return tx.
		Table(KnowledgeDocument{}.TableName()).
		Select("id, content, tags, 1 - (embedding <=> ?) as similarity", vec).
		Where("1 - (embedding <=> ?) >= ?", vec, threshold).
		Order("similarity DESC").
		Limit(limit)
}

// PGVector retrieves context from a Postgres table with a pgvector column.
type PGVector struct {
	db       *gorm.DB
	embedder embedding.Embedder
}

// NewPGVector creates a new PGVector retriever.
func NewPGVector(db *gorm.DB, embedder embedding.Embedder) *PGVector {
	return &PGVector{db: db, embedder: embedder}
}

// Retrieve returns up to limit documents with cosine similarity of at least
// threshold, best first.
func (p *PGVector) Retrieve(ctx context.Context, query string, threshold float64, limit int) ([]model.ContextDocument, error) {
	vec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []documentMatch
	err = nearestDocuments(p.db.WithContext(ctx), pgvector.NewVector(vec), threshold, limit).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search knowledge documents: %w", err)
	}

	docs := make([]model.ContextDocument, len(results))
	for i, r := range results {
		docs[i] = model.ContextDocument{
			ID:      r.ID.String(),
			Content: r.Content,
			Tags:    r.Tags,
			Score:   r.Similarity,
		}
	}
	return docs, nil
}

// Add embeds and stores a document in the corpus. Used by the ingest command.
func (p *PGVector) Add(ctx context.Context, content, tags string) (*KnowledgeDocument, error) {
	vec, err := p.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}

	doc := &KnowledgeDocument{
		Content:   content,
		Tags:      tags,
		Embedding: pgvector.NewVector(vec),
	}
	if err := p.db.WithContext(ctx).Create(doc).Error; err != nil {
		return nil, fmt.Errorf("failed to create knowledge document: %w", err)
	}
	return doc, nil
}
