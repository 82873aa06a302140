package store

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/prompt-engine/internal/embedding"
	"github.com/capitalize-ai/prompt-engine/internal/model"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

// queryRecord is a row of the queries table.
type queryRecord struct {
	ID                 uuid.UUID        `gorm:"type:uuid;primaryKey"`
	UserID             string           `gorm:"type:text;not null;index:idx_queries_user_created,priority:1"`
	ConversationID     *string          `gorm:"type:text;index"`
	Query              string           `gorm:"type:text"`
	QueryInEnglish     string           `gorm:"type:text"`
	Response           string           `gorm:"type:text"`
	ResponseInEnglish  string           `gorm:"type:text"`
	CoreferencedPrompt string           `gorm:"type:text"`
	ResponseTime       int64            `gorm:"not null;default:0"`
	Metadata           datatypes.JSON   `gorm:"type:jsonb"`
	CacheHit           bool             `gorm:"not null;default:false"`
	ReusedQueryID      *string          `gorm:"type:text"`
	Embedding          *pgvector.Vector `gorm:"type:vector(1536)"`
	CreatedAt          time.Time        `gorm:"autoCreateTime;index:idx_queries_user_created,priority:2,sort:desc"`
}

func (queryRecord) TableName() string {
	return "queries"
}

// contextLinkRecord is a row of the similarity_search_response table.
type contextLinkRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	QueryID    uuid.UUID `gorm:"type:uuid;not null;index"`
	DocumentID string    `gorm:"type:text;not null"`
	Content    string    `gorm:"type:text"`
	Tags       string    `gorm:"type:text"`
	Similarity float64
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (contextLinkRecord) TableName() string {
	return "similarity_search_response"
}

// Open connects to Postgres and configures the connection pool.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.New(
			log.New(os.Stdout, "\r\n", log.LstdFlags),
			gormlogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormlogger.Warn,
				IgnoreRecordNotFoundError: true,
				ParameterizedQueries:      true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates the vector extension and the history tables, plus any extra
// models given.
func Migrate(ctx context.Context, db *gorm.DB, extra ...any) error {
	if err := db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	models := append([]any{&queryRecord{}, &contextLinkRecord{}}, extra...)
	if err := db.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// PostgresStore is a HistoryStore on Postgres. Similarity search needs an
// Embedder; without one FindSimilar always misses.
type PostgresStore struct {
	db       *gorm.DB
	embedder embedding.Embedder
	logger   *logger.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *gorm.DB, embedder embedding.Embedder, log *logger.Logger) *PostgresStore {
	return &PostgresStore{db: db, embedder: embedder, logger: log}
}

// Create implements HistoryStore.
func (s *PostgresStore) Create(ctx context.Context, entry *model.HistoryEntry) error {
	id, err := entryID(entry)
	if err != nil {
		return err
	}

	rec := &queryRecord{
		ID:                 id,
		UserID:             entry.UserID,
		ConversationID:     optional(entry.ConversationID),
		Query:              entry.Query,
		QueryInEnglish:     entry.QueryInPivot,
		Response:           entry.Response,
		ResponseInEnglish:  entry.ResponseInPivot,
		CoreferencedPrompt: entry.CoreferencedText,
		ResponseTime:       entry.ResponseTimeMs,
		Metadata:           datatypes.JSON(entry.Metadata),
		CacheHit:           entry.CacheHit,
		ReusedQueryID:      optional(entry.ReusedEntryID),
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, entry.LookupText())
		if err != nil {
			s.logger.Warn("failed to embed history entry, storing without vector",
				zap.String("message_id", entry.ID),
				zap.Error(err),
			)
		} else {
			v := pgvector.NewVector(vec)
			rec.Embedding = &v
		}
	}

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create history entry: %w", err)
	}
	entry.CreatedAt = rec.CreatedAt
	return nil
}

// Recent implements HistoryStore.
func (s *PostgresStore) Recent(ctx context.Context, userID string, n int) ([]model.HistoryEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	var recs []queryRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(n).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	entries := make([]model.HistoryEntry, len(recs))
	for i := range recs {
		entries[i] = recs[i].toEntry()
	}
	return entries, nil
}

// CreateContextLinks implements HistoryStore.
func (s *PostgresStore) CreateContextLinks(ctx context.Context, links []model.ContextLink) error {
	if len(links) == 0 {
		return nil
	}

	recs := make([]contextLinkRecord, 0, len(links))
	for _, l := range links {
		qid, err := uuid.Parse(l.QueryID)
		if err != nil {
			return fmt.Errorf("invalid query id %q: %w", l.QueryID, err)
		}
		recs = append(recs, contextLinkRecord{
			QueryID:    qid,
			DocumentID: l.DocumentID,
			Content:    l.Content,
			Tags:       l.Tags,
			Similarity: l.Score,
		})
	}

	if err := s.db.WithContext(ctx).Create(&recs).Error; err != nil {
		return fmt.Errorf("failed to create context links: %w", err)
	}
	return nil
}

// queryMatch is a past turn scored against a query.
type queryMatch struct {
	queryRecord
	Similarity float64
}

// similarQueries selects answered turns scoring at least threshold against
// vec, best first. A non-positive limit returns the single best match.
func similarQueries(tx *gorm.DB, vec pgvector.Vector, threshold float64, limit int) *gorm.DB {
	if limit <= 0 {
		limit = 1
	}
	return tx.
		Table(queryRecord{}.TableName()).
		Select("queries.*, 1 - (embedding <=> ?) as similarity", vec).
		Where("embedding IS NOT NULL").
		Where("response_in_english <> ''").
		Where("1 - (embedding <=> ?) >= ?", vec, threshold).
		Order("similarity DESC").
		Limit(limit)
}

// FindSimilar implements HistoryStore using pgvector cosine similarity.
func (s *PostgresStore) FindSimilar(ctx context.Context, query string, threshold float64, limit int) ([]model.SimilarityMatch, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	var results []queryMatch
	err = similarQueries(s.db.WithContext(ctx), pgvector.NewVector(vec), threshold, limit).
		Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}

	matches := make([]model.SimilarityMatch, len(results))
	for i := range results {
		matches[i] = model.SimilarityMatch{
			Entry: results[i].toEntry(),
			Score: results[i].Similarity,
		}
	}
	return matches, nil
}

func (r *queryRecord) toEntry() model.HistoryEntry {
	return model.HistoryEntry{
		ID:               r.ID.String(),
		UserID:           r.UserID,
		ConversationID:   deref(r.ConversationID),
		Query:            r.Query,
		QueryInPivot:     r.QueryInEnglish,
		Response:         r.Response,
		ResponseInPivot:  r.ResponseInEnglish,
		CoreferencedText: r.CoreferencedPrompt,
		ResponseTimeMs:   r.ResponseTime,
		Metadata:         []byte(r.Metadata),
		CacheHit:         r.CacheHit,
		ReusedEntryID:    deref(r.ReusedQueryID),
		CreatedAt:        r.CreatedAt,
	}
}

// entryID returns the entry's id, assigning a fresh one when empty.
func entryID(entry *model.HistoryEntry) (uuid.UUID, error) {
	if entry.ID == "" {
		id := uuid.New()
		entry.ID = id.String()
		return id, nil
	}
	id, err := uuid.Parse(entry.ID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid entry id %q: %w", entry.ID, err)
	}
	return id, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
