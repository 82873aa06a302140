// Package main loads documents into the pgvector knowledge corpus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/prompt-engine/internal/config"
	"github.com/capitalize-ai/prompt-engine/internal/embedding"
	"github.com/capitalize-ai/prompt-engine/internal/retrieval"
	"github.com/capitalize-ai/prompt-engine/internal/store"
	"github.com/capitalize-ai/prompt-engine/pkg/logger"
)

const ingestLongDesc string = `Embed documents and store them in the knowledge_documents table
used by SIMILARITY_BACKEND=pgvector.

The input is a JSON array of {"content": "...", "tags": "..."} objects.
Use "-" to read from stdin. DATABASE_URL and OPENAI_API_KEY must be set.

Examples:
  ingest --file corpus.json
  cat corpus.json | ingest --file -`

const ingestShortDesc string = "Load documents into the knowledge corpus"

// document is one input record.
type document struct {
	Content string `json:"content"`
	Tags    string `json:"tags"`
}

// documentAdder stores one embedded document.
type documentAdder interface {
	Add(ctx context.Context, content, tags string) (*retrieval.KnowledgeDocument, error)
}

type ingestCommander struct {
	file     string
	failFast bool
}

func newIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&cmder.file, "file", "f", "", "Path to a JSON array of documents, or - for stdin")
	cmd.Flags().BoolVar(&cmder.failFast, "fail-fast", false, "Stop at the first document that cannot be stored")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (c *ingestCommander) run(ctx context.Context, stdin io.Reader) error {
	cfg := config.Load()

	log, err := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	embedder, err := embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	in := stdin
	if c.file != "-" {
		f, err := os.Open(c.file)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", c.file, err)
		}
		defer f.Close()
		in = f
	}
	docs, err := loadDocuments(in)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if err := store.Migrate(ctx, db, &retrieval.KnowledgeDocument{}); err != nil {
		return err
	}

	stored, err := ingest(ctx, retrieval.NewPGVector(db, embedder), docs, c.failFast, log)
	log.Info("ingest finished", zap.Int("documents", len(docs)), zap.Int("stored", stored))
	return err
}

// loadDocuments decodes a JSON array of documents, dropping those without
// content.
func loadDocuments(r io.Reader) ([]document, error) {
	var raw []document
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}

	docs := raw[:0]
	for _, d := range raw {
		d.Content = strings.TrimSpace(d.Content)
		if d.Content == "" {
			continue
		}
		d.Tags = strings.TrimSpace(d.Tags)
		docs = append(docs, d)
	}
	return docs, nil
}

// ingest stores docs in order and returns how many were stored. Failures are
// logged and skipped unless failFast is set.
func ingest(ctx context.Context, adder documentAdder, docs []document, failFast bool, log *logger.Logger) (int, error) {
	var (
		stored int
		failed int
	)
	for i, d := range docs {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		doc, err := adder.Add(ctx, d.Content, d.Tags)
		if err != nil {
			if failFast {
				return stored, fmt.Errorf("document %d: %w", i, err)
			}
			failed++
			log.Warn("failed to store document", zap.Int("index", i), zap.Error(err))
			continue
		}
		stored++
		log.Debug("document stored", zap.String("id", doc.ID.String()))
	}
	if failed > 0 {
		return stored, fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return stored, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newIngestCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
