// Package vector adapts a pgvector-backed similarity search to the
// resilient execute entry point. Search results are volatile, so they get
// the short TTL category.
package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/developer-mesh/resilient-client/pkg/client"
	"github.com/developer-mesh/resilient-client/pkg/observability"
)

// SearchConfig holds configuration for the vector-search adapter
type SearchConfig struct {
	// Table is the pgvector-enabled table holding the embeddings
	Table string `mapstructure:"table"`
	// DefaultLimit applies when Search is called with a non-positive limit
	DefaultLimit int `mapstructure:"default_limit"`
	// TTL is the cache lifetime of a result set
	TTL time.Duration `mapstructure:"ttl"`
}

func (c *SearchConfig) applyDefaults() {
	if c.Table == "" {
		c.Table = "embeddings"
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
}

// Result is one ranked similarity match
type Result struct {
	ID      uuid.UUID       `db:"id" json:"id"`
	Content string          `db:"content" json:"content"`
	Meta    json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	Score   float64         `db:"score" json:"score"`
}

// SearchClient wraps pgvector similarity queries with the resilience layer
type SearchClient struct {
	db        *sqlx.DB
	resilient *client.Client
	config    SearchConfig
	logger    observability.Logger
}

// NewSearchClient creates a vector-search adapter
func NewSearchClient(db *sqlx.DB, resilient *client.Client, config SearchConfig, logger observability.Logger) *SearchClient {
	config.applyDefaults()
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	return &SearchClient{
		db:        db,
		resilient: resilient,
		config:    config,
		logger:    logger.WithPrefix("vector"),
	}
}

// Search returns the limit nearest matches for the query vector, optionally
// restricted to rows whose metadata contains every filter pair. Identical
// queries within the cache TTL never reach the database.
func (s *SearchClient) Search(ctx context.Context, query []float32, filters map[string]string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = s.config.DefaultLimit
	}

	key := client.Fingerprint("vector.search", s.config.Table, query, filters, limit)

	return client.Execute(ctx, s.resilient, key, func(ctx context.Context) ([]Result, error) {
		return s.query(ctx, query, filters, limit)
	}, client.Options{TTL: s.config.TTL})
}

func (s *SearchClient) query(ctx context.Context, query []float32, filters map[string]string, limit int) ([]Result, error) {
	vec := pgvector.NewVector(query)
	args := []interface{}{vec, limit}

	where := ""
	if len(filters) > 0 {
		filterJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, fmt.Errorf("failed to encode filters: %w", err)
		}
		where = "WHERE metadata @> $3::jsonb"
		args = append(args, string(filterJSON))
	}

	// Cosine distance; score normalized to [0, 1], higher is closer
	q := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $1
		LIMIT $2`, s.config.Table, where)

	var results []Result
	if err := s.db.SelectContext(ctx, &results, q, args...); err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	return results, nil
}
