package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"knowledge-qa/internal/config"
)

// Document is one embedded chunk. Rows of different folder indexes share the
// table and are told apart by IndexID.
type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string          `bun:"id,pk"`
	IndexID       string          `bun:"index_id,notnull"`
	Position      int             `bun:"position,notnull"`
	Content       string          `bun:"content,notnull"`
	SourceFile    string          `bun:"source_filename"`
	PageNumber    int             `bun:"page_number"`
	ChunkID       int             `bun:"chunk_id"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

// Match is a search hit: the row position and its cosine similarity.
type Match struct {
	Position int     `bun:"position"`
	Score    float64 `bun:"score"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens a pool with the configured driver. It does not dial.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	switch cfg.Driver {
	case "pq":
		dsn, err := withPassword(cfg.DSN, cfg.Password)
		if err != nil {
			return nil, err
		}
		return sql.Open("postgres", dsn)
	case "", "pgdriver":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func withPassword(dsn, password string) (string, error) {
	if password == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse dsn: %w", err)
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, password)
	return u.String(), nil
}

// InitDB creates the vector extension, the documents table and its index.
func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("documents_index_id_idx").
		IfNotExists().
		Column("index_id").
		Exec(ctx)
	return err
}

// StoreDocuments inserts docs in one statement.
func StoreDocuments(ctx context.Context, db *bun.DB, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	_, err := UpsertQuery(db, &docs).Exec(ctx)
	return err
}

// UpsertQuery inserts docs, replacing rows with the same id.
func UpsertQuery(db *bun.DB, docs *[]Document) *bun.InsertQuery {
	return db.NewInsert().
		Model(docs).
		On("CONFLICT (id) DO UPDATE").
		Set("content = EXCLUDED.content").
		Set("source_filename = EXCLUDED.source_filename").
		Set("page_number = EXCLUDED.page_number").
		Set("chunk_id = EXCLUDED.chunk_id").
		Set("embedding = EXCLUDED.embedding")
}

// SearchQuery ranks the rows of one index by cosine distance to the query.
func SearchQuery(db *bun.DB, indexID string, queryEmbedding []float32, limit int) *bun.SelectQuery {
	vec := pgvector.NewVector(queryEmbedding)
	return db.NewSelect().
		Model((*Document)(nil)).
		Column("position").
		ColumnExpr("1 - (embedding <=> ?) AS score", vec).
		Where("index_id = ?", indexID).
		OrderExpr("embedding <=> ?", vec).
		Limit(limit)
}

func SearchDocuments(ctx context.Context, db *bun.DB, indexID string, queryEmbedding []float32, limit int) ([]Match, error) {
	var matches []Match
	err := SearchQuery(db, indexID, queryEmbedding, limit).Scan(ctx, &matches)
	return matches, err
}

// DeleteIndex removes every row of one index.
func DeleteIndex(ctx context.Context, db *bun.DB, indexID string) error {
	_, err := db.NewDelete().Model((*Document)(nil)).Where("index_id = ?", indexID).Exec(ctx)
	return err
}

// TrimIndex deletes the rows of indexID at or past position n.
func TrimIndex(ctx context.Context, db *bun.DB, indexID string, n int) error {
	_, err := db.NewDelete().Model((*Document)(nil)).
		Where("index_id = ?", indexID).
		Where("position >= ?", n).
		Exec(ctx)
	return err
}

// DropDocuments drops the documents table.
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}
