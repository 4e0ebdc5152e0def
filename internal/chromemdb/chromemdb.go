package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"knowledge-qa/internal/config"
	"knowledge-qa/internal/helper"
)

// meta data will have source filename, page number, chunk id

// VectorDBManager encapsulates the chromem-go database operations for one
// collection.
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	dbPath        string
	persistent    bool
	compress      bool
	encryptionKey string
	filePath      string
}

var (
	persistentMu  sync.Mutex
	persistentDBs = map[string]*chromem.DB{}
)

// NewVectorDBManager opens the database described by cfg. Persistent
// databases are shared per path within the process.
func NewVectorDBManager(cfg config.ChromemConfig) (*VectorDBManager, error) {
	m := &VectorDBManager{
		dbPath:        cfg.Path,
		persistent:    cfg.Persistent,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
	}
	if !cfg.Persistent {
		m.db = chromem.NewDB()
		return m, nil
	}

	persistentMu.Lock()
	defer persistentMu.Unlock()
	if db, ok := persistentDBs[cfg.Path]; ok {
		m.db = db
		return m, nil
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %v", err)
	}
	persistentDBs[cfg.Path] = db
	m.db = db
	return m, nil
}

// GetOrCreateCollection opens or creates the collection used by this manager.
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// Embeddings are always supplied, so the collection never calls the
	// embedding func.
	c, err := m.db.GetOrCreateCollection(collectionName, nil, noEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c
	m.filePath = filepath.Join(m.dbPath, collectionName+".chromem")
	return c, nil
}

func noEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("chromem collection was asked to embed text; embeddings must be precomputed")
}

// CreateDocs adds multiple documents
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// Search performs a similarity search for a precomputed query embedding.
// nResults is clamped to the collection size.
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, nResults int) ([]chromem.Result, error) {
	if m.collection == nil {
		return nil, fmt.Errorf("collection is required")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	nResults = min(nResults, m.collection.Count())
	if nResults <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	return results, nil
}

// Count returns the number of documents in the collection.
func (m *VectorDBManager) Count() int {
	if m.collection == nil {
		return 0
	}
	return m.collection.Count()
}

// DeleteCollection drops the collection
func (m *VectorDBManager) DeleteCollection() error {
	if m.collection == nil {
		return nil
	}
	err := m.db.DeleteCollection(m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to drop collection: %v", err)
	}
	m.collection = nil
	return nil
}

// Persistent reports whether the collection lives on disk.
func (m *VectorDBManager) Persistent() bool { return m.persistent }

// Export writes the collection to an encrypted file next to the database.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.collection == nil {
		return fmt.Errorf("collection is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}
	if err := helper.CreateFolder(m.dbPath); err != nil {
		return err
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}
