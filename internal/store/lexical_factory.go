package store

import (
	"context"
	"fmt"
	"path/filepath"
)

// LexicalBackend names a lexical index implementation.
type LexicalBackend string

const (
	// LexicalBackendSQLite searches chunks_fts inside the datastore (default).
	LexicalBackendSQLite LexicalBackend = "sqlite"

	// LexicalBackendBleve searches a bleve index kept beside the datastore.
	LexicalBackendBleve LexicalBackend = "bleve"
)

// BleveIndexPath returns where the bleve backend keeps its index.
func BleveIndexPath(dataDir string) string {
	return filepath.Join(dataDir, "lexical.bleve")
}

// NewLexicalIndex returns the lexical index for backend. For bleve it also
// returns the index as a SyncedIndex that ingestion must keep up to date;
// for sqlite the second value is nil because triggers maintain chunks_fts.
func NewLexicalIndex(ctx context.Context, backend string, st *SQLiteStore, dataDir string) (LexicalIndex, SyncedIndex, error) {
	switch LexicalBackend(backend) {
	case LexicalBackendSQLite, "":
		return st, nil, nil

	case LexicalBackendBleve:
		path := ""
		if dataDir != "" {
			path = BleveIndexPath(dataDir)
		}
		idx, err := NewBleveLexical(path, st)
		if err != nil {
			return nil, nil, err
		}
		if err := idx.Sync(ctx); err != nil {
			_ = idx.Close()
			return nil, nil, err
		}
		return idx, idx, nil

	default:
		return nil, nil, fmt.Errorf("unknown lexical backend: %s (valid options: sqlite, bleve)", backend)
	}
}
