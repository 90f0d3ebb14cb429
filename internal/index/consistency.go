package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Aman-CERP/recall/internal/store"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyMissingVector is a stored embedding absent from the
	// vector index.
	InconsistencyMissingVector InconsistencyType = iota
	// InconsistencyOrphanVector is a vector index entry with no stored
	// embedding behind it.
	InconsistencyOrphanVector
	// InconsistencyLexicalCount means the secondary lexical index holds a
	// different number of chunks than the store.
	InconsistencyLexicalCount
)

// String returns the snake_case name of the type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyLexicalCount:
		return "lexical_count"
	default:
		return "unknown"
	}
}

// Inconsistency is one detected cross-index issue. ChunkID is zero for
// count-level issues.
type Inconsistency struct {
	Type    InconsistencyType
	ChunkID int64
	Details string
}

// CheckResult contains the outcome of a consistency check.
type CheckResult struct {
	// Checked is the number of stored embeddings compared.
	Checked         int
	Inconsistencies []Inconsistency
	Duration        time.Duration
}

// Consistent reports whether no issue was found.
func (r *CheckResult) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// ListableVectors is a vector index that can enumerate its entries.
type ListableVectors interface {
	store.VectorIndex
	IDs() []int64
}

// CountedLexical is a secondary lexical index that can rebuild itself
// from the store.
type CountedLexical interface {
	Count() (uint64, error)
	Sync(ctx context.Context) error
}

// ConsistencyChecker compares the in-memory vector index and the optional
// bleve index against the store, which is the source of truth.
type ConsistencyChecker struct {
	store   *store.SQLiteStore
	vectors ListableVectors
	lexical CountedLexical
}

// NewConsistencyChecker creates a checker. vectors and lexical may be nil.
func NewConsistencyChecker(st *store.SQLiteStore, vectors ListableVectors, lexical CountedLexical) *ConsistencyChecker {
	return &ConsistencyChecker{store: st, vectors: vectors, lexical: lexical}
}

// Check compares every index against the store.
func (c *ConsistencyChecker) Check(ctx context.Context) (*CheckResult, error) {
	start := time.Now()
	result := &CheckResult{}

	if c.vectors != nil {
		ids, _, err := c.store.AllEmbeddings(ctx)
		if err != nil {
			return nil, err
		}
		result.Checked = len(ids)

		stored := make(map[int64]bool, len(ids))
		for _, id := range ids {
			stored[id] = true
		}
		indexed := make(map[int64]bool, len(ids))
		for _, id := range c.vectors.IDs() {
			indexed[id] = true
			if !stored[id] {
				result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
					Type:    InconsistencyOrphanVector,
					ChunkID: id,
					Details: "vector index entry without a stored embedding",
				})
			}
		}
		for _, id := range ids {
			if !indexed[id] {
				result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
					Type:    InconsistencyMissingVector,
					ChunkID: id,
					Details: "stored embedding missing from the vector index",
				})
			}
		}
	}

	if c.lexical != nil {
		stats, err := c.store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		count, err := c.lexical.Count()
		if err != nil {
			slog.Warn("lexical_count_failed", slog.String("error", err.Error()))
		} else if int(count) != stats.Chunks {
			result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
				Type:    InconsistencyLexicalCount,
				Details: fmt.Sprintf("lexical index holds %d chunks, store holds %d", count, stats.Chunks),
			})
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// Repair fixes detected issues: orphans are removed from the vector index,
// missing vectors are re-added from the store and a lexical count mismatch
// triggers a rebuild.
func (c *ConsistencyChecker) Repair(ctx context.Context, issues []Inconsistency) error {
	var orphans []int64
	missing := make(map[int64]bool)
	var lexical bool

	for _, issue := range issues {
		switch issue.Type {
		case InconsistencyOrphanVector:
			orphans = append(orphans, issue.ChunkID)
		case InconsistencyMissingVector:
			missing[issue.ChunkID] = true
		case InconsistencyLexicalCount:
			lexical = true
		}
	}

	if len(orphans) > 0 && c.vectors != nil {
		if err := c.vectors.Delete(ctx, orphans); err != nil {
			return err
		}
		slog.Info("deleted orphan vector entries", slog.Int("count", len(orphans)))
	}

	if len(missing) > 0 && c.vectors != nil {
		ids, vecs, err := c.store.AllEmbeddings(ctx)
		if err != nil {
			return err
		}
		var addIDs []int64
		var addVecs [][]float32
		for i, id := range ids {
			if missing[id] {
				addIDs = append(addIDs, id)
				addVecs = append(addVecs, vecs[i])
			}
		}
		if err := c.vectors.Add(ctx, addIDs, addVecs); err != nil {
			return err
		}
		slog.Info("restored missing vector entries", slog.Int("count", len(addIDs)))
	}

	if lexical && c.lexical != nil {
		if err := c.lexical.Sync(ctx); err != nil {
			return err
		}
	}
	return nil
}
