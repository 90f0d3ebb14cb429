package search

import (
	"sort"
)

// SubQueryResult is one sub-query's fused list, or the reason it has none.
type SubQueryResult struct {
	SubQuery SubQuery
	Results  []*FusedResult
	Err      error
}

// MergedResult is one distinct chunk after merging sub-query lists.
type MergedResult struct {
	FusedResult

	// SubQuery is the lowest-ordinal sub-query that returned the chunk.
	SubQuery SubQuery

	// SubQueryHits counts the sub-queries that returned the chunk.
	SubQueryHits int
}

// Merge combines per-sub-query lists into at most n distinct chunks
// (n <= 0 keeps everything). Failed sub-queries are skipped.
//
// A chunk returned by several sub-queries keeps its highest fused score,
// not a sum. Results are ordered by that score, then by the chunk's ord
// within its document, then by chunk ID.
func Merge(per []SubQueryResult, n int) []*MergedResult {
	byID := make(map[int64]*MergedResult)
	for _, sq := range per {
		if sq.Err != nil {
			continue
		}
		for _, r := range sq.Results {
			if r == nil {
				continue
			}
			m, ok := byID[r.ChunkID]
			if !ok {
				byID[r.ChunkID] = &MergedResult{
					FusedResult:  *r,
					SubQuery:     sq.SubQuery,
					SubQueryHits: 1,
				}
				continue
			}
			m.SubQueryHits++
			if sq.SubQuery.Ordinal < m.SubQuery.Ordinal {
				m.SubQuery = sq.SubQuery
			}
			if r.Score > m.Score {
				provenance, hits := m.SubQuery, m.SubQueryHits
				m.FusedResult = *r
				m.SubQuery, m.SubQueryHits = provenance, hits
			}
			if m.Chunk == nil {
				m.Chunk = r.Chunk
			}
		}
	}

	merged := make([]*MergedResult, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if oa, ob := ordOf(a), ordOf(b); oa != ob {
			return oa < ob
		}
		return a.ChunkID < b.ChunkID
	})
	if n > 0 && len(merged) > n {
		merged = merged[:n]
	}
	return merged
}

func ordOf(m *MergedResult) int {
	if m.Chunk == nil {
		return 0
	}
	return m.Chunk.Ord
}
