package search

import (
	"sort"
)

// Fuse combines the lexical and vector lists into at most n results
// (n <= 0 keeps everything).
//
// Each source's scores are min-max normalized over that source's own list.
// A chunk's fused score is the weighted mean of the normalized scores of the
// sources that returned it: a source that did not return the chunk is left
// out of both numerator and denominator rather than counted as zero.
//
// Results are ordered by fused score, then by the better of the chunk's two
// source ranks, then by chunk ID.
func Fuse(lexical, vector []RankedHit, w Weights, n int) []*FusedResult {
	if len(lexical) == 0 && len(vector) == 0 {
		return []*FusedResult{}
	}

	byID := make(map[int64]*FusedResult, len(lexical)+len(vector))
	get := func(h RankedHit) *FusedResult {
		r, ok := byID[h.ChunkID]
		if !ok {
			r = &FusedResult{ChunkID: h.ChunkID}
			byID[h.ChunkID] = r
		}
		if r.Chunk == nil {
			r.Chunk = h.Chunk
		}
		return r
	}

	lexNorm := minMax(lexical)
	for i, h := range lexical {
		r := get(h)
		r.LexicalScore = lexNorm[i]
		r.LexicalRank = rankOf(h, i)
	}
	vecNorm := minMax(vector)
	for i, h := range vector {
		r := get(h)
		r.VectorScore = vecNorm[i]
		r.VectorRank = rankOf(h, i)
	}

	results := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		var num, den float64
		if r.LexicalRank > 0 {
			num += w.Lexical * r.LexicalScore
			den += w.Lexical
		}
		if r.VectorRank > 0 {
			num += w.Vector * r.VectorScore
			den += w.Vector
		}
		if den > 0 {
			r.Score = num / den
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool {
		return fusedLess(results[i], results[j])
	})
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results
}

// fusedLess reports whether a ranks before b.
func fusedLess(a, b *FusedResult) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if ra, rb := a.BestRank(), b.BestRank(); ra != rb {
		return ra < rb
	}
	return a.ChunkID < b.ChunkID
}

// minMax scales scores to [0,1] over hits. When every score is equal (a
// single hit included) each normalizes to 1.
func minMax(hits []RankedHit) []float64 {
	out := make([]float64, len(hits))
	if len(hits) == 0 {
		return out
	}
	lo, hi := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		lo = min(lo, h.Score)
		hi = max(hi, h.Score)
	}
	span := hi - lo
	for i, h := range hits {
		if span == 0 {
			out[i] = 1
			continue
		}
		out[i] = (h.Score - lo) / span
	}
	return out
}

// rankOf returns the hit's rank, defaulting to its 1-based list position.
func rankOf(h RankedHit, i int) int {
	if h.Rank > 0 {
		return h.Rank
	}
	return i + 1
}
