// Package telemetry records local retrieval telemetry: how often each
// retrieval kind runs, which terms are asked for, which queries come back
// empty and how long retrieval takes. Nothing leaves the machine; the
// aggregates live in the recall datastore and are reported by status.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/blevesearch/segment"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind classifies a recorded query by the operation that served it.
type Kind string

const (
	KindLexical Kind = "lexical"
	KindVector  Kind = "vector"
	KindHybrid  Kind = "hybrid"
	KindAnswer  Kind = "answer"
)

// LatencyBucket is one bucket of the latency histogram.
type LatencyBucket string

const (
	BucketUnder10ms  LatencyBucket = "lt_10ms"
	BucketUnder50ms  LatencyBucket = "lt_50ms"
	BucketUnder100ms LatencyBucket = "lt_100ms"
	BucketUnder500ms LatencyBucket = "lt_500ms"
	BucketSlow       LatencyBucket = "ge_500ms"
)

// BucketFor returns the histogram bucket for d.
func BucketFor(d time.Duration) LatencyBucket {
	switch ms := d.Milliseconds(); {
	case ms < 10:
		return BucketUnder10ms
	case ms < 50:
		return BucketUnder50ms
	case ms < 100:
		return BucketUnder100ms
	case ms < 500:
		return BucketUnder500ms
	default:
		return BucketSlow
	}
}

// Event is one served query.
type Event struct {
	Query    string
	Kind     Kind
	Results  int
	Degraded bool
	Latency  time.Duration
	At       time.Time
}

// TermCount is a query term and how often it was asked for.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// minTermRunes drops particles like "of" and "a" from term tracking.
const minTermRunes = 3

// ExtractTerms returns the distinct lowercase word and number segments of
// query with at least three runes, in first-seen order.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var terms []string
	seg := segment.NewWordSegmenterDirect([]byte(query))
	for seg.Segment() {
		switch seg.Type() {
		case segment.Letter, segment.Number, segment.Ideo, segment.Kana:
		default:
			continue
		}
		term := seg.Text()
		if utf8.RuneCountInString(term) < minTermRunes {
			continue
		}
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	return terms
}

// Snapshot is the in-process view of the collector since it was created.
type Snapshot struct {
	Total       int64                   `json:"total"`
	ZeroResults int64                   `json:"zero_results"`
	Degraded    int64                   `json:"degraded"`
	Repeats     int64                   `json:"repeats"`
	ByKind      map[Kind]int64          `json:"by_kind"`
	Latency     map[LatencyBucket]int64 `json:"latency"`
	TopTerms    []TermCount             `json:"top_terms"`
	RecentEmpty []string                `json:"recent_empty"`
	Since       time.Time               `json:"since"`
}

// RepeatRate is the share of queries that repeated a recent query.
func (s *Snapshot) RepeatRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Repeats) / float64(s.Total)
}

// Sink persists the deltas the collector accumulates between flushes.
type Sink interface {
	Save(ctx context.Context, batch Batch) error
}

// Batch is the set of counts recorded since the previous flush.
type Batch struct {
	Date         string
	Kinds        map[Kind]KindCounts
	Terms        map[string]int64
	Latency      map[LatencyBucket]int64
	EmptyQueries []EmptyQuery
}

// KindCounts aggregates the queries of one kind.
type KindCounts struct {
	Queries     int64
	ZeroResults int64
	Degraded    int64
}

// EmptyQuery is a query that returned no chunks.
type EmptyQuery struct {
	Query string
	Kind  Kind
	At    time.Time
}

func (b *Batch) empty() bool {
	return len(b.Kinds) == 0 && len(b.Terms) == 0 && len(b.Latency) == 0 && len(b.EmptyQueries) == 0
}

func newBatch() Batch {
	return Batch{
		Kinds:   make(map[Kind]KindCounts),
		Terms:   make(map[string]int64),
		Latency: make(map[LatencyBucket]int64),
	}
}

// merge adds other's counts back into b after a failed flush.
func (b *Batch) merge(other Batch) {
	for k, c := range other.Kinds {
		cur := b.Kinds[k]
		cur.Queries += c.Queries
		cur.ZeroResults += c.ZeroResults
		cur.Degraded += c.Degraded
		b.Kinds[k] = cur
	}
	for t, c := range other.Terms {
		b.Terms[t] += c
	}
	for l, c := range other.Latency {
		b.Latency[l] += c
	}
	b.EmptyQueries = append(other.EmptyQueries, b.EmptyQueries...)
}

// Config sizes the collector.
type Config struct {
	TopTerms      int           // distinct terms kept in memory (default 100)
	RecentEmpty   int           // zero-result queries kept (default 100)
	RecentQueries int           // query hashes kept for repeat detection (default 500)
	FlushInterval time.Duration // 0 flushes only on Flush and Close
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTerms:      100,
		RecentEmpty:   100,
		RecentQueries: 500,
		FlushInterval: time.Minute,
	}
}

// Collector aggregates query events in memory and flushes deltas to a
// Sink. Safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	byKind      map[Kind]int64
	latency     map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	recent      *lru.Cache[string, struct{}]
	empty       *Ring[string]
	total       int64
	zeroResults int64
	degraded    int64
	repeats     int64
	since       time.Time

	pending Batch
	sink    Sink
	stop    chan struct{}
	done    chan struct{}
	closed  bool
}

// NewCollector returns a collector flushing to sink, which may be nil to
// keep telemetry in memory only.
func NewCollector(sink Sink, cfg Config) *Collector {
	def := DefaultConfig()
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = def.TopTerms
	}
	if cfg.RecentEmpty <= 0 {
		cfg.RecentEmpty = def.RecentEmpty
	}
	if cfg.RecentQueries <= 0 {
		cfg.RecentQueries = def.RecentQueries
	}

	terms, _ := lru.New[string, int64](cfg.TopTerms)
	recent, _ := lru.New[string, struct{}](cfg.RecentQueries)
	c := &Collector{
		byKind:  make(map[Kind]int64),
		latency: make(map[LatencyBucket]int64),
		terms:   terms,
		recent:  recent,
		empty:   NewRing[string](cfg.RecentEmpty),
		since:   time.Now(),
		pending: newBatch(),
		sink:    sink,
	}

	if sink != nil && cfg.FlushInterval > 0 {
		c.stop = make(chan struct{})
		c.done = make(chan struct{})
		go c.flushLoop(cfg.FlushInterval)
	}
	return c
}

func (c *Collector) flushLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(ctx); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
			cancel()
		case <-c.stop:
			return
		}
	}
}

// Record adds e to the aggregates. Events after Close are dropped.
func (c *Collector) Record(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	terms := ExtractTerms(e.Query)
	key := queryKey(e.Query)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.total++
	c.byKind[e.Kind]++
	bucket := BucketFor(e.Latency)
	c.latency[bucket]++

	kc := c.pending.Kinds[e.Kind]
	kc.Queries++
	if e.Results == 0 {
		c.zeroResults++
		kc.ZeroResults++
		c.empty.Add(e.Query)
		c.pending.EmptyQueries = append(c.pending.EmptyQueries, EmptyQuery{Query: e.Query, Kind: e.Kind, At: e.At})
	}
	if e.Degraded {
		c.degraded++
		kc.Degraded++
	}
	c.pending.Kinds[e.Kind] = kc
	c.pending.Latency[bucket]++

	for _, t := range terms {
		n, _ := c.terms.Get(t)
		c.terms.Add(t, n+1)
		c.pending.Terms[t]++
	}

	if _, ok := c.recent.Get(key); ok {
		c.repeats++
	}
	c.recent.Add(key, struct{}{})
}

// queryKey normalizes case and surrounding whitespace for repeat detection.
func queryKey(query string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(sum[:16])
}

// Snapshot returns the aggregates recorded by this collector.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Snapshot{
		Total:       c.total,
		ZeroResults: c.zeroResults,
		Degraded:    c.degraded,
		Repeats:     c.repeats,
		ByKind:      make(map[Kind]int64, len(c.byKind)),
		Latency:     make(map[LatencyBucket]int64, len(c.latency)),
		RecentEmpty: c.empty.Items(),
		Since:       c.since,
	}
	for k, v := range c.byKind {
		s.ByKind[k] = v
	}
	for k, v := range c.latency {
		s.Latency[k] = v
	}
	for _, t := range c.terms.Keys() {
		if n, ok := c.terms.Peek(t); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: t, Count: n})
		}
	}
	SortTerms(s.TopTerms)
	return s
}

// SortTerms orders terms by count descending, then alphabetically.
func SortTerms(terms []TermCount) {
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].Count != terms[j].Count {
			return terms[i].Count > terms[j].Count
		}
		return terms[i].Term < terms[j].Term
	})
}

// Flush hands the counts recorded since the last flush to the sink. On
// failure they are kept for the next attempt.
func (c *Collector) Flush(ctx context.Context) error {
	if c.sink == nil {
		return nil
	}

	c.mu.Lock()
	batch := c.pending
	c.pending = newBatch()
	c.mu.Unlock()

	if batch.empty() {
		return nil
	}
	batch.Date = time.Now().Format(time.DateOnly)
	if err := c.sink.Save(ctx, batch); err != nil {
		c.mu.Lock()
		c.pending.merge(batch)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Close stops the flush loop and flushes what is pending. Idempotent.
func (c *Collector) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.stop != nil {
		close(c.stop)
		<-c.done
	}
	return c.Flush(ctx)
}
