// Package transcript provides the running transcript of a call.
//
// The Store maps caption identity to the latest content seen for it. Many
// ingestion goroutines may call Write while a reader takes ordered snapshots
// with ReadAll; each call holds the store lock for its whole body and nothing
// else.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability/metrics"
)

// WriteResult reports what a Write did to the store.
type WriteResult int

const (
	// Unchanged - content matched the stored item, nothing was mutated.
	Unchanged WriteResult = iota
	// Created - the identity was new.
	Created
	// Updated - the identity existed and its content was replaced.
	Updated
)

// String returns the string representation of the result.
func (r WriteResult) String() string {
	switch r {
	case Unchanged:
		return "UNCHANGED"
	case Created:
		return "CREATED"
	case Updated:
		return "UPDATED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", r)
	}
}

// Change describes a mutation observed on the store. Revision starts at 1 on
// creation and grows by one with every update of the same item.
type Change struct {
	Result   WriteResult
	Item     models.TranscriptItem
	Revision uint64
}

// Observer receives changes after the store lock has been released.
type Observer func(Change)

type entry struct {
	item     models.TranscriptItem
	seq      uint64 // insertion order, breaks timestamp ties
	revision uint64
}

// Store is a thread-safe transcript keyed by caption identity.
type Store struct {
	mu      sync.Mutex
	items   map[string]*entry
	nextSeq uint64

	refreshTimestamp bool
	observers        []Observer
	metrics          *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithRefreshTimestamp makes updates replace the stored timestamp with the
// one passed to Write. By default the creation timestamp is kept.
func WithRefreshTimestamp() Option {
	return func(s *Store) { s.refreshTimestamp = true }
}

// WithObserver registers an observer for Created and Updated results.
// Observers run after the lock is released, so concurrent writes to the same
// id may be observed out of order; use Change.Revision to discard stale ones.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{items: make(map[string]*entry), metrics: metrics.DefaultMetrics}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write records the latest content for id.
// A write whose content equals the stored content returns Unchanged and does not mutate the store.
func (s *Store) Write(id string, ts time.Time, speaker, content string) WriteResult {
	var (
		result WriteResult
		item     models.TranscriptItem
		revision uint64
	)

	s.mu.Lock()
	e, ok := s.items[id]
	switch {
	case !ok:
		e = &entry{
			item: models.TranscriptItem{ID: id, Timestamp: ts, Speaker: speaker, Content: content},
			seq:      s.nextSeq,
			revision: 1,
		}
		s.nextSeq++
		s.items[id] = e
		result = Created
	case e.item.Content != content:
		e.item.Content = content
		if s.refreshTimestamp {
			e.item.Timestamp = ts
		}
		e.revision++
		result = Updated
	default:
		result = Unchanged
	}
	item = e.item
	revision = e.revision
	n := len(s.items)
	s.mu.Unlock()

	s.metrics.RecordTranscriptWrite(strings.ToLower(result.String()), n)

	if result != Unchanged {
		for _, o := range s.observers {
			o(Change{Result: result, Item: item, Revision: revision})
		}
	}
	return result
}

// Get returns a copy of the item stored for id.
func (s *Store) Get(id string) (models.TranscriptItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok {
		return models.TranscriptItem{}, false
	}
	return e.item, true
}

// ReadAll returns a snapshot of all items sorted by timestamp ascending.
// Items with equal timestamps keep their insertion order.
func (s *Store) ReadAll() []models.TranscriptItem {
	s.mu.Lock()
	entries := make([]entry, 0, len(s.items))
	for _, e := range s.items {
		entries = append(entries, *e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		ti, tj := entries[i].item.Timestamp, entries[j].item.Timestamp
		if ti.Equal(tj) {
			return entries[i].seq < entries[j].seq
		}
		return ti.Before(tj)
	})

	out := make([]models.TranscriptItem, len(entries))
	for i, e := range entries {
		out[i] = e.item
	}
	return out
}

// Recent returns the last n items of the ordered snapshot.
func (s *Store) Recent(n int) []models.TranscriptItem {
	all := s.ReadAll()
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// Len returns the number of distinct identities in the store.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Render formats items as "speaker: content" lines.
func Render(items []models.TranscriptItem) string {
	var b strings.Builder
	for _, it := range items {
		if it.Speaker != "" {
			b.WriteString(it.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(it.Content)
		b.WriteString("\n")
	}
	return b.String()
}
