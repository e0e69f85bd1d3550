// Package audit records compliance violations for facilitator review. Records
// carry the field name and pattern class only; the offending value is gone by
// the time a record is written.
package audit

import (
	"log"
	"sort"
	"sync"
	"time"
)

// DefaultCapacity is the number of recent violation records retained in
// memory. Older records are overwritten oldest-first.
const DefaultCapacity = 512

// Record is one rejected capture attempt.
type Record struct {
	Field     string
	Pattern   string
	Category  string
	EventType string
	At        time.Time
}

// ClassCount is an aggregate count for one pattern class.
type ClassCount struct {
	Pattern string
	Count   int64
}

// Log is a bounded in-memory violation log with per-class counters. It is
// safe for concurrent use.
type Log struct {
	mu      sync.RWMutex
	ring    []Record
	next    int
	wrapped bool
	counts  map[string]int64
	total   int64
	now     func() time.Time
}

// NewLog creates a violation log holding up to capacity records. A capacity
// of zero or less uses DefaultCapacity.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		ring:   make([]Record, capacity),
		counts: make(map[string]int64),
		now:    time.Now,
	}
}

// RecordViolation appends a violation record and bumps the class counter.
func (l *Log) RecordViolation(field, pattern, category, eventType string) {
	l.mu.Lock()
	rec := Record{
		Field:     field,
		Pattern:   pattern,
		Category:  category,
		EventType: eventType,
		At:        l.now().UTC(),
	}
	l.ring[l.next] = rec
	l.next++
	if l.next == len(l.ring) {
		l.next = 0
		l.wrapped = true
	}
	l.counts[pattern]++
	l.total++
	l.mu.Unlock()

	log.Printf("[WARN] audit: capture rejected: field=%q pattern=%s type=%s", field, pattern, eventType)
}

// Recent returns up to n of the most recent records, newest first.
func (l *Log) Recent(n int) []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.wrapped {
		size = len(l.ring)
	}
	if n <= 0 || size == 0 {
		return []Record{}
	}
	if n > size {
		n = size
	}

	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.ring)
		}
		out = append(out, l.ring[idx])
	}
	return out
}

// Counts returns the per-class totals sorted by count descending, then by
// pattern name for stable output.
func (l *Log) Counts() []ClassCount {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]ClassCount, 0, len(l.counts))
	for p, c := range l.counts {
		out = append(out, ClassCount{Pattern: p, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// Total returns the number of violations recorded over the process lifetime,
// including records the ring has since overwritten.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
