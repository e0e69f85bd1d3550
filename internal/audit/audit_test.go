package audit

import (
	"sync"
	"testing"
)

func TestRecordAndRecent(t *testing.T) {
	l := NewLog(8)

	l.RecordViolation("notes", "email", "behavioral", "lesson_start")
	l.RecordViolation("contact", "phone", "behavioral", "activity_complete")

	recent := l.Recent(10)
	if len(recent) != 2 {
		t.Fatalf("Recent returned %d records, want 2", len(recent))
	}
	// Newest first.
	if recent[0].Field != "contact" || recent[0].Pattern != "phone" {
		t.Errorf("newest record = %+v", recent[0])
	}
	if recent[1].Field != "notes" || recent[1].Pattern != "email" {
		t.Errorf("oldest record = %+v", recent[1])
	}
	if recent[0].At.IsZero() {
		t.Error("record timestamp not set")
	}
}

func TestRingOverwritesOldest(t *testing.T) {
	l := NewLog(4)

	for i := 0; i < 6; i++ {
		l.RecordViolation("f", "email", "behavioral", string(rune('a'+i)))
	}

	recent := l.Recent(10)
	if len(recent) != 4 {
		t.Fatalf("Recent returned %d records, want capacity 4", len(recent))
	}
	// The two oldest records (types "a" and "b") were overwritten.
	if recent[0].EventType != "f" || recent[3].EventType != "c" {
		t.Errorf("unexpected window: newest=%s oldest=%s", recent[0].EventType, recent[3].EventType)
	}
	if l.Total() != 6 {
		t.Errorf("Total = %d, want 6", l.Total())
	}
}

func TestCountsOrdering(t *testing.T) {
	l := NewLog(16)

	for i := 0; i < 3; i++ {
		l.RecordViolation("f", "phone", "behavioral", "x")
	}
	l.RecordViolation("f", "email", "behavioral", "x")
	l.RecordViolation("f", "ssn", "behavioral", "x")

	counts := l.Counts()
	if len(counts) != 3 {
		t.Fatalf("Counts returned %d classes, want 3", len(counts))
	}
	if counts[0].Pattern != "phone" || counts[0].Count != 3 {
		t.Errorf("top class = %+v", counts[0])
	}
	// Ties break alphabetically.
	if counts[1].Pattern != "email" || counts[2].Pattern != "ssn" {
		t.Errorf("tie ordering = %s, %s", counts[1].Pattern, counts[2].Pattern)
	}
}

func TestConcurrentRecording(t *testing.T) {
	l := NewLog(32)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.RecordViolation("f", "email", "behavioral", "x")
				_ = l.Recent(5)
				_ = l.Counts()
			}
		}()
	}
	wg.Wait()

	if l.Total() != 500 {
		t.Errorf("Total = %d, want 500", l.Total())
	}
	counts := l.Counts()
	if len(counts) != 1 || counts[0].Count != 500 {
		t.Errorf("Counts = %+v", counts)
	}
}

func TestEmptyLog(t *testing.T) {
	l := NewLog(0)

	if got := l.Recent(5); len(got) != 0 {
		t.Errorf("Recent on empty log = %v", got)
	}
	if got := l.Counts(); len(got) != 0 {
		t.Errorf("Counts on empty log = %v", got)
	}
	if l.Total() != 0 {
		t.Error("Total on empty log should be 0")
	}
}
