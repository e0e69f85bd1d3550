package types

import (
	"testing"
	"time"
)

func TestEventIDRoundTrip(t *testing.T) {
	gen := NewIDGenerator()

	for i := 0; i < 1000; i++ {
		id, err := gen.Generate()
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}

		s := id.String()
		if len(s) != 26 {
			t.Fatalf("expected 26-character string, got %d: %s", len(s), s)
		}

		parsed, err := ParseEventID(s)
		if err != nil {
			t.Fatalf("ParseEventID(%s) failed: %v", s, err)
		}
		if parsed != id {
			t.Fatalf("round trip mismatch: %v != %v", parsed, id)
		}
	}
}

func TestEventIDTimestamp(t *testing.T) {
	gen := NewIDGenerator()
	at := time.UnixMilli(1700000000123)

	id, err := gen.GenerateAt(at)
	if err != nil {
		t.Fatalf("GenerateAt failed: %v", err)
	}

	if id.Millis() != uint64(at.UnixMilli()) {
		t.Errorf("Millis() = %d, want %d", id.Millis(), at.UnixMilli())
	}
	if !id.Time().Equal(at) {
		t.Errorf("Time() = %v, want %v", id.Time(), at)
	}
}

func TestEventIDMonotonicWithinMillisecond(t *testing.T) {
	gen := NewIDGenerator()
	at := time.UnixMilli(1700000000000)

	var prev EventID
	for i := 0; i < 500; i++ {
		id, err := gen.GenerateAt(at)
		if err != nil {
			t.Fatalf("GenerateAt failed: %v", err)
		}
		if i > 0 && prev.Compare(id) >= 0 {
			t.Fatalf("id %d not greater than predecessor: %s <= %s", i, id, prev)
		}
		prev = id
	}
}

func TestEventIDStringOrderMatchesByteOrder(t *testing.T) {
	gen := NewIDGenerator()

	a, _ := gen.GenerateAt(time.UnixMilli(1000))
	b, _ := gen.GenerateAt(time.UnixMilli(2000))

	if a.Compare(b) >= 0 {
		t.Fatal("expected earlier id to compare less")
	}
	if !(a.String() < b.String()) {
		t.Errorf("string order does not match byte order: %s vs %s", a, b)
	}
}

func TestParseEventIDRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", "0123456789"},
		{"long", "0123456789012345678901234567"},
		{"invalid char", "0123456789012345678901234!"},
		{"excluded letter", "L1234567890123456789012345"},
		{"overflow first char", "Z0000000000000000000000000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseEventID(tc.in); err == nil {
				t.Errorf("expected error for %q", tc.in)
			}
		})
	}
}

func TestEventIDIsZero(t *testing.T) {
	var zero EventID
	if !zero.IsZero() {
		t.Error("zero value should report IsZero")
	}

	gen := NewIDGenerator()
	id, _ := gen.Generate()
	if id.IsZero() {
		t.Error("generated id should not report IsZero")
	}
}
