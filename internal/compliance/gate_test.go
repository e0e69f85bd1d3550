package compliance

import (
	"strings"
	"testing"
	"time"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/pkg/types"
)

func testGate() *Gate {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return newGateAt([]byte("test-salt"), func() time.Time { return at })
}

func TestSanitizeKeepsAllowlistedFields(t *testing.T) {
	g := testGate()

	out, err := g.Sanitize(map[string]types.Value{
		"empathy_score":    types.Int(4),
		"engagement_level": types.String("high"),
	}, CategoryBehavioral)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}

	if len(out.Fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(out.Fields))
	}
	if !out.Fields["empathy_score"].Equal(types.Int(4)) {
		t.Error("empathy_score not preserved")
	}
	if !out.Provenance.Anonymized {
		t.Error("output missing provenance marker")
	}
	if out.Provenance.Level != AnonymizationLevel {
		t.Errorf("provenance level = %q", out.Provenance.Level)
	}
}

func TestSanitizeDropsUnknownKeysSilently(t *testing.T) {
	g := testGate()

	out, err := g.Sanitize(map[string]types.Value{
		"empathy_score": types.Int(4),
		"widget_color":  types.String("blue"),
	}, CategoryBehavioral)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}

	if _, ok := out.Fields["widget_color"]; ok {
		t.Error("off-allowlist key should have been dropped")
	}
	if len(out.Dropped) != 1 || out.Dropped[0] != "widget_color" {
		t.Errorf("Dropped = %v", out.Dropped)
	}
}

func TestSanitizeRejectsIdentifyingKeys(t *testing.T) {
	g := testGate()

	cases := []string{"student_name", "parentEmail", "home-address", "StudentID", "user_id"}
	for _, key := range cases {
		_, err := g.Sanitize(map[string]types.Value{
			key: types.String("whatever"),
		}, CategoryBehavioral)
		if err == nil {
			t.Errorf("key %q should be rejected", key)
			continue
		}
		if errors.GetCode(err) != errors.CodeIdentifyingKey {
			t.Errorf("key %q: code = %s, want IDENTIFYING_KEY", key, errors.GetCode(err))
		}
		if errors.ViolationField(err) != key {
			t.Errorf("key %q: violation names %q", key, errors.ViolationField(err))
		}
	}
}

func TestSanitizeRejectsPIIShapedValues(t *testing.T) {
	g := testGate()

	cases := []struct {
		value   string
		pattern string
	}{
		{"call me at 555-123-4567", PatternPhone},
		{"kid@example.com", PatternEmail},
		{"078-05-1120", PatternSSN},
		{"42 Main St", PatternAddress},
	}

	for _, tc := range cases {
		// Value sits on an allowlisted key: the value scan must still reject.
		_, err := g.Sanitize(map[string]types.Value{
			"emotional_state": types.String(tc.value),
		}, CategoryBehavioral)
		if err == nil {
			t.Errorf("value %q should be rejected", tc.value)
			continue
		}
		if errors.GetCode(err) != errors.CodePIIPattern {
			t.Errorf("value %q: code = %s", tc.value, errors.GetCode(err))
		}
		if errors.ViolationPattern(err) != tc.pattern {
			t.Errorf("value %q: pattern = %s, want %s", tc.value, errors.ViolationPattern(err), tc.pattern)
		}
		// The violation must not re-leak the matched value.
		if strings.Contains(err.Error(), tc.value) {
			t.Errorf("violation leaks value: %s", err.Error())
		}
	}
}

func TestSanitizeScansDroppedKeysToo(t *testing.T) {
	g := testGate()

	// The key would be silently dropped, but the value is PII-shaped: the
	// whole record is rejected, not quietly cleaned.
	_, err := g.Sanitize(map[string]types.Value{
		"free_notes": types.String("my email is kid@example.com"),
	}, CategoryBehavioral)
	if err == nil {
		t.Fatal("expected rejection")
	}
	if errors.GetCode(err) != errors.CodePIIPattern {
		t.Errorf("code = %s", errors.GetCode(err))
	}
}

func TestSanitizeRejectsOverlongStrings(t *testing.T) {
	g := testGate()

	long := strings.Repeat("x", MaxStringLen+1)
	_, err := g.Sanitize(map[string]types.Value{
		"emotional_state": types.String(long),
	}, CategoryBehavioral)
	if err == nil {
		t.Fatal("expected rejection of overlong value")
	}
	if errors.GetCode(err) != errors.CodeValueTooLong {
		t.Errorf("code = %s", errors.GetCode(err))
	}

	// Exactly at the threshold is fine.
	exact := strings.Repeat("x", MaxStringLen)
	if _, err := g.Sanitize(map[string]types.Value{
		"emotional_state": types.String(exact),
	}, CategoryBehavioral); err != nil {
		t.Errorf("value at threshold rejected: %v", err)
	}
}

func TestSanitizeScansStringLists(t *testing.T) {
	g := testGate()

	_, err := g.Sanitize(map[string]types.Value{
		"prompt_type": types.StringList([]string{"clean", "555-123-4567"}),
	}, CategoryBehavioral)
	if err == nil {
		t.Fatal("expected rejection of PII inside list")
	}
}

func TestSanitizeEmptyMap(t *testing.T) {
	g := testGate()

	for _, fields := range []map[string]types.Value{nil, {}} {
		out, err := g.Sanitize(fields, CategoryBehavioral)
		if err != nil {
			t.Fatalf("empty map should pass: %v", err)
		}
		if len(out.Fields) != 0 {
			t.Errorf("expected empty output, got %v", out.Fields)
		}
		if !out.Provenance.Anonymized {
			t.Error("empty output still needs the provenance marker")
		}
	}
}

func TestSanitizeCategorySeparation(t *testing.T) {
	g := testGate()

	// app_version is general, not behavioral.
	out, err := g.Sanitize(map[string]types.Value{
		"app_version": types.String("2.1.0"),
	}, CategoryBehavioral)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if len(out.Fields) != 0 {
		t.Error("general key should not pass the behavioral allowlist")
	}

	out, err = g.Sanitize(map[string]types.Value{
		"app_version": types.String("2.1.0"),
	}, CategoryGeneral)
	if err != nil {
		t.Fatalf("Sanitize failed: %v", err)
	}
	if len(out.Fields) != 1 {
		t.Error("general key should pass the general allowlist")
	}
}

func TestHashKeyProperties(t *testing.T) {
	g := testGate()

	h1 := g.HashKey("classroom-7")
	h2 := g.HashKey("classroom-7")
	h3 := g.HashKey("classroom-8")

	if h1 != h2 {
		t.Error("same input must hash identically (joinability)")
	}
	if h1 == h3 {
		t.Error("different inputs should not collide")
	}
	if len(h1) != 64 {
		t.Errorf("digest length = %d, want 64 hex chars", len(h1))
	}
	if strings.Contains(h1, "classroom") {
		t.Error("digest leaks input")
	}
	if g.HashKey("") != "" {
		t.Error("empty input hashes to empty")
	}

	// A different salt must produce a different digest.
	other := newGateAt([]byte("other-salt"), time.Now)
	if other.HashKey("classroom-7") == h1 {
		t.Error("salt does not affect digest")
	}
}
