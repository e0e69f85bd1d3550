package types

import (
	"encoding/json"
	"testing"
)

func TestValueJSONRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   Value
	}{
		{"string", String("empathy_response")},
		{"int", Int(4)},
		{"negative int", Int(-17)},
		{"float", Float(0.75)},
		{"bool", Bool(true)},
		{"string list", StringList([]string{"a", "b"})},
		{"empty list", StringList(nil)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.in)
			if err != nil {
				t.Fatalf("marshal failed: %v", err)
			}

			var out Value
			if err := json.Unmarshal(data, &out); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}

			// nil and empty lists both decode to empty.
			if tc.in.Kind == KindStringList && len(tc.in.List) == 0 {
				if out.Kind != KindStringList || len(out.List) != 0 {
					t.Fatalf("expected empty list, got %+v", out)
				}
				return
			}

			if !out.Equal(tc.in) {
				t.Errorf("round trip mismatch: %+v != %+v", out, tc.in)
			}
		})
	}
}

func TestValueUnmarshalRejectsShapes(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"object", `{"a":1}`},
		{"nested list", `[[1,2]]`},
		{"mixed list", `["a", 1]`},
		{"null", `null`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var v Value
			if err := json.Unmarshal([]byte(tc.in), &v); err == nil {
				t.Errorf("expected error decoding %s", tc.in)
			}
		})
	}
}

func TestValueStrings(t *testing.T) {
	if got := String("x").Strings(); len(got) != 1 || got[0] != "x" {
		t.Errorf("String.Strings() = %v", got)
	}
	if got := StringList([]string{"a", "b"}).Strings(); len(got) != 2 {
		t.Errorf("StringList.Strings() = %v", got)
	}
	if got := Int(1).Strings(); got != nil {
		t.Errorf("Int.Strings() = %v, want nil", got)
	}
}

func TestValueIntegerPreserved(t *testing.T) {
	// A whole number must decode as KindInt, not KindFloat, so indicator
	// scores survive a store round trip without type drift.
	var v Value
	if err := json.Unmarshal([]byte(`4`), &v); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if v.Kind != KindInt || v.Int != 4 {
		t.Errorf("got %+v, want Int(4)", v)
	}
}
