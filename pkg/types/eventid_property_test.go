package types

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_EventIDCaptureOrdering validates that ids generated at a later
// time always sort after ids generated earlier, in both byte and string form.
// The store's capture-order contract depends on this.
func TestProperty_EventIDCaptureOrdering(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("later ids are greater", prop.ForAll(
		func(t1Ms, t2Ms int64) bool {
			if t1Ms >= t2Ms {
				t1Ms, t2Ms = t2Ms, t1Ms+1
			}

			g := NewIDGenerator()
			a, err := g.GenerateAt(time.UnixMilli(t1Ms))
			if err != nil {
				return false
			}
			b, err := g.GenerateAt(time.UnixMilli(t2Ms))
			if err != nil {
				return false
			}

			return a.Compare(b) < 0 && a.String() < b.String()
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.Int64Range(1000000000000, 2000000000000),
	))

	properties.Property("same-millisecond ids are strictly increasing", prop.ForAll(
		func(tsMs int64, count int) bool {
			g := NewIDGenerator()
			at := time.UnixMilli(tsMs)

			var prev EventID
			for i := 0; i < count; i++ {
				curr, err := g.GenerateAt(at)
				if err != nil {
					return false
				}
				if i > 0 && prev.Compare(curr) >= 0 {
					return false
				}
				prev = curr
			}
			return true
		},
		gen.Int64Range(1000000000000, 2000000000000),
		gen.IntRange(2, 100),
	))

	properties.Property("string round trip is identity", prop.ForAll(
		func(tsMs int64) bool {
			g := NewIDGenerator()
			id, err := g.GenerateAt(time.UnixMilli(tsMs))
			if err != nil {
				return false
			}
			parsed, err := ParseEventID(id.String())
			return err == nil && parsed == id
		},
		gen.Int64Range(0, 281474976710655),
	))

	properties.TestingRun(t)
}
