// Package compliance implements the gate every raw event passes before it may
// be persisted or transmitted. The gate drops non-allowlisted fields, rejects
// anything PII-shaped outright, and one-way hashes the correlation keys that
// must survive for joinability.
package compliance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/chalkline/chalkline/internal/errors"
	"github.com/chalkline/chalkline/pkg/types"
)

// MaxStringLen is the longest string value the gate accepts. Longer values
// are treated as free-text PII carriers even when no pattern matched.
const MaxStringLen = 100

// AnonymizationLevel tags sanitized output so downstream consumers can assert
// provenance.
const AnonymizationLevel = "hashed_correlation_v1"

// Sanitized is the gate's output: the surviving fields, the keys that were
// silently dropped, and the provenance marker the store requires.
type Sanitized struct {
	Fields     map[string]types.Value
	Dropped    []string
	Provenance types.Provenance
}

// Gate sanitizes raw field maps. It is safe for concurrent use; the salt is
// fixed for the life of the process so hashed keys stay joinable.
type Gate struct {
	salt []byte
	now  func() time.Time
}

// NewGate creates a gate with the given hashing salt.
func NewGate(salt []byte) *Gate {
	return &Gate{salt: salt, now: time.Now}
}

// newGateAt is used by tests to pin the provenance timestamp.
func newGateAt(salt []byte, now func() time.Time) *Gate {
	return &Gate{salt: salt, now: now}
}

// Sanitize checks every field of a raw event against the category allowlist
// and the PII detectors. On success the returned map contains only allowlisted
// keys with clean values; on failure the record must not be stored, and the
// returned violation names the field and pattern class only.
//
// An empty or nil field map is valid and passes through as empty.
func (g *Gate) Sanitize(fields map[string]types.Value, category FieldCategory) (*Sanitized, error) {
	out := &Sanitized{
		Fields: make(map[string]types.Value, len(fields)),
	}

	// Deterministic iteration keeps violation reporting stable when more
	// than one field is objectionable.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := fields[key]

		// Every string value is scanned, including values on keys that are
		// about to be dropped: a PII-bearing record is rejected whole.
		for _, s := range value.Strings() {
			if len(s) > MaxStringLen {
				return nil, errors.NewComplianceViolation(errors.CodeValueTooLong, key, "length")
			}
			if class, found := DetectPII(s); found {
				return nil, errors.NewComplianceViolation(errors.CodePIIPattern, key, class)
			}
		}

		if Allowed(category, key) {
			out.Fields[normalizeKey(key)] = value
			continue
		}

		// Off-allowlist keys that look like they name a person are a
		// violation, not a silent drop.
		if IdentifiesPerson(key) {
			return nil, errors.NewComplianceViolation(errors.CodeIdentifyingKey, key, "identifying_key")
		}

		out.Dropped = append(out.Dropped, key)
	}

	out.Provenance = types.Provenance{
		Anonymized:   true,
		AnonymizedAt: g.now().UTC(),
		Level:        AnonymizationLevel,
	}
	return out, nil
}

// HashKey one-way hashes a correlation key (session id, classroom id,
// facilitator id) with the process salt. The digest is a fixed-length hex
// string: joinable across events, not reversible to the original.
func (g *Gate) HashKey(raw string) string {
	if raw == "" {
		return ""
	}
	mac := hmac.New(sha256.New, g.salt)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
