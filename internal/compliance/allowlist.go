package compliance

import "strings"

// FieldCategory selects which allowlist a sanitize call is checked against.
type FieldCategory string

const (
	CategoryBehavioral FieldCategory = "behavioral"
	CategoryGeneral    FieldCategory = "general"
	CategoryMetadata   FieldCategory = "metadata"
)

// Valid reports whether the category is one of the known categories.
func (c FieldCategory) Valid() bool {
	switch c {
	case CategoryBehavioral, CategoryGeneral, CategoryMetadata:
		return true
	}
	return false
}

// behavioralAllowlist is the closed set of indicator keys that may be stored
// with a behavioral event. Anything else is dropped before persistence.
var behavioralAllowlist = map[string]struct{}{
	"engagement_level":    {},
	"empathy_score":       {},
	"attention_span":      {},
	"response_time_ms":    {},
	"interaction_count":   {},
	"collaboration_score": {},
	"emotional_state":     {},
	"confidence_level":    {},
	"participation_rate":  {},
	"completion_status":   {},
	"hint_used":           {},
	"retry_count":         {},
	"prompt_type":         {},
	"choice_index":        {},
	"pause_count":         {},
	"scroll_depth":        {},
}

// generalAllowlist covers non-behavioral context that is safe to persist.
var generalAllowlist = map[string]struct{}{
	"app_version":         {},
	"platform":            {},
	"locale":              {},
	"device_class":        {},
	"network_type":        {},
	"session_duration_ms": {},
	"screen":              {},
	"orientation":         {},
}

// metadataAllowlist covers capture bookkeeping keys.
var metadataAllowlist = map[string]struct{}{
	"schema_version": {},
	"capture_source": {},
	"sdk_version":    {},
	"clock_skew_ms":  {},
}

// identifyingKeywords are key fragments that indicate a field names a person.
// A non-allowlisted key containing one of these fails the whole sanitize call
// instead of being silently dropped, so the rejection reaches the audit log.
// Keywords are matched against a separator-stripped key so "StudentID",
// "student-id" and "student_id" all trip.
var identifyingKeywords = []string{
	"name",
	"email",
	"phone",
	"telephone",
	"address",
	"street",
	"ssn",
	"ipaddr",
	"studentid",
	"userid",
	"parentid",
	"childid",
	"teacherid",
	"personid",
	"accountid",
}

// allowlistFor returns the allowlist for a category. Unknown categories get
// an empty allowlist, which drops everything.
func allowlistFor(c FieldCategory) map[string]struct{} {
	switch c {
	case CategoryBehavioral:
		return behavioralAllowlist
	case CategoryGeneral:
		return generalAllowlist
	case CategoryMetadata:
		return metadataAllowlist
	default:
		return nil
	}
}

// Allowed reports whether key is on the category's allowlist.
func Allowed(category FieldCategory, key string) bool {
	_, ok := allowlistFor(category)[normalizeKey(key)]
	return ok
}

// IdentifiesPerson reports whether a key looks like it names a person.
func IdentifiesPerson(key string) bool {
	k := strings.ReplaceAll(normalizeKey(key), "_", "")
	for _, kw := range identifyingKeywords {
		if strings.Contains(k, kw) {
			return true
		}
	}
	return false
}

// normalizeKey lowercases and squeezes separators so "StudentID", "student-id"
// and "student_id" all compare equal.
func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	k = strings.ReplaceAll(k, "-", "_")
	k = strings.ReplaceAll(k, " ", "_")
	return k
}
