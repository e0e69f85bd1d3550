package compliance

import "regexp"

// Pattern classes reported in violations. The matched text itself is never
// reported anywhere.
const (
	PatternEmail   = "email"
	PatternPhone   = "phone"
	PatternSSN     = "ssn"
	PatternAddress = "address"
)

// detector pairs a pattern class with its compiled expression. Order matters:
// the first match wins, and email is checked first because address-like and
// phone-like substrings can appear inside mail headers.
type detector struct {
	class string
	re    *regexp.Regexp
}

var detectors = []detector{
	{
		class: PatternEmail,
		re:    regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
	},
	{
		// NNN-NNN-NNNN and common variants: (NNN) NNN-NNNN, NNN.NNN.NNNN,
		// optional +1 country prefix.
		class: PatternPhone,
		re:    regexp.MustCompile(`(\+?1[\s.\-]?)?(\(\d{3}\)|\d{3})[\s.\-]\d{3}[\s.\-]?\d{4}`),
	},
	{
		// US SSN shape: NNN-NN-NNNN with dash or space separators.
		class: PatternSSN,
		re:    regexp.MustCompile(`\b\d{3}[\s\-]\d{2}[\s\-]\d{4}\b`),
	},
	{
		// Street-address shape: house number followed by a street-type word.
		class: PatternAddress,
		re:    regexp.MustCompile(`(?i)\b\d{1,6}\s+[A-Za-z0-9.\s]{1,40}\s(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|circle|cir|way|place|pl)\b`),
	},
}

// DetectPII scans a string for PII-shaped content and returns the pattern
// class of the first match.
func DetectPII(s string) (string, bool) {
	if s == "" {
		return "", false
	}
	for _, d := range detectors {
		if d.re.MatchString(s) {
			return d.class, true
		}
	}
	return "", false
}
