package types

import (
	"crypto/rand"
	"sync"
	"time"
)

// EventID is a client-generated, time-ordered 128-bit event identifier.
// Layout: 48-bit capture timestamp (milliseconds) followed by 80 random bits,
// so lexicographic order on the encoded form matches capture order. The string
// form is 26 characters of Crockford Base32.
type EventID [16]byte

// Crockford's Base32 alphabet (I, L, O, U excluded).
const base32Alphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// IDGenerator produces EventIDs that are strictly increasing, even within a
// single millisecond: when the clock has not advanced, the random tail is
// incremented instead of regenerated.
type IDGenerator struct {
	mu       sync.Mutex
	lastMs   uint64
	lastTail [10]byte
}

// NewIDGenerator creates an IDGenerator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Generate returns a new EventID stamped with the current time.
func (g *IDGenerator) Generate() (EventID, error) {
	return g.GenerateAt(time.Now())
}

// GenerateAt returns a new EventID stamped with the given time.
func (g *IDGenerator) GenerateAt(t time.Time) (EventID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := uint64(t.UnixMilli())

	if ms == g.lastMs {
		// Same millisecond: bump the tail as a big-endian 80-bit integer.
		for i := len(g.lastTail) - 1; i >= 0; i-- {
			g.lastTail[i]++
			if g.lastTail[i] != 0 {
				break
			}
		}
	} else {
		if _, err := rand.Read(g.lastTail[:]); err != nil {
			return EventID{}, err
		}
		g.lastMs = ms
	}

	var id EventID
	id[0] = byte(ms >> 40)
	id[1] = byte(ms >> 32)
	id[2] = byte(ms >> 24)
	id[3] = byte(ms >> 16)
	id[4] = byte(ms >> 8)
	id[5] = byte(ms)
	copy(id[6:], g.lastTail[:])
	return id, nil
}

// Millis returns the timestamp component as Unix milliseconds.
func (id EventID) Millis() uint64 {
	return uint64(id[0])<<40 | uint64(id[1])<<32 | uint64(id[2])<<24 |
		uint64(id[3])<<16 | uint64(id[4])<<8 | uint64(id[5])
}

// Time returns the timestamp component as a time.Time.
func (id EventID) Time() time.Time {
	return time.UnixMilli(int64(id.Millis()))
}

// Compare orders two EventIDs bytewise. Returns -1, 0, or 1.
func (id EventID) Compare(other EventID) int {
	for i := range id {
		switch {
		case id[i] < other[i]:
			return -1
		case id[i] > other[i]:
			return 1
		}
	}
	return 0
}

// IsZero reports whether the id is the zero value.
func (id EventID) IsZero() bool {
	return id == EventID{}
}

// String encodes the id as 26 characters of Crockford Base32. The 128 bits are
// treated as a 130-bit big-endian integer (top two bits zero) and emitted five
// bits at a time.
func (id EventID) String() string {
	var out [26]byte
	// bit offset of each output character within the 130-bit value; the value
	// is left-padded with 2 zero bits so 26*5 == 130.
	for i := 0; i < 26; i++ {
		out[i] = base32Alphabet[extract5(id, i*5-2)]
	}
	return string(out[:])
}

// extract5 reads five bits starting at the given bit offset into the 128-bit
// id. Negative offsets read zero bits from the implicit left padding.
func extract5(id EventID, bitOff int) byte {
	var v byte
	for b := 0; b < 5; b++ {
		v <<= 1
		pos := bitOff + b
		if pos < 0 {
			continue
		}
		if id[pos/8]&(1<<(7-pos%8)) != 0 {
			v |= 1
		}
	}
	return v
}

// ParseEventID decodes a 26-character Crockford Base32 string.
func ParseEventID(s string) (EventID, error) {
	if len(s) != 26 {
		return EventID{}, ErrInvalidEventIDLength
	}

	var id EventID
	for i := 0; i < 26; i++ {
		v := decodeBase32(s[i])
		if v == 0xFF {
			return EventID{}, ErrInvalidEventIDCharacter
		}
		if err := deposit5(&id, i*5-2, v); err != nil {
			return EventID{}, err
		}
	}
	return id, nil
}

// deposit5 writes five bits at the given bit offset. Bits landing in the
// implicit left padding must be zero.
func deposit5(id *EventID, bitOff int, v byte) error {
	for b := 0; b < 5; b++ {
		pos := bitOff + b
		bit := v&(1<<(4-b)) != 0
		if pos < 0 {
			if bit {
				return ErrInvalidEventIDCharacter
			}
			continue
		}
		if bit {
			id[pos/8] |= 1 << (7 - pos%8)
		}
	}
	return nil
}

// MarshalText encodes the id in its Base32 string form for JSON payloads.
func (id EventID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes the Base32 string form.
func (id *EventID) UnmarshalText(text []byte) error {
	parsed, err := ParseEventID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// decodeBase32 maps one Crockford Base32 character to its value, 0xFF if invalid.
func decodeBase32(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'H':
		return c - 'A' + 10
	case c >= 'a' && c <= 'h':
		return c - 'a' + 10
	case c == 'J' || c == 'K':
		return c - 'J' + 18
	case c == 'j' || c == 'k':
		return c - 'j' + 18
	case c == 'M' || c == 'N':
		return c - 'M' + 20
	case c == 'm' || c == 'n':
		return c - 'm' + 20
	case c >= 'P' && c <= 'T':
		return c - 'P' + 22
	case c >= 'p' && c <= 't':
		return c - 'p' + 22
	case c >= 'V' && c <= 'Z':
		return c - 'V' + 27
	case c >= 'v' && c <= 'z':
		return c - 'v' + 27
	default:
		return 0xFF
	}
}
