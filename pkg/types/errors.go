package types

import "errors"

var (
	ErrInvalidEventIDLength    = errors.New("event id must be 26 characters")
	ErrInvalidEventIDCharacter = errors.New("event id contains invalid base32 character")
	ErrInvalidValueKind        = errors.New("unsupported value kind")
)
