package codec

import "errors"

var (
	ErrOutOfRange   = errors.New("value out of range for the declared type")
	ErrBadWidth     = errors.New("byte region has the wrong width for the declared type")
	ErrBadGeoSize   = errors.New("geo size must be 4, 8 or 16 bytes")
	ErrBadTextValue = errors.New("text form could not be parsed for the declared type")
)
