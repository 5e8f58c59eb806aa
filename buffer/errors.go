package buffer

import (
	"errors"
	"fmt"

	"github.com/only-cliches/go-noproto/codec"
)

var (
	ErrMalformed        = errors.New("buffer bytes are malformed")
	ErrTypeMismatch     = errors.New("selector does not match the schema type")
	ErrCapacityExceeded = errors.New("collection capacity exceeded")

	// ErrOutOfRange aliases the codec sentinel so range failures classify the
	// same way whichever layer raised them.
	ErrOutOfRange = codec.ErrOutOfRange

	// ErrBufferFull is the allocation failure sub kind of ErrCapacityExceeded.
	ErrBufferFull = fmt.Errorf("buffer would exceed 65535 bytes: %w", ErrCapacityExceeded)
)
