package codec

// Pad bytes for the fixed width text forms. Strings pad with ASCII space so
// that short values sort ahead of longer values sharing their prefix without
// colliding with the zero sentinel used for range keys; raw bytes pad with
// zero.
const (
	StringPad = 0x20
	BytesPad  = 0x00
)

// PutFixedText writes src into the fixed width region b, truncating when src
// is longer and right padding with pad when shorter.
func PutFixedText(b []byte, src []byte, pad byte) {
	n := copy(b, src)
	for i := n; i < len(b); i++ {
		b[i] = pad
	}
}

// TrimFixedText strips the right padding applied by PutFixedText.
func TrimFixedText(b []byte, pad byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == pad {
		end--
	}
	return b[:end]
}
