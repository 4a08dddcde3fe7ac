package passthrough

import (
	"bytes"
	"unicode/utf8"
)

// maxPending bounds how many bytes wait for the rest of a split rune before
// being flushed through replacement anyway.
const maxPending = 10 * 1024

var replacement = []byte("�")

// UTF8Sanitizer re-decodes streamed bytes as UTF-8 with replacement,
// holding back a multi-byte rune split across chunks so it is not mangled.
type UTF8Sanitizer struct {
	pending []byte
}

// Push returns the sanitized bytes ready to forward.
func (s *UTF8Sanitizer) Push(p []byte) []byte {
	buf := append(s.pending, p...)
	s.pending = nil

	cut := len(buf)
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		b := buf[i]
		if b < 0x80 {
			break
		}
		if b >= 0xC0 {
			// Leading byte of a rune that may continue in the next chunk.
			if !utf8.FullRune(buf[i:]) {
				cut = i
			}
			break
		}
	}
	if len(buf)-cut > maxPending {
		cut = len(buf)
	}

	s.pending = buf[cut:]
	return bytes.ToValidUTF8(buf[:cut], replacement)
}

// Flush drains any held-back bytes at end of stream.
func (s *UTF8Sanitizer) Flush() []byte {
	if len(s.pending) == 0 {
		return nil
	}
	out := bytes.ToValidUTF8(s.pending, replacement)
	s.pending = nil
	return out
}
