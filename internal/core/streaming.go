package core

// streaming.go reads import payloads from untrusted readers.
//
// Payloads are read through a size cap so an oversized request body is
// rejected after maxBytes+1 bytes instead of being buffered whole. The text
// is then normalized for the parsers:
//
//   - a leading UTF-8 BOM (0xEF 0xBB 0xBF) is removed
//   - invalid UTF-8 sequences become U+FFFD
//   - CRLF and lone CR line endings become LF

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// DefaultMaxImportBytes caps the size of a single import payload.
const DefaultMaxImportBytes = 10 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// skipBOM returns a reader positioned after a leading BOM, if present.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// ReadPayload reads at most maxBytes from r and returns the normalized text.
// It returns ErrPayloadTooLarge when r holds more than maxBytes.
func ReadPayload(r io.Reader, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImportBytes
	}

	data, err := io.ReadAll(io.LimitReader(skipBOM(r), maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read payload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, maxBytes)
	}
	return normalizePayload(string(data)), nil
}

// normalizePayload applies the same cleanup as ReadPayload to an in-memory
// string.
func normalizePayload(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ToValidUTF8(s, "\uFFFD")
	if strings.IndexByte(s, '\r') >= 0 {
		s = strings.ReplaceAll(s, "\r\n", "\n")
		s = strings.ReplaceAll(s, "\r", "\n")
	}
	return s
}
