package archive

// reader.go provides the byte-level readers used when decoding data members.
//
//   - bomReader drops a leading UTF-8 BOM (0xEF 0xBB 0xBF), which some
//     publishers prepend to text exports.
//   - countingReader tracks decompressed bytes for run statistics.
//   - sanitizeUTF8 replaces invalid sequences with '?' in lenient mode.

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// newBOMReader wraps r and discards a leading UTF-8 BOM if present.
func newBOMReader(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// countingReader wraps an io.Reader to track bytes read.
type countingReader struct {
	reader    io.Reader
	bytesRead int64
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.bytesRead += int64(n)
	return n, err
}

// sanitizeUTF8 replaces every invalid byte with '?' so the output length
// never exceeds the input length.
func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			out = append(out, '?')
		} else {
			out = append(out, data[:size]...)
		}
		data = data[size:]
	}
	return out
}

// splitLines splits decoded member text into lines. Both "\n" and "\r\n"
// terminators are accepted and a trailing terminator does not yield an
// empty final line.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}
