// Package textpos converts between byte offsets and LSP's UTF-16-based
// line/column positions. yaml.v3 node spans give us 1-based rune lines and
// columns; LSP wants 0-based UTF-16 code unit positions, so both document
// store queries and query-engine responses go through here rather than
// assuming ASCII, the way simon-lentz-yammm's LSP snapshot layer treats
// position conversion as its own concern.
package textpos

import "unicode/utf16"

// Index supports fast line/column <-> byte offset conversion for a single
// document's text. It is rebuilt whenever the document's text changes.
type Index struct {
	text       []byte
	lineStarts []int // byte offset of the first byte of each line
}

// NewIndex builds a position index over text.
func NewIndex(text string) *Index {
	b := []byte(text)
	starts := []int{0}
	for i, c := range b {
		if c == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Index{text: b, lineStarts: starts}
}

// ByteOffset converts a 0-based line and 0-based UTF-16 column into a byte
// offset into the original text. Out-of-range lines clamp to the end of the
// text; out-of-range columns clamp to the end of the line.
func (ix *Index) ByteOffset(line, utf16Col int) int {
	if line < 0 {
		line = 0
	}
	if line >= len(ix.lineStarts) {
		return len(ix.text)
	}
	start := ix.lineStarts[line]
	end := len(ix.text)
	if line+1 < len(ix.lineStarts) {
		end = ix.lineStarts[line+1]
	}
	lineBytes := ix.text[start:end]

	if utf16Col <= 0 {
		return start
	}

	units := 0
	for i := 0; i < len(lineBytes); {
		r, size := decodeRune(lineBytes[i:])
		if r == '\n' {
			return start + i
		}
		ru := utf16.RuneLen(r)
		if ru < 1 {
			ru = 1
		}
		if units+ru > utf16Col {
			return start + i
		}
		units += ru
		i += size
		if units >= utf16Col {
			return start + i
		}
	}
	return end
}

// LineCol converts a byte offset into a 0-based line and 0-based UTF-16
// column.
func (ix *Index) LineCol(offset int) (line, utf16Col int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(ix.text) {
		offset = len(ix.text)
	}

	line = searchLine(ix.lineStarts, offset)
	start := ix.lineStarts[line]
	units := 0
	for i := start; i < offset; {
		r, size := decodeRune(ix.text[i:])
		ru := utf16.RuneLen(r)
		if ru < 1 {
			ru = 1
		}
		units += ru
		i += size
	}
	return line, units
}

func searchLine(starts []int, offset int) int {
	lo, hi := 0, len(starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

// decodeRune is a tiny UTF-8 decoder avoiding an import of unicode/utf8
// just for DecodeRune; it behaves identically for well-formed input, which
// is all a parsed YAML document ever contains.
func decodeRune(b []byte) (rune, int) {
	if len(b) == 0 {
		return 0, 0
	}
	c := b[0]
	switch {
	case c < 0x80:
		return rune(c), 1
	case c&0xE0 == 0xC0 && len(b) >= 2:
		return rune(c&0x1F)<<6 | rune(b[1]&0x3F), 2
	case c&0xF0 == 0xE0 && len(b) >= 3:
		return rune(c&0x0F)<<12 | rune(b[1]&0x3F)<<6 | rune(b[2]&0x3F), 3
	case c&0xF8 == 0xF0 && len(b) >= 4:
		return rune(c&0x07)<<18 | rune(b[1]&0x3F)<<12 | rune(b[2]&0x3F)<<6 | rune(b[3]&0x3F), 4
	default:
		return rune(c), 1
	}
}
