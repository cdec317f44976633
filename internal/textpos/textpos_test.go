package textpos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteOffsetRoundTrip(t *testing.T) {
	text := "build:\n  stage: test\n  script: [\"echo hi\"]\n"
	ix := NewIndex(text)

	cases := []struct {
		name    string
		line    int
		col     int
		wantOff int
	}{
		{"start of file", 0, 0, 0},
		{"start of line 1", 1, 0, 7},
		{"mid line 1", 1, 2, 9},
		{"start of line 2", 2, 0, 21},
		{"past end of text clamps", 10, 0, len(text)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.wantOff, ix.ByteOffset(c.line, c.col))
		})
	}
}

func TestLineColRoundTrip(t *testing.T) {
	text := "a: 1\nb: 2\nc: 3\n"
	ix := NewIndex(text)

	for off := 0; off <= len(text); off++ {
		line, col := ix.LineCol(off)
		back := ix.ByteOffset(line, col)
		assert.Equal(t, off, back, "offset %d -> (%d,%d) -> %d, not a stable round trip", off, line, col, back)
	}
}

func TestUTF16ColumnsForMultibyteRunes(t *testing.T) {
	// "café: " - 'é' is 2 bytes in UTF-8 but a single UTF-16 unit.
	text := "café: test\n"
	ix := NewIndex(text)

	// Byte offset right after "café" (5 bytes: c,a,f,é(2 bytes)).
	offAfterCafe := 5
	_, col := ix.LineCol(offAfterCafe)
	assert.Equal(t, 4, col, "expected UTF-16 column 4 after 'café'")
	assert.Equal(t, offAfterCafe, ix.ByteOffset(0, 4))
}

func TestEmptyText(t *testing.T) {
	ix := NewIndex("")
	assert.Equal(t, 0, ix.ByteOffset(0, 0))
	line, col := ix.LineCol(0)
	assert.Equal(t, 0, line)
	assert.Equal(t, 0, col)
}
