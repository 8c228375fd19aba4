package frame

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// IdentityLen is the number of hex characters kept from the content digest.
const IdentityLen = 8

const fieldSep = "\x1f"

// ContentHash returns the dataset identity: a SHA-256 digest over the header
// and every row, truncated to IdentityLen lowercase hex characters.
//
// Canonicalization rules:
//   - The header is encoded as "len:name=kind" pairs joined by the unit
//     separator.
//   - Rows follow in order; cells are joined by the unit separator and each
//     row ends with a newline.
//   - Text cells are written as "len:text", so a separator or NUL inside a
//     cell cannot shift a cell boundary.
//   - Missing cells are a single NUL byte so missing differs from "".
//   - Numbers use strconv 'g' with shortest precision; booleans are
//     "true"/"false".
//
// Identical cells produce identical hashes regardless of the file format the
// table was loaded from.
func ContentHash(t *Table) string {
	h := sha256.New()
	var b strings.Builder
	var scratch [64]byte

	for i, c := range t.cols {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		appendText(&b, c.name, &scratch)
		b.WriteByte('=')
		b.WriteString(c.kind.String())
	}
	b.WriteByte('\n')
	h.Write([]byte(b.String()))

	for r := 0; r < t.rows; r++ {
		b.Reset()
		for i, c := range t.cols {
			if i > 0 {
				b.WriteString(fieldSep)
			}
			appendCanonicalCell(&b, c, r, &scratch)
		}
		b.WriteByte('\n')
		h.Write([]byte(b.String()))
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:IdentityLen]
}

// ColumnKey returns a canonical digest of a column's cells (name excluded).
// Two columns share a key iff they hold the same kind and the same cells.
func ColumnKey(c *Column) string {
	var b strings.Builder
	var scratch [64]byte
	b.WriteString(c.kind.String())
	for i := 0; i < c.Len(); i++ {
		b.WriteString(fieldSep)
		appendCanonicalCell(&b, c, i, &scratch)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RowKey returns the canonical encoding of row r. Rows with equal keys are
// duplicates; missing cells compare equal to each other.
func RowKey(t *Table, r int) string {
	var b strings.Builder
	var scratch [64]byte
	for i, c := range t.cols {
		if i > 0 {
			b.WriteString(fieldSep)
		}
		appendCanonicalCell(&b, c, r, &scratch)
	}
	return b.String()
}

func appendCanonicalCell(b *strings.Builder, c *Column, i int, scratch *[64]byte) {
	if c.IsMissing(i) {
		b.WriteByte('\x00')
		return
	}
	switch c.kind {
	case Text:
		appendText(b, c.strs[i], scratch)
	case Bool:
		if c.nums[i] != 0 {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	default:
		v := c.nums[i]
		if v == 0 {
			v = 0
		}
		b.Write(strconv.AppendFloat(scratch[:0], v, 'g', -1, 64))
	}
}

// appendText writes s with its byte length in front.
func appendText(b *strings.Builder, s string, scratch *[64]byte) {
	b.Write(strconv.AppendInt(scratch[:0], int64(len(s)), 10))
	b.WriteByte(':')
	b.WriteString(s)
}
