// Package escape renders raw serial traffic as printable text for logs and
// the control channel. The output is for display only and cannot be decoded
// back into the original bytes.
package escape

import "strings"

const hexDigits = "0123456789abcdef"

// Bytes returns data with control and non-printable bytes escaped.
// Named C escapes are used for \0 \b \t \n \v \f \r and the backslash,
// printable ASCII is copied as is and every other byte becomes \xHH.
func Bytes(data []byte) string {
	var b strings.Builder
	b.Grow(len(data))
	for _, c := range data {
		switch c {
		case 0x00:
			b.WriteString(`\0`)
		case '\b':
			b.WriteString(`\b`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\v':
			b.WriteString(`\v`)
		case '\f':
			b.WriteString(`\f`)
		case '\r':
			b.WriteString(`\r`)
		case '\\':
			b.WriteString(`\\`)
		default:
			if c >= 0x20 && c <= 0x7e {
				b.WriteByte(c)
				continue
			}
			b.WriteString(`\x`)
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		}
	}
	return b.String()
}
