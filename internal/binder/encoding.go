package binder

import (
	"fmt"
	"strings"
)

// Element names and values are UTF-8 encoded and then percent-encoded
// before transmission: non-graphic ASCII, non-ASCII bytes, '%' itself,
// and the characters that would break the space-delimited line
// protocol. The binder returns values percent-encoded as well; Decode
// is compatible with both directions.

const nameReserved = " :;|"
const valueReserved = " "

func encode(s, reserved string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		if c < 0x21 || c > 0x7e || c == '%' || strings.IndexByte(reserved, c) >= 0 {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// EncodeName percent-encodes a metadata element name or identifier
// for transmission.
func EncodeName(s string) string { return encode(s, nameReserved) }

// EncodeValue percent-encodes a metadata element value for
// transmission.
func EncodeValue(s string) string { return encode(s, valueReserved) }

func decode(s string, marker byte) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] == marker && i+3 <= len(s) {
			var c byte
			if _, err := fmt.Sscanf(s[i+1:i+3], "%02x", &c); err == nil {
				b.WriteByte(c)
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// Decode reverses percent-encoding. Malformed escapes are passed
// through unchanged rather than rejected; the binder is trusted.
func Decode(s string) string { return decode(s, '%') }

// DecodeRaw reverses the binder's internal circumflex encoding (^hh),
// which the binder uses for the identifier in fetch banner lines.
// Malformed escapes pass through like Decode's.
func DecodeRaw(s string) string { return decode(s, '^') }
