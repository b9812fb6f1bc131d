package acnet

import (
	"strings"
)

const rad50Chars = " ABCDEFGHIJKLMNOPQRSTUVWXYZ$.%0123456789"

func rad50Index(c byte) uint32 {
	if c >= 'a' && c <= 'z' {
		c = c - 'a' + 'A'
	}
	if i := strings.IndexByte(rad50Chars, c); i >= 0 {
		return uint32(i)
	}
	// Characters outside the alphabet are encoded as blanks
	return 0
}

// Packs up to 6 characters in a 32 bit value. The first three characters go to the
// low 16 bits and the next three to the high 16 bits
func Rad50Encode(s string) uint32 {
	var padded [6]byte
	for i := range padded {
		if i < len(s) {
			padded[i] = s[i]
		} else {
			padded[i] = ' '
		}
	}

	var v1, v2 uint32
	for i := 0; i < 3; i++ {
		v1 = v1*40 + rad50Index(padded[i])
		v2 = v2*40 + rad50Index(padded[i+3])
	}

	return v2<<16 | v1
}

// Unpacks a 32 bit value into its name. Trailing blanks are removed
func Rad50Decode(v uint32) string {
	var out [6]byte

	v1 := v & 0xffff
	v2 := v >> 16
	for i := 2; i >= 0; i-- {
		out[i] = rad50Chars[v1%40]
		v1 /= 40
		out[i+3] = rad50Chars[v2%40]
		v2 /= 40
	}

	return strings.TrimRight(string(out[:]), " ")
}

func NewTaskHandle(name string) TaskHandle {
	return TaskHandle(Rad50Encode(name))
}

func NewNodeName(name string) NodeName {
	return NodeName(Rad50Encode(name))
}
