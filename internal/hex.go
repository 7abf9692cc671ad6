package internal

import "strings"

const hexDigits = "0123456789ABCDEF"

// FormatHex formats data as space separated 0xNN bytes.
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	sb := strings.Builder{}
	sb.Grow(len(data)*5 - 1)

	for idx, b := range data {
		if idx > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("0x")
		sb.WriteByte(hexDigits[b>>4])
		sb.WriteByte(hexDigits[b&0x0F])
	}

	return sb.String()
}
