package wire

import "bytes"

// EncodeNameList concatenates names as NUL-terminated strings back to back,
// the layout spec §4.4 mandates for ListVolumes/ListSnapshots replies. The
// caller is responsible for putting len(names) into the response's Retval
// and len(result) into the response's Size.
func EncodeNameList(names []string) []byte {
	var buf bytes.Buffer
	for _, n := range names {
		buf.WriteString(n)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// DecodeNameList splits a NUL-terminated name list back into individual
// names. An empty input yields an empty, non-nil slice.
func DecodeNameList(data []byte) []string {
	names := make([]string, 0)
	start := 0
	for i, b := range data {
		if b == 0 {
			names = append(names, string(data[start:i]))
			start = i + 1
		}
	}
	return names
}
