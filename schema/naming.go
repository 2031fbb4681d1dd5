package schema

import "strings"

// mapEntryName derives the entry message name protobuf expects for a map
// field: each letter after an underscore, and the first, is upper-cased,
// underscores are dropped and "Entry" is appended. strcase.ToCamel also
// splits on digits and case changes, which protodesc would reject.
func mapEntryName(field string) string {
	var b strings.Builder
	b.Grow(len(field) + len("Entry"))
	upper := true
	for i := 0; i < len(field); i++ {
		ch := field[i]
		switch {
		case ch == '_':
			upper = true
		case upper:
			if 'a' <= ch && ch <= 'z' {
				ch -= 'a' - 'A'
			}
			b.WriteByte(ch)
			upper = false
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteString("Entry")
	return b.String()
}

func trimProto(path string) string {
	return strings.TrimSuffix(strings.TrimPrefix(path, "/"), ".proto")
}
