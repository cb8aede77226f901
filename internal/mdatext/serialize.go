package mdatext

import (
	"fmt"
	"strconv"
	"strings"
)

// Serialize renders a Block tree back into the on-disk text form. Only b's
// entries are written, not b.Name itself; children are emitted in the same
// order they appear in Entries, so Parse(Serialize(b)) reproduces b's
// entries exactly (spec §8's round-trip property) under an unnamed root.
func Serialize(b *Block) string {
	var sb strings.Builder
	writeEntries(&sb, b, 0)
	return sb.String()
}

func writeEntries(sb *strings.Builder, b *Block, indent int) {
	pad := strings.Repeat("\t", indent)
	for _, e := range b.Entries {
		switch v := e.Value.(type) {
		case *Block:
			fmt.Fprintf(sb, "%s%s {\n", pad, e.Key)
			writeEntries(sb, v, indent+1)
			fmt.Fprintf(sb, "%s}\n", pad)
		case string:
			fmt.Fprintf(sb, "%s%s = %s\n", pad, e.Key, quote(v))
		case int64:
			fmt.Fprintf(sb, "%s%s = %d\n", pad, e.Key, v)
		case int:
			fmt.Fprintf(sb, "%s%s = %d\n", pad, e.Key, v)
		case []string:
			fmt.Fprintf(sb, "%s%s = [%s]\n", pad, e.Key, joinListItems(v))
		default:
			fmt.Fprintf(sb, "%s%s = %v\n", pad, e.Key, v)
		}
	}
}

func joinListItems(items []string) string {
	parts := make([]string, len(items))
	for i, it := range items {
		if n, err := strconv.ParseInt(it, 10, 64); err == nil && strconv.FormatInt(n, 10) == it {
			parts[i] = it
			continue
		}
		parts[i] = quote(it)
	}
	return strings.Join(parts, ", ")
}

func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			sb.WriteByte('\\')
		}
		sb.WriteByte(c)
	}
	sb.WriteByte('"')
	return sb.String()
}
