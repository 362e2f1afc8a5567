// Package ident names and quotes SQL identifiers.
package ident

import (
	"strings"
	"unicode"
)

// SplitQualified splits a potentially schema-qualified identifier into its parts.
// A quote opens a quoted part only at the start of that part; elsewhere it is
// part of the name.
func SplitQualified(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	var parts []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' && inQuotes && i+1 < len(runes) && runes[i+1] == '"':
			buf.WriteRune('"')
			i++
		case r == '"' && inQuotes:
			inQuotes = false
		case r == '"' && strings.TrimSpace(buf.String()) == "":
			inQuotes = true
		case r == '.' && !inQuotes:
			parts = append(parts, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	return append(parts, strings.TrimSpace(buf.String()))
}

// Quote quotes a single identifier part.
func Quote(part string) string {
	return `"` + strings.ReplaceAll(part, `"`, `""`) + `"`
}

// QuoteName quotes every part of a possibly qualified name.
func QuoteName(name string) string {
	parts := SplitQualified(name)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = Quote(p)
	}
	return strings.Join(quoted, ".")
}

// Base returns the last segment of a qualified identifier.
func Base(name string) string {
	parts := SplitQualified(name)
	if len(parts) == 0 {
		return strings.TrimSpace(name)
	}
	return parts[len(parts)-1]
}

// Snake converts a Go-style name to snake_case, keeping acronyms together:
// "GuestID" becomes "guest_id" and "IsVipYN" becomes "is_vip_yn".
func Snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
