// Package keyhash encodes identity keys and hashes values for in-memory lookups.
package keyhash

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"
)

// Identity builds the identity-map key for a row of the given hierarchy root.
// Values of different primitive types never collide, so 7 and "7" stay distinct.
func Identity(root string, key any) string {
	return root + "#" + Encode(key)
}

// Encode renders a storage primitive as a type-tagged string. A []any holds
// the parts of a composite key.
func Encode(v any) string {
	switch x := v.(type) {
	case nil:
		return "n:"
	case string:
		return "s:" + x
	case int64:
		return "i:" + strconv.FormatInt(x, 10)
	case int:
		return "i:" + strconv.Itoa(x)
	case int32:
		return "i:" + strconv.FormatInt(int64(x), 10)
	case float64:
		return "f:" + strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return "b:" + strconv.FormatBool(x)
	case []byte:
		return "x:" + hex.EncodeToString(x)
	case time.Time:
		return "t:" + x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return "s:" + x.String()
	case []any:
		// Parts are length-prefixed so no part can swallow its neighbour.
		var b strings.Builder
		b.WriteString("c:")
		for _, part := range x {
			enc := Encode(part)
			b.WriteString(strconv.Itoa(len(enc)))
			b.WriteByte(':')
			b.WriteString(enc)
		}
		return b.String()
	default:
		return fmt.Sprintf("?:%v", x)
	}
}

// String hashes s with 64-bit FNV-1a.
func String(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// Fold hashes s case-insensitively, consistent with strings.EqualFold for
// simple case mappings.
func Fold(s string) uint64 {
	return String(strings.ToLower(s))
}

// Value hashes any primitive through its encoded form.
func Value(v any) uint64 {
	return String(Encode(v))
}
