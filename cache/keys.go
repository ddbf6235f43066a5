package cache

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
)

// maxPlainKeyLen is the longest raw key stored verbatim; anything longer
// (or containing non-printable bytes) is replaced by its xxhash digest so
// canonical keys stay short and safe for any storage engine.
const maxPlainKeyLen = 64

func (c config) canonicalKey(key string) string {
	k := key
	if len(k) > maxPlainKeyLen || !printable(k) {
		k = strconv.FormatUint(xxhash.Sum64String(k), 16)
	}
	if c.prefix != "" {
		return c.prefix + ":" + k
	}
	return k
}

func printable(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}

// Key composes a cache key from structured descriptor parts. Scalar parts
// are rendered in place; anything else is msgpack-encoded and hashed, so
// the result is deterministic for equal descriptors:
//
//	cache.Key("user", 123)          // "user/123"
//	cache.Key("query", filterStruct) // "query/9f86d081884c7d65"
func Key(parts ...any) string {
	elems := make([]string, len(parts))
	for i, part := range parts {
		switch v := part.(type) {
		case string:
			elems[i] = v
		case fmt.Stringer:
			elems[i] = v.String()
		case bool, int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64:
			elems[i] = fmt.Sprint(v)
		default:
			data, err := msgpack.Marshal(v)
			if err != nil {
				// Unencodable parts (func values, channels) still need a
				// deterministic rendering.
				data = []byte(fmt.Sprintf("%#v", v))
			}
			elems[i] = strconv.FormatUint(xxhash.Sum64(data), 16)
		}
	}
	return strings.Join(elems, "/")
}
