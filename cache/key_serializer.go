package cache

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/goliatone/go-query-cache/factdb"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// defaultKeySerializer renders keys as repo::kind[::payload]. Scalar payloads
// are written in a readable, type-distinct form so prefix scans by repository
// and kind work; composite payloads are msgpack encoded with sorted map keys
// and reduced to an xxhash digest.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

// SerializeKey builds the identity string of a fully qualified key.
func (s *defaultKeySerializer) SerializeKey(key Key) string {
	parts := []string{key.Repo, string(key.Query.Kind)}
	if key.Query.Arg != nil {
		parts = append(parts, s.serializeValue(key.Query.Arg))
	}
	return strings.Join(parts, KeySeparator)
}

// RepoPrefix returns the prefix shared by every key of a repository.
func (s *defaultKeySerializer) RepoPrefix(repo string) string {
	return repo + KeySeparator
}

// serializeValue writes a payload so that payloads of different types never
// share a form: strings are quoted, floats carry an "f" tag and other
// Stringers their type name. Integer types, unsigned included, and EIDs
// share the decimal form so equal ids address the same key.
func (s *defaultKeySerializer) serializeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case uuid.UUID:
		return x.String()
	case factdb.EID:
		return strconv.FormatInt(int64(x), 10)
	case factdb.LookupRef:
		return "lookup:" + x.Attr + "=" + s.serializeValue(x.Value)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return fmt.Sprintf("%T(%s)", v, strconv.Quote(x.String()))
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32, reflect.Float64:
		return "f" + strconv.FormatFloat(rv.Float(), 'g', -1, 64)
	case reflect.String:
		return fmt.Sprintf("%T(%s)", v, strconv.Quote(rv.String()))
	case reflect.Func, reflect.Chan:
		// stable within a process only
		return fmt.Sprintf("%s:%p", rv.Kind(), v)
	case reflect.Ptr:
		if rv.IsNil() {
			return "nil"
		}
		return s.serializeValue(rv.Elem().Interface())
	}
	return s.digest(v)
}

// digest hashes composite payloads so arbitrary custom keys get a bounded,
// deterministic identity.
func (s *defaultKeySerializer) digest(v any) string {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("fallback:%T:%v", v, v)
	}
	return fmt.Sprintf("h%016x", xxhash.Sum64(buf.Bytes()))
}
