package audit

import (
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
)

// DiffEntry is one leaf-level change between two snapshots.
type DiffEntry struct {
	Path   string `json:"path"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// BuildDiff compares two JSON-shaped snapshots and returns the changed
// leaves with dot-separated paths. Arrays are compared as objects keyed by
// index, so reordering an array reports every shifted position rather than
// a move. A key missing on one side is reported with a nil value, and an
// object replaced by an array (or the reverse) is one entry at that path.
//
// Inputs must be acyclic; they come from JSON documents.
func BuildDiff(before, after any) []DiffEntry {
	out := []DiffEntry{}
	walkDiff("", normalize(before), normalize(after), &out)
	return out
}

func walkDiff(path string, before, after any, out *[]DiffEntry) {
	if reflect.DeepEqual(before, after) {
		return
	}
	beforeKeys, beforeKind := keysOf(before)
	afterKeys, afterKind := keysOf(after)
	if beforeKind == leafKind || beforeKind != afterKind {
		*out = append(*out, DiffEntry{Path: path, Before: before, After: after})
		return
	}

	seen := make(map[string]struct{}, len(beforeKeys)+len(afterKeys))
	keys := make([]string, 0, len(beforeKeys)+len(afterKeys))
	for _, group := range [][]string{beforeKeys, afterKeys} {
		for _, k := range group {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		b, inBefore := child(before, k)
		a, inAfter := child(after, k)
		if inBefore != inAfter {
			*out = append(*out, DiffEntry{Path: joinPath(path, k), Before: b, After: a})
			continue
		}
		walkDiff(joinPath(path, k), b, a, out)
	}
}

type valueKind int

const (
	leafKind valueKind = iota
	objectKind
	arrayKind
)

// keysOf returns the keys of an object (sorted) or array (index order).
func keysOf(v any) ([]string, valueKind) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, objectKind
	case []any:
		keys := make([]string, len(t))
		for i := range t {
			keys[i] = strconv.Itoa(i)
		}
		return keys, arrayKind
	default:
		return nil, leafKind
	}
}

// child returns the value under key and whether the key exists, so a
// missing key and an explicit null are told apart.
func child(v any, key string) (any, bool) {
	switch t := v.(type) {
	case map[string]any:
		val, ok := t[key]
		return val, ok
	case []any:
		i, err := strconv.Atoi(key)
		if err != nil || i < 0 || i >= len(t) {
			return nil, false
		}
		return t[i], true
	}
	return nil, false
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// normalize turns arbitrary values into the generic shapes produced by
// encoding/json so that, for example, int(2) and float64(2) compare equal.
func normalize(v any) any {
	var raw []byte
	switch t := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		raw = t
	case []byte:
		raw = t
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		raw = b
	}
	if len(raw) == 0 {
		return nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}
