package checkin

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformed marks a record missing a field its enclosing section requires.
var ErrMalformed = errors.New("malformed checkin")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}

// isoLayout is ISO-8601 in UTC without an offset or fractional seconds.
const isoLayout = "2006-01-02T15:04:05"

func clone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// popMap removes key from m and returns a copy of its object value. A missing
// or null key reports ok == false.
func popMap(m map[string]any, key string) (map[string]any, bool, error) {
	v, ok := m[key]
	delete(m, key)
	if !ok || v == nil {
		return nil, false, nil
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false, malformed("%s is %T, want object", key, v)
	}
	return clone(obj), true, nil
}

// requireMap removes and returns the object at key, failing when absent.
func requireMap(m map[string]any, key, parent string) (map[string]any, error) {
	obj, ok, err := popMap(m, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, malformed("%s has no %s", parent, key)
	}
	return obj, nil
}

// objects converts a JSON array of objects into copies of those objects.
func objects(v any, what string) ([]map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, malformed("%s is %T, want array", what, v)
	}
	out := make([]map[string]any, 0, len(list))
	for i, item := range list {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, malformed("%s[%d] is %T, want object", what, i, item)
		}
		out = append(out, clone(obj))
	}
	return out, nil
}

// requireObjects removes and returns the array of objects at key, failing
// when absent.
func requireObjects(m map[string]any, key, parent string) ([]map[string]any, error) {
	v, ok := m[key]
	delete(m, key)
	if !ok {
		return nil, malformed("%s has no %s", parent, key)
	}
	return objects(v, parent+"."+key)
}

// rename moves m[from] to m[to] when present.
func rename(m map[string]any, from, to string) {
	if v, ok := m[from]; ok {
		m[to] = v
		delete(m, from)
	}
}

// isoTime formats epoch seconds as a UTC ISO-8601 timestamp.
func isoTime(v any) (string, error) {
	var secs int64
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			f, ferr := x.Float64()
			if ferr != nil {
				return "", malformed("createdAt %q is not a number", x)
			}
			i = int64(math.Floor(f))
		}
		secs = i
	case float64:
		secs = int64(math.Floor(x))
	case int64:
		secs = x
	case int:
		secs = int64(x)
	default:
		return "", malformed("createdAt is %T, want epoch seconds", v)
	}
	return time.Unix(secs, 0).UTC().Format(isoLayout), nil
}

// setCreated adds the converted "created" timestamp next to "createdAt".
func setCreated(m map[string]any) error {
	v, ok := m["createdAt"]
	if !ok || v == nil {
		return nil
	}
	created, err := isoTime(v)
	if err != nil {
		return err
	}
	m["created"] = created
	return nil
}

// cleanupUser flattens the user's photo object into photo_prefix and
// photo_suffix.
func cleanupUser(user map[string]any) {
	photo, _ := user["photo"].(map[string]any)
	delete(user, "photo")
	user["photo_prefix"] = photo["prefix"]
	user["photo_suffix"] = photo["suffix"]
}

// cleanupCategory flattens the category's icon object into icon_prefix and
// icon_suffix.
func cleanupCategory(category map[string]any) error {
	icon, err := requireMap(category, "icon", "category")
	if err != nil {
		return err
	}
	category["icon_prefix"] = icon["prefix"]
	category["icon_suffix"] = icon["suffix"]
	return nil
}
