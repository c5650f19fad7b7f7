// Package crdt implements the replicated whiteboard document: a generic
// record representation for drawable objects, the codec between the two, and
// a snapshot-merging document with last-writer-wins semantics.
package crdt

// Record is the generic replicated form of a drawable object: a flat
// string-keyed map of JSON-compatible values. Records tolerate numeric type
// drift (integers where doubles are expected and vice versa) because peers
// on other runtimes serialize numbers differently.
type Record map[string]any

// Float returns a numeric field, accepting either float64 or integer
// encodings.
func (r Record) Float(key string) (float64, bool) {
	switch v := r[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Int returns an integer field, truncating a double if that is what
// arrived.
func (r Record) Int(key string) (int64, bool) {
	switch v := r[key].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

// String returns a string field.
func (r Record) String(key string) (string, bool) {
	v, ok := r[key].(string)
	return v, ok
}

// Bool returns a boolean field.
func (r Record) Bool(key string) (bool, bool) {
	v, ok := r[key].(bool)
	return v, ok
}

// List returns a list field.
func (r Record) List(key string) ([]any, bool) {
	v, ok := r[key].([]any)
	return v, ok
}

// Clone returns a shallow copy of the record. Nested lists are shared; the
// codec never mutates them in place.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
