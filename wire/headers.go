package wire

import "strings"

// Headers is an insertion-ordered set of header fields. Name lookups
// are case-insensitive. Duplicate names are kept as-is; coalescing
// list-based fields is a concern of higher layers.
type Headers struct {
	fields []Field
}

func NewHeaders(initial []Field) Headers {
	clone := make([]Field, len(initial))
	copy(clone, initial)
	return Headers{fields: clone}
}

// Fields returns a copy of the fields in insertion order.
func (h *Headers) Fields() []Field {
	clone := make([]Field, len(h.fields))
	copy(clone, h.fields)
	return clone
}

func (h *Headers) Len() int { return len(h.fields) }

// Get returns the value of the first field with the given name.
func (h *Headers) Get(name string) (value string, ok bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Values returns the values of every field with the given name,
// in insertion order.
func (h *Headers) Values(name string) (values []string, ok bool) {
	for _, f := range h.fields {
		if strings.EqualFold(f.Name, name) {
			values = append(values, f.Value)
		}
	}
	return values, len(values) > 0
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Headers) Add(name, value string) {
	h.fields = append(h.fields, Field{Name: name, Value: value})
}

// Set replaces every field with the given name by a single field.
// The replacement keeps the position of the first occurrence.
func (h *Headers) Set(name, value string) {
	kept := h.fields[:0]
	replaced := false
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
			continue
		}
		if !replaced {
			kept = append(kept, Field{Name: name, Value: value})
			replaced = true
		}
	}
	h.fields = kept

	if !replaced {
		h.Add(name, value)
	}
}

// SetIfAbsent adds the field only if no field with the name exists.
// First write wins; an existing field is never overwritten.
func (h *Headers) SetIfAbsent(name, value string) {
	if _, ok := h.Get(name); ok {
		return
	}
	h.Add(name, value)
}

func (h *Headers) Del(name string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Name, name) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}
