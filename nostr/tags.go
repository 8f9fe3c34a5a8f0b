package nostr

import (
	"bytes"
	"encoding/json"
)

// Tag is one event tag: a name followed by its values.
type Tag []string

// Name returns the tag name, or "" for an empty tag.
func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value after the name, or "".
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Tags is the ordered tag list of an event.
type Tags []Tag

// MarshalJSON renders a nil tag list as [] and never HTML-escapes values, so
// canonical serialization stays stable.
func (ts Tags) MarshalJSON() ([]byte, error) {
	if ts == nil {
		ts = Tags{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]Tag(ts)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// First returns the first tag with the given name, or nil.
func (ts Tags) First(name string) Tag {
	for _, t := range ts {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Values returns the first value of every tag with the given name, in order.
func (ts Tags) Values(name string) []string {
	var vals []string
	for _, t := range ts {
		if t.Name() == name && len(t) > 1 {
			vals = append(vals, t[1])
		}
	}
	return vals
}
