package nostr

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Filter selects events by ID, author, kind, tag value, and time window.
type Filter struct {
	IDs     []string
	Kinds   []int
	Authors []string
	Tags    map[string][]string
	Since   *int64
	Until   *int64
	Limit   int
}

// MarshalJSON renders the filter in wire form. Tag filters are keyed as
// "#name".
func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	for name, vals := range f.Tags {
		if len(vals) > 0 {
			m["#"+name] = vals
		}
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	return json.Marshal(m)
}

// UnmarshalJSON parses a wire-form filter, folding "#name" keys back into
// Tags.
func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse filter: %w", err)
	}

	*f = Filter{}
	for key, val := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(val, &f.IDs)
		case key == "kinds":
			err = json.Unmarshal(val, &f.Kinds)
		case key == "authors":
			err = json.Unmarshal(val, &f.Authors)
		case key == "since":
			var since int64
			if err = json.Unmarshal(val, &since); err == nil {
				f.Since = &since
			}
		case key == "until":
			var until int64
			if err = json.Unmarshal(val, &until); err == nil {
				f.Until = &until
			}
		case key == "limit":
			err = json.Unmarshal(val, &f.Limit)
		case strings.HasPrefix(key, "#"):
			var vals []string
			if err = json.Unmarshal(val, &vals); err == nil {
				if f.Tags == nil {
					f.Tags = make(map[string][]string)
				}
				f.Tags[key[1:]] = vals
			}
		}
		if err != nil {
			return fmt.Errorf("parse filter %q: %w", key, err)
		}
	}
	return nil
}

// Matches reports whether the event satisfies every constraint of the filter.
// Limit is a delivery bound, not a match constraint.
func (f Filter) Matches(e *Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, e.ID) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, e.PubKey) {
		return false
	}
	for name, vals := range f.Tags {
		if len(vals) == 0 {
			continue
		}
		matched := false
		for _, have := range e.Tags.Values(name) {
			if containsString(vals, have) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
