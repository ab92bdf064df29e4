package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
)

// ScopeSet is an opaque set of permission labels. Membership is exact string
// equality; there is no wildcard or hierarchy.
type ScopeSet []string

// NewScopeSet returns the de-duplicated, sorted set of the given scopes.
// Empty strings are dropped.
func NewScopeSet(scopes ...string) ScopeSet {
	seen := make(map[string]struct{}, len(scopes))
	out := make(ScopeSet, 0, len(scopes))
	for _, s := range scopes {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Has reports whether scope is a member of the set.
func (s ScopeSet) Has(scope string) bool {
	for _, v := range s {
		if v == scope {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (s ScopeSet) Clone() ScopeSet {
	if s == nil {
		return ScopeSet{}
	}
	out := make(ScopeSet, len(s))
	copy(out, s)
	return out
}

// Value stores the set as a JSON array.
func (s ScopeSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON array column.
func (s *ScopeSet) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = ScopeSet{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("scan scopes: unsupported type %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("scan scopes: %w", err)
	}
	*s = NewScopeSet(out...)
	return nil
}

// MarshalJSON always emits an array, never null.
func (s ScopeSet) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(s))
}
