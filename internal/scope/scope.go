package scope

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Access levels, ordered read < write < admin. The write level is encoded as
// the empty prefix in scope strings.
const (
	AccessRead  = "read"
	AccessWrite = ""
	AccessAdmin = "admin"
)

// Metascope names. These never appear in an expanded set; ResolveMeta
// replaces them with concrete scopes per subject.
const (
	MetaSelf    = "self"
	MetaInherit = "inherit"
	MetaAll     = "all"
)

// Wildcard is the scope implicitly held by the admin role. It expands to
// every known scope, unfiltered.
const Wildcard = "*"

// Scope is one parsed capability string.
type Scope struct {
	Access      string
	Resource    string
	Sub         string
	FilterKey   string
	FilterValue string
}

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// IsMeta reports whether raw names a metascope rather than a concrete scope.
func IsMeta(raw string) bool {
	return raw == MetaSelf || raw == MetaInherit || raw == MetaAll
}

// Parse parses a raw scope string. Metascopes and the wildcard are rejected;
// callers resolve those separately before parsing.
func Parse(raw string) (Scope, error) {
	if raw == "" {
		return Scope{}, fmt.Errorf("empty scope")
	}
	if IsMeta(raw) || raw == Wildcard {
		return Scope{}, fmt.Errorf("scope %q is a metascope, not a concrete scope", raw)
	}

	var s Scope

	body := raw
	if idx := strings.Index(raw, "!"); idx >= 0 {
		body = raw[:idx]
		filter := raw[idx+1:]
		eq := strings.Index(filter, "=")
		if eq <= 0 || eq == len(filter)-1 {
			return Scope{}, fmt.Errorf("scope %q: filter must have the form !key=name", raw)
		}
		s.FilterKey = filter[:eq]
		s.FilterValue = filter[eq+1:]
		switch s.FilterKey {
		case "user", "group", "server", "service":
		default:
			return Scope{}, fmt.Errorf("scope %q: unknown filter key %q", raw, s.FilterKey)
		}
	}

	parts := strings.Split(body, ":")
	if parts[0] == AccessRead || parts[0] == AccessAdmin {
		s.Access = parts[0]
		parts = parts[1:]
	}
	switch len(parts) {
	case 1:
		s.Resource = parts[0]
	case 2:
		s.Resource = parts[0]
		s.Sub = parts[1]
	default:
		return Scope{}, fmt.Errorf("scope %q: too many segments", raw)
	}
	if !namePattern.MatchString(s.Resource) {
		return Scope{}, fmt.Errorf("scope %q: invalid resource %q", raw, s.Resource)
	}
	if s.Sub != "" && !namePattern.MatchString(s.Sub) {
		return Scope{}, fmt.Errorf("scope %q: invalid subresource %q", raw, s.Sub)
	}
	if !knownResource(s.Resource, s.Sub) {
		return Scope{}, fmt.Errorf("scope %q: unknown resource", raw)
	}
	return s, nil
}

// MustParse is Parse for compile-time-constant scopes; it panics on error.
func MustParse(raw string) Scope {
	s, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseAll parses a list of raw scope strings.
func ParseAll(raws []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(raws))
	for _, raw := range raws {
		s, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

// Base returns the canonical scope string without any filter.
func (s Scope) Base() string {
	var b strings.Builder
	if s.Access != AccessWrite {
		b.WriteString(s.Access)
		b.WriteString(":")
	}
	b.WriteString(s.Resource)
	if s.Sub != "" {
		b.WriteString(":")
		b.WriteString(s.Sub)
	}
	return b.String()
}

// String returns the full scope string including the filter, if any.
func (s Scope) String() string {
	base := s.Base()
	if s.FilterKey == "" {
		return base
	}
	return base + "!" + s.FilterKey + "=" + s.FilterValue
}

// filterValue is the "key=name" form used inside Filters sets.
func (s Scope) filterValue() string {
	if s.FilterKey == "" {
		return ""
	}
	return s.FilterKey + "=" + s.FilterValue
}

// Filters records which objects a held scope applies to. All means the scope
// is unfiltered; otherwise Values holds "key=name" entries, additively.
type Filters struct {
	All    bool
	Values map[string]struct{}
}

func (f Filters) clone() Filters {
	if f.All {
		return Filters{All: true}
	}
	out := Filters{Values: make(map[string]struct{}, len(f.Values))}
	for v := range f.Values {
		out.Values[v] = struct{}{}
	}
	return out
}

// merge folds other into f, honoring additive filter semantics.
func (f Filters) merge(other Filters) Filters {
	if f.All || other.All {
		return Filters{All: true}
	}
	out := f.clone()
	for v := range other.Values {
		out.Values[v] = struct{}{}
	}
	return out
}

// Set is a collection of expanded scopes keyed by base scope string.
type Set map[string]Filters

// NewSet builds a Set from parsed scopes without expansion.
func NewSet(scopes ...Scope) Set {
	set := make(Set, len(scopes))
	for _, s := range scopes {
		set.Add(s)
	}
	return set
}

// Add inserts one scope, merging filters with any existing entry.
func (set Set) Add(s Scope) {
	base := s.Base()
	var f Filters
	if s.FilterKey == "" {
		f = Filters{All: true}
	} else {
		f = Filters{Values: map[string]struct{}{s.filterValue(): {}}}
	}
	if existing, ok := set[base]; ok {
		set[base] = existing.merge(f)
	} else {
		set[base] = f
	}
}

// Union folds other into set in place and returns set.
func (set Set) Union(other Set) Set {
	for base, f := range other {
		if existing, ok := set[base]; ok {
			set[base] = existing.merge(f)
		} else {
			set[base] = f.clone()
		}
	}
	return set
}

// Has reports whether the set holds the base scope for any object.
func (set Set) Has(base string) bool {
	_, ok := set[base]
	return ok
}

// HasUnfiltered reports whether the set holds the base scope across all
// objects.
func (set Set) HasUnfiltered(base string) bool {
	f, ok := set[base]
	return ok && f.All
}

// Equal reports whether two sets grant exactly the same access.
func (set Set) Equal(other Set) bool {
	if len(set) != len(other) {
		return false
	}
	for base, f := range set {
		g, ok := other[base]
		if !ok || f.All != g.All || len(f.Values) != len(g.Values) {
			return false
		}
		for v := range f.Values {
			if _, ok := g.Values[v]; !ok {
				return false
			}
		}
	}
	return true
}

// Strings renders the set as sorted scope strings, one per (base, filter)
// pair. Useful for API responses and tests.
func (set Set) Strings() []string {
	var out []string
	for base, f := range set {
		if f.All {
			out = append(out, base)
			continue
		}
		for v := range f.Values {
			out = append(out, base+"!"+v)
		}
	}
	sort.Strings(out)
	return out
}
