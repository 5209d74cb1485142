package scope

import "strings"

// Decision is the outcome of an authorization check.
//
// Allowed=false is a plain deny. Allowed=true with empty Subscopes and nil
// Filter is a full allow. Non-empty Subscopes means the caller holds only a
// subset of the required scope and must vertically filter the response to
// the attributes those subscopes cover. A non-nil Filter means the caller's
// access is horizontally limited to the named objects.
type Decision struct {
	Allowed   bool
	Subscopes []string
	Filter    *EntityFilter
}

// EntityFilter restricts a decision to named objects, per filter key.
type EntityFilter struct {
	values map[string]struct{}
	expand GroupExpander
}

// Permits reports whether the object identified by key ("user", "server",
// "service") and name passes the filter. A nil filter permits everything.
func (f *EntityFilter) Permits(key, name string) bool {
	if f == nil {
		return true
	}
	if _, ok := f.values[key+"="+name]; ok {
		return true
	}
	// A group filter covers each member user.
	if key == "user" && f.expand != nil {
		for v := range f.values {
			if group, ok := strings.CutPrefix(v, "group="); ok {
				for _, member := range f.expand(group) {
					if member == name {
						return true
					}
				}
			}
		}
	}
	return false
}

// Names returns the filter values recorded for one key, e.g. the user names
// a "read:users!user=..." grant covers. Group filters are expanded.
func (f *EntityFilter) Names(key string) []string {
	if f == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(name string) {
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	for v := range f.values {
		if name, ok := strings.CutPrefix(v, key+"="); ok {
			add(name)
		}
		if key == "user" && f.expand != nil {
			if group, ok := strings.CutPrefix(v, "group="); ok {
				for _, member := range f.expand(group) {
					add(member)
				}
			}
		}
	}
	return out
}

// Authorize checks a required scope against an expanded held set.
//
// Exact match or a held superset yields a full allow. Holding only
// subscopes of the requirement yields an allow restricted to those
// subscopes (vertical filtering). Anything else is a deny. Horizontal
// filters on the matching held entries are carried into the decision.
func Authorize(required Scope, held Set, expand GroupExpander) Decision {
	base := required.Base()

	if f, ok := held[base]; ok {
		dec := Decision{Allowed: true}
		if !f.All {
			dec.Filter = &EntityFilter{values: f.Values, expand: expand}
			// A required scope naming a specific object must be
			// covered by the filter, not merely overlap it.
			if required.FilterKey != "" && !dec.Filter.Permits(required.FilterKey, required.FilterValue) {
				return Decision{}
			}
		}
		return dec
	}

	// Vertical filtering: the caller holds strictly narrower scopes under
	// the requirement, e.g. read:users:name against required read:users.
	descendants := impliedBases(required)
	var subs []string
	merged := Filters{Values: make(map[string]struct{})}
	allUnfiltered := true
	for _, d := range descendants {
		if d == base {
			continue
		}
		f, ok := held[d]
		if !ok {
			continue
		}
		subs = append(subs, d)
		if f.All {
			merged = Filters{All: true}
		} else {
			allUnfiltered = false
			if !merged.All {
				for v := range f.Values {
					merged.Values[v] = struct{}{}
				}
			}
		}
	}
	if len(subs) == 0 {
		return Decision{}
	}
	dec := Decision{Allowed: true, Subscopes: subs}
	if !allUnfiltered && !merged.All {
		dec.Filter = &EntityFilter{values: merged.Values, expand: expand}
		if required.FilterKey != "" && !dec.Filter.Permits(required.FilterKey, required.FilterValue) {
			return Decision{}
		}
	}
	return dec
}
