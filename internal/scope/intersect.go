package scope

import "strings"

// GroupExpander resolves a group name to its member user names. Intersection
// uses it to compare group filters against user filters; a nil expander
// treats group filters as opaque values.
type GroupExpander func(group string) []string

// expandFilterValues widens a filter value set so that group filters also
// count for each member user. The original group entries are kept: two sets
// holding the same group filter still intersect on it directly.
func expandFilterValues(values map[string]struct{}, expand GroupExpander) map[string]struct{} {
	if expand == nil {
		return values
	}
	out := make(map[string]struct{}, len(values))
	for v := range values {
		out[v] = struct{}{}
		if name, ok := strings.CutPrefix(v, "group="); ok {
			for _, member := range expand(name) {
				out["user="+member] = struct{}{}
			}
		}
	}
	return out
}

// Intersect computes the filter-aware intersection of two expanded sets.
// The result never grants more than either input: an unfiltered side adopts
// the other side's filters, and disjoint filters on the same base scope
// produce no entry at all. This is the single intersection rule used for
// both token issuance and request evaluation.
func Intersect(a, b Set, expand GroupExpander) Set {
	out := make(Set)
	for base, fa := range a {
		fb, ok := b[base]
		if !ok {
			continue
		}
		switch {
		case fa.All && fb.All:
			out[base] = Filters{All: true}
		case fa.All:
			out[base] = fb.clone()
		case fb.All:
			out[base] = fa.clone()
		default:
			wa := expandFilterValues(fa.Values, expand)
			wb := expandFilterValues(fb.Values, expand)
			common := make(map[string]struct{})
			for v := range fa.Values {
				if _, ok := wb[v]; ok {
					common[v] = struct{}{}
				}
			}
			for v := range fb.Values {
				if _, ok := wa[v]; ok {
					common[v] = struct{}{}
				}
			}
			if len(common) > 0 {
				out[base] = Filters{Values: common}
			}
		}
	}
	return out
}
