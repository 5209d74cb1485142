package scope

// accessChain returns the access levels implied by holding a scope at the
// given level: admin implies write implies read.
func accessChain(access string) []string {
	switch access {
	case AccessAdmin:
		return []string{AccessAdmin, AccessWrite, AccessRead}
	case AccessWrite:
		return []string{AccessWrite, AccessRead}
	default:
		return []string{AccessRead}
	}
}

// impliedBases returns the base strings a single scope implies, including
// itself: lower access levels and, for resource-level scopes, every
// subresource at those levels.
func impliedBases(s Scope) []string {
	var out []string
	for _, access := range accessChain(s.Access) {
		out = append(out, Scope{Access: access, Resource: s.Resource, Sub: s.Sub}.Base())
		if s.Sub == "" {
			for _, sub := range resourceSubs[s.Resource] {
				out = append(out, Scope{Access: access, Resource: s.Resource, Sub: sub}.Base())
			}
		}
	}
	return out
}

// Expand materializes everything the given set implies: read: variants,
// subresource children, and the write level for admin: scopes. Filters are
// carried through unchanged. Expansion is idempotent.
//
// Metascopes must be resolved (ResolveMeta) before expansion; an unresolved
// metascope would have failed Parse already, so Expand assumes concrete
// input.
func Expand(set Set) Set {
	out := make(Set, len(set))
	for base, f := range set {
		// Base strings in a Set were produced by Scope.Base, so they
		// always re-parse. Filters are re-attached per implied base.
		s := mustParseBase(base)
		for _, implied := range impliedBases(s) {
			if existing, ok := out[implied]; ok {
				out[implied] = existing.merge(f)
			} else {
				out[implied] = f.clone()
			}
		}
	}
	return out
}

// ExpandScopes is Expand over a raw scope list.
func ExpandScopes(scopes []Scope) Set {
	return Expand(NewSet(scopes...))
}

func mustParseBase(base string) Scope {
	s, err := Parse(base)
	if err != nil {
		panic("scope: malformed base in set: " + base)
	}
	return s
}

// Subject identifies the entity a metascope resolves against.
type Subject struct {
	Kind string // "user" or "service"
	Name string
}

// SelfScopes returns the concrete scopes the "self" metascope resolves to
// for the given subject: access to the subject's own model, servers, tokens
// and shares, each horizontally filtered to the subject.
func SelfScopes(sub Subject) []Scope {
	if sub.Kind == "service" {
		return []Scope{
			{Access: AccessRead, Resource: "services", FilterKey: "service", FilterValue: sub.Name},
			{Resource: "tokens", FilterKey: "service", FilterValue: sub.Name},
		}
	}
	filter := func(s Scope) Scope {
		s.FilterKey = "user"
		s.FilterValue = sub.Name
		return s
	}
	return []Scope{
		filter(Scope{Access: AccessRead, Resource: "users"}),
		filter(Scope{Resource: "users", Sub: "activity"}),
		filter(Scope{Resource: "servers"}),
		filter(Scope{Resource: "tokens"}),
		filter(Scope{Resource: "shares"}),
		filter(Scope{Resource: "access", Sub: "servers"}),
	}
}

// ResolveMeta replaces metascopes in raws with concrete scopes and parses
// the rest. ownerScopes supplies the resolution of inherit/all: the owner's
// expanded scope set at evaluation time, never at issuance time, so a token
// can never exceed its current owner's permissions.
func ResolveMeta(raws []string, sub Subject, ownerScopes Set) (Set, error) {
	set := make(Set)
	for _, raw := range raws {
		switch {
		case raw == MetaSelf:
			for _, s := range SelfScopes(sub) {
				set.Add(s)
			}
		case raw == MetaInherit || raw == MetaAll:
			set.Union(ownerScopes)
		case raw == Wildcard:
			for _, s := range AllScopes() {
				set.Add(s)
			}
		default:
			s, err := Parse(raw)
			if err != nil {
				return nil, err
			}
			set.Add(s)
		}
	}
	return set, nil
}
