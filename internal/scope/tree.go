package scope

// resourceSubs is the registry of resources the hub's API exposes and their
// subresources. Expansion and validation are driven off this table; adding a
// new API resource means adding a row here.
var resourceSubs = map[string][]string{
	"users":    {"activity", "name"},
	"servers":  nil,
	"tokens":   nil,
	"groups":   nil,
	"roles":    nil,
	"services": nil,
	"shares":   nil,
	"access":   {"servers"},
	"proxy":    nil,
	"hub":      nil,
}

// accessOnlyResources never exist at the bare resource level; they are only
// meaningful with their subresource ("access:servers").
var accessOnlyResources = map[string]bool{
	"access": true,
}

func knownResource(resource, sub string) bool {
	subs, ok := resourceSubs[resource]
	if !ok {
		return false
	}
	if sub == "" {
		return !accessOnlyResources[resource]
	}
	for _, s := range subs {
		if s == sub {
			return true
		}
	}
	return false
}

// AllScopes returns every concrete scope the hub knows about, unfiltered.
// This is the expansion of the wildcard held by the admin role.
func AllScopes() []Scope {
	var out []Scope
	for resource, subs := range resourceSubs {
		levels := []string{AccessAdmin, AccessWrite, AccessRead}
		if !accessOnlyResources[resource] {
			for _, access := range levels {
				out = append(out, Scope{Access: access, Resource: resource})
			}
		}
		for _, sub := range subs {
			for _, access := range levels {
				out = append(out, Scope{Access: access, Resource: resource, Sub: sub})
			}
		}
	}
	return out
}
