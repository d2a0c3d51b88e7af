// Package policy is the authorization gate consulted before any
// identifier mutation. The policy engine itself is an external
// collaborator; this package defines the predicates the coordinator
// consumes plus a default ownership-based implementation.
package policy

// Agent is an authenticated (local name, persistent identifier) pair,
// e.g. ("dryad", "ark:/13030/foo").
type Agent struct {
	Name string
	PID  string
}

// Authorizer decides create/update legality.
type Authorizer interface {
	// AuthorizeCreate reports whether user/group may create an
	// identifier under the given qualified prefix, e.g. "doi:10.5060/".
	AuthorizeCreate(user, group Agent, qualifiedPrefix string) bool

	// AuthorizeUpdate reports whether user/group may set the named
	// keys on an identifier with the given owner, owner group, and
	// co-owners.
	AuthorizeUpdate(user, group Agent, identifier string,
		owner, ownerGroup Agent, coOwners []Agent, keysBeingSet []string) bool
}

// Ownership is the default policy: any authenticated non-anonymous
// user may create; updates require being the owner, a co-owner, or
// the administrator.
type Ownership struct {
	AdminUsername string
}

// AuthorizeCreate allows any authenticated user.
func (p Ownership) AuthorizeCreate(user, _ Agent, _ string) bool {
	return user.Name != "" && user.Name != "anonymous"
}

// AuthorizeUpdate allows the admin, the owner, and co-owners.
func (p Ownership) AuthorizeUpdate(user, _ Agent, _ string,
	owner, _ Agent, coOwners []Agent, _ []string) bool {
	if user.Name == p.AdminUsername {
		return true
	}
	if user.PID == owner.PID {
		return true
	}
	for _, co := range coOwners {
		if user.PID == co.PID {
			return true
		}
	}
	return false
}

var _ Authorizer = Ownership{}
