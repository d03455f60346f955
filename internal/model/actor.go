package model

// ActorType distinguishes internal users from restricted vendor users.
type ActorType string

const (
	ActorTypeInternal ActorType = "internal"
	ActorTypeVendor   ActorType = "vendor"
)

// Actor is an already-authenticated identity attempting a transition. The
// engine never authenticates actors; it only authorizes resolved ones.
type Actor struct {
	ID          string
	TenantID    string
	Roles       []string
	Permissions []string
	Type        ActorType
}

// HasAnyRole reports whether the actor holds at least one of the given roles.
func (a *Actor) HasAnyRole(roles []string) bool {
	for _, want := range roles {
		for _, have := range a.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// HasAllPermissions reports whether the actor holds every given permission.
func (a *Actor) HasAllPermissions(permissions []string) bool {
	for _, want := range permissions {
		found := false
		for _, have := range a.Permissions {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
