package twofa

// DisablePolicy decides, per role set, whether an account may turn two-factor
// authentication off and whether it must have it on. The role lists are
// configuration, not hardcoded role-name comparisons, so deployments decide
// which account classes are locked.
type DisablePolicy struct {
	// LockedRoles names the roles whose accounts can never disable 2FA.
	LockedRoles []string
	// RequiredRoles names the roles whose accounts are expected to enroll.
	RequiredRoles []string
}

// CanDisable reports whether none of the given roles is policy-locked.
func (p DisablePolicy) CanDisable(roles []string) bool {
	return !containsAny(roles, p.LockedRoles)
}

// Required reports whether any of the given roles mandates enrollment.
func (p DisablePolicy) Required(roles []string) bool {
	return containsAny(roles, p.RequiredRoles)
}

func containsAny(roles, names []string) bool {
	for _, role := range roles {
		for _, name := range names {
			if role == name {
				return true
			}
		}
	}
	return false
}
