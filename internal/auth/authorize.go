package auth

import "strings"

// Snapshot is the identity a request acts under. Roles are frozen token
// claims; GrantedAgents is read from the store when the check needs it, so
// grant revocation takes effect immediately while role changes wait for the
// next token.
type Snapshot struct {
	UserID        string
	Roles         []string
	GrantedAgents map[string]struct{}
}

// HasRole reports whether the snapshot carries the role, case-insensitively.
func (s Snapshot) HasRole(role string) bool {
	role = strings.ToUpper(strings.TrimSpace(role))
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the snapshot carries at least one of the roles.
func (s Snapshot) HasAnyRole(roles ...string) bool {
	for _, role := range roles {
		if s.HasRole(role) {
			return true
		}
	}
	return false
}

// Decision is the result of an authorization check. Reason is set on denial
// for audit logs; it never reaches the response body.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow builds a positive decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a negative decision with an audit reason.
func Deny(reason string) Decision { return Decision{Allowed: false, Reason: reason} }

// RequireRole allows the request only when the snapshot carries the role.
func RequireRole(s Snapshot, role string) Decision {
	if s.HasRole(role) {
		return Allow()
	}
	return Deny("missing role " + strings.ToUpper(role))
}

// RequireRoleOrSelf allows role holders and the subject itself. It backs the
// user administration endpoints where users manage their own account.
func RequireRoleOrSelf(s Snapshot, role, subjectID string) Decision {
	if subjectID != "" && s.UserID == subjectID {
		return Allow()
	}
	return RequireRole(s, role)
}

// CanViewAgent decides catalog visibility for a single agent. ADMIN and VIP
// bypass the grant set; everyone else needs an explicit grant.
func CanViewAgent(s Snapshot, agentID string) Decision {
	if s.HasAnyRole(RoleAdmin, RoleVIP) {
		return Allow()
	}
	if _, ok := s.GrantedAgents[agentID]; ok {
		return Allow()
	}
	return Deny("no grant for agent " + agentID)
}
