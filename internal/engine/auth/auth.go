package auth

import "fmt"

// Capabilities a role may be granted.
const (
	SelfAssign     = "self_assign"
	AssignOthers   = "assign_others"
	RequestPayment = "request_payment"
	UnlockPayment  = "unlock_payment"
	Deliver        = "deliver"
	Reject         = "reject"
	Submit         = "submit"
)

var known = map[string]bool{
	SelfAssign:     true,
	AssignOthers:   true,
	RequestPayment: true,
	UnlockPayment:  true,
	Deliver:        true,
	Reject:         true,
	Submit:         true,
}

// Known reports whether capability is one the engine checks.
func Known(capability string) bool {
	return known[capability]
}

// ForbiddenError indicates missing capability.
type ForbiddenError struct {
	Role       string
	Capability string
}

func (e ForbiddenError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("capability %s required", e.Capability)
	}
	return fmt.Sprintf("role %s lacks capability %s", e.Role, e.Capability)
}

// Policy maps roles to the capabilities they hold. The zero value grants nothing.
type Policy struct {
	roles map[string]map[string]bool
}

func NewPolicy(roles map[string][]string) Policy {
	p := Policy{roles: make(map[string]map[string]bool, len(roles))}
	for role, caps := range roles {
		set := make(map[string]bool, len(caps))
		for _, c := range caps {
			set[c] = true
		}
		p.roles[role] = set
	}
	return p
}

// Can is the single capability check consulted by every mutating operation.
func (p Policy) Can(role, capability string) bool {
	return p.roles[role][capability]
}

// Require returns a ForbiddenError when role lacks capability.
func (p Policy) Require(role, capability string) error {
	if p.Can(role, capability) {
		return nil
	}
	return ForbiddenError{Role: role, Capability: capability}
}

// Capabilities lists what role holds, in a stable order.
func (p Policy) Capabilities(role string) []string {
	var out []string
	for _, c := range []string{Submit, RequestPayment, SelfAssign, AssignOthers, UnlockPayment, Deliver, Reject} {
		if p.roles[role][c] {
			out = append(out, c)
		}
	}
	return out
}

// HasRole reports whether role is defined at all.
func (p Policy) HasRole(role string) bool {
	_, ok := p.roles[role]
	return ok
}
