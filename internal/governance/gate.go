// File: internal/governance/gate.go
package governance

import (
	"fmt"
	"slices"
)

// Decision is the outcome of a pattern-adoption query.
type Decision string

const (
	DecisionAutoEnable      Decision = "auto-enable"
	DecisionPendingApproval Decision = "pending-approval"
	DecisionUnknown         Decision = "unknown"
)

// Authorization is the result of an access check. A denial is a normal
// result, not an error.
type Authorization struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// Adoption is the result of a pattern-adoption query.
type Adoption struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
}

// Gate answers authorization and pattern-adoption questions against a fixed
// policy. It is immutable after construction and safe for concurrent use.
type Gate struct {
	rules           map[string]Rule
	autoEnable      map[string]struct{}
	requireApproval map[string]struct{}
}

// NewGate indexes a policy. When several rules name the same role, the first wins.
func NewGate(p Policy) *Gate {
	g := &Gate{
		rules:           make(map[string]Rule, len(p.AccessControl.Rules)),
		autoEnable:      toSet(p.ChangePolicy.AutoEnablePatterns.Allowed),
		requireApproval: toSet(p.ChangePolicy.AutoEnablePatterns.RequireApproval),
	}
	for _, r := range p.AccessControl.Rules {
		if _, seen := g.rules[r.Role]; !seen {
			g.rules[r.Role] = r
		}
	}
	return g
}

// Authorize reports whether actor may perform action in domain. The domain is
// checked before the action.
func (g *Gate) Authorize(action, actor, domain string) Authorization {
	rule, ok := g.rules[actor]
	if !ok {
		return Authorization{Reason: fmt.Sprintf("no access rule for role '%s'", actor)}
	}
	if !slices.Contains(rule.AllowedDomains, domain) {
		return Authorization{Reason: fmt.Sprintf("role '%s' not allowed in domain '%s'", actor, domain)}
	}
	if !slices.Contains(rule.AllowedActions, action) {
		return Authorization{Reason: fmt.Sprintf("role '%s' cannot perform '%s' in domain '%s'", actor, action, domain)}
	}
	return Authorization{Allowed: true}
}

// ClassifyPattern reports how a pattern may be adopted. The auto-enable list
// takes precedence when a pattern appears in both lists.
func (g *Gate) ClassifyPattern(id string) Adoption {
	if _, ok := g.autoEnable[id]; ok {
		return Adoption{Decision: DecisionAutoEnable, Reason: "pattern in auto-enable list"}
	}
	if _, ok := g.requireApproval[id]; ok {
		return Adoption{Decision: DecisionPendingApproval, Reason: "pattern requires human approval"}
	}
	return Adoption{Decision: DecisionUnknown, Reason: "pattern not in governance lists"}
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	return set
}
