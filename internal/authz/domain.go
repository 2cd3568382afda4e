// Package authz evaluates role-based menu authorization requests against a
// persisted set of policy and grouping rules.
//
// Callers hold one Engine per process. Reads never observe changes made by
// another process until Reload is called; this lets admin batches perform
// several mutations before paying for a round trip.
package authz

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ActionView is the only action the menu layer issues.
const ActionView = "view"

// Rule row types understood by the store. Rows of any other grouping type
// (g2, g3, ...) are kept verbatim and written back on save.
const (
	PTypePolicy   = "p"
	PTypeGrouping = "g"
)

// maxRuleValues matches the v0..v5 columns of the rule table.
const maxRuleValues = 6

// Policy is an allow grant of action on object to subject.
type Policy struct {
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Action  string `json:"action"`
}

// Permission is the (object, action) half of a policy.
type Permission struct {
	Object string `json:"object" validate:"required"`
	Action string `json:"action"`
}

// Grouping states that Member inherits everything granted to Role.
type Grouping struct {
	Member string `json:"member"`
	Role   string `json:"role"`
}

// Rule is one durable row: a type tag followed by up to six values.
type Rule struct {
	PType  string
	Values []string
}

// PolicyRule renders a policy as a durable row.
func PolicyRule(p Policy) Rule {
	return Rule{PType: PTypePolicy, Values: []string{p.Subject, p.Object, p.Action}}
}

// GroupingRule renders a grouping as a durable row.
func GroupingRule(g Grouping) Rule {
	return Rule{PType: PTypeGrouping, Values: []string{g.Member, g.Role}}
}

// Value returns the i-th value or "" when the row is shorter.
func (r Rule) Value(i int) string {
	if i < 0 || i >= len(r.Values) {
		return ""
	}
	return r.Values[i]
}

func (r Rule) key() string {
	return r.PType + "\x00" + strings.Join(r.Values, "\x00")
}

// normalizeID trims and NFC-normalises an identifier so that visually
// identical names entered through different input methods compare equal.
func normalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

func normalizeAction(action string) string {
	action = normalizeID(action)
	if action == "" {
		return ActionView
	}
	return action
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Object != perms[j].Object {
			return perms[i].Object < perms[j].Object
		}
		return perms[i].Action < perms[j].Action
	})
}
