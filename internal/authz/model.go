package authz

import (
	"fmt"
	"os"
	"sort"
	"strings"

	casbinmodel "github.com/casbin/casbin/v2/model"
)

// DefaultModelText is the matcher configuration used when none is supplied.
const DefaultModelText = `[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

const (
	supportedEffect  = "some(where(p_eft==allow))"
	supportedMatcher = "g(r_sub,p_sub)&&r_obj==p_obj&&r_act==p_act"
)

// Model is the validated matcher configuration.
type Model struct {
	Request   []string
	Policy    []string
	Groupings []string
	Effect    string
	Matcher   string
}

// LoadModel reads model text from path, or returns the default model when
// path is empty.
func LoadModel(path string) (*Model, error) {
	if path == "" {
		return ParseModel(DefaultModelText)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("authz: read model: %w", err)
	}
	return ParseModel(string(data))
}

// ParseModel parses casbin-style model text and rejects anything other than
// allow-only sub/obj/act matching with role-closure subject matching.
// Additional grouping relations (g2, g3, ...) are accepted; their rows are
// preserved but not evaluated.
func ParseModel(text string) (*Model, error) {
	parsed, err := casbinmodel.NewModelFromString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedModel, err)
	}

	m := &Model{}
	if m.Request, err = definitionTokens(parsed, "r"); err != nil {
		return nil, err
	}
	if m.Policy, err = definitionTokens(parsed, "p"); err != nil {
		return nil, err
	}
	for _, tokens := range [][]string{m.Request, m.Policy} {
		if strings.Join(tokens, ",") != "sub,obj,act" {
			return nil, fmt.Errorf("%w: expected sub, obj, act, got %s", ErrUnsupportedModel, strings.Join(tokens, ", "))
		}
	}

	groupings := parsed["g"]
	if _, ok := groupings[PTypeGrouping]; !ok {
		return nil, fmt.Errorf("%w: role definition g is required", ErrUnsupportedModel)
	}
	for key := range groupings {
		m.Groupings = append(m.Groupings, key)
	}
	sort.Strings(m.Groupings)

	effect, ok := parsed["e"]["e"]
	if !ok || compact(effect.Value) != supportedEffect {
		return nil, fmt.Errorf("%w: only some(where (p.eft == allow)) is supported", ErrUnsupportedModel)
	}
	m.Effect = effect.Value

	matcher, ok := parsed["m"]["m"]
	if !ok || compact(matcher.Value) != supportedMatcher {
		return nil, fmt.Errorf("%w: unsupported matcher", ErrUnsupportedModel)
	}
	m.Matcher = matcher.Value
	return m, nil
}

func definitionTokens(parsed casbinmodel.Model, sec string) ([]string, error) {
	assertion, ok := parsed[sec][sec]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s definition", ErrUnsupportedModel, sec)
	}
	raw := assertion.Tokens
	if len(raw) == 0 {
		raw = strings.Split(assertion.Value, ",")
	}
	tokens := make([]string, 0, len(raw))
	for _, tok := range raw {
		tok = strings.TrimPrefix(strings.TrimSpace(tok), sec+"_")
		tokens = append(tokens, tok)
	}
	return tokens, nil
}

// compact removes whitespace and maps the dotted form to casbin's escaped
// underscore form so both spellings compare equal.
func compact(expr string) string {
	expr = strings.ReplaceAll(expr, ".", "_")
	return strings.Join(strings.Fields(expr), "")
}
