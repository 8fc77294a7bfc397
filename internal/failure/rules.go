package failure

import (
	"fmt"
	"regexp"
)

// Rules is a validated RuleSet with its patterns compiled. It is immutable once
// built and may be shared between goroutines.
type Rules struct {
	set   RuleSet
	rules []compiledRule
}

type compiledRule struct {
	Rule
	patterns []*regexp.Regexp
	resource *regexp.Regexp
}

// Compile validates rs and compiles its patterns.
func Compile(rs RuleSet) (*Rules, error) {
	return compileWith(rs, regexp.Compile)
}

func mustCompile(rs RuleSet) *Rules {
	r, err := Compile(rs)
	if err != nil {
		panic(fmt.Sprintf("failure: compile rules: %v", err))
	}
	return r
}

func compileWith(rs RuleSet, compile func(string) (*regexp.Regexp, error)) (*Rules, error) {
	if err := validateRuleSet(rs); err != nil {
		return nil, err
	}

	out := &Rules{set: rs, rules: make([]compiledRule, 0, len(rs.Rules))}
	for _, rule := range rs.Rules {
		cr := compiledRule{Rule: rule}
		for _, p := range rule.Patterns {
			re, err := compile(p)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid pattern %q: %w", rule.ID, p, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		if rule.ResourcePattern != "" {
			re, err := compile(rule.ResourcePattern)
			if err != nil {
				return nil, fmt.Errorf("rule %s: invalid resource_pattern: %w", rule.ID, err)
			}
			if re.NumSubexp() < 1 {
				return nil, fmt.Errorf("rule %s: resource_pattern needs a capture group", rule.ID)
			}
			cr.resource = re
		}
		out.rules = append(out.rules, cr)
	}
	return out, nil
}

func validateRuleSet(rs RuleSet) error {
	if rs.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	if rs.SchemaVersion != RuleSchemaVersion {
		return fmt.Errorf("unsupported schema version: %s", rs.SchemaVersion)
	}

	ids := make(map[string]bool, len(rs.Rules))
	for i, rule := range rs.Rules {
		if rule.ID == "" {
			return fmt.Errorf("rule %d: missing ID", i)
		}
		if ids[rule.ID] {
			return fmt.Errorf("duplicate rule ID: %s", rule.ID)
		}
		ids[rule.ID] = true

		switch rule.Category {
		case CategoryMissingResource, CategoryAccessDenied, CategoryGenericFailure:
		default:
			return fmt.Errorf("rule %s: invalid category: %q", rule.ID, rule.Category)
		}
		if len(rule.Patterns) == 0 {
			return fmt.Errorf("rule %s: must have at least one pattern", rule.ID)
		}
	}

	for i, m := range rs.Markers {
		if m == "" {
			return fmt.Errorf("markers[%d]: empty marker", i)
		}
	}
	return nil
}

// Version is the schema version the rules were loaded with.
func (r *Rules) Version() string { return r.set.SchemaVersion }

// RuleIDs lists the rule IDs in match order.
func (r *Rules) RuleIDs() []string {
	ids := make([]string, len(r.rules))
	for i, cr := range r.rules {
		ids[i] = cr.ID
	}
	return ids
}

func (r *Rules) markers() []string { return r.set.Markers }

func (r *Rules) match(text string) (compiledRule, bool) {
	for _, cr := range r.rules {
		for _, re := range cr.patterns {
			if re.MatchString(text) {
				return cr, true
			}
		}
	}
	return compiledRule{}, false
}

func (cr compiledRule) resourceName(text string) string {
	if cr.resource == nil {
		return ""
	}
	if m := cr.resource.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	return ""
}
