// Package failure classifies task failures and detects completed tasks whose
// output reports a logical failure.
package failure

// Category is the failure class a revision is planned from.
type Category string

const (
	CategoryMissingResource     Category = "missing-resource"
	CategoryAccessDenied        Category = "access-denied"
	CategoryGenericFailure      Category = "generic-failure"
	CategoryConstraintViolation Category = "constraint-violation"
)

const RuleSchemaVersion = "1.0.0"

// FailedStatus is the status value that marks a structured output as failed.
const FailedStatus = "FAILED"

// RuleSet is the on-disk form of the classification rules. Rules are tried in
// order and the first rule with a matching pattern wins.
type RuleSet struct {
	SchemaVersion string   `yaml:"schema_version"`
	Rules         []Rule   `yaml:"rules"`
	Markers       []string `yaml:"markers,omitempty"`
}

type Rule struct {
	ID       string   `yaml:"id"`
	Category Category `yaml:"category"`
	Patterns []string `yaml:"patterns"`
	// ResourcePattern's first capture group names the missing resource.
	ResourcePattern string `yaml:"resource_pattern,omitempty"`
}

// Analysis is the classification of one outcome.
type Analysis struct {
	TaskID   string
	Category Category
	RuleID   string
	Resource string
	Message  string
}

// DefaultRuleSet returns the built-in rules. Missing-resource phrasing is
// checked before access phrasing.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		SchemaVersion: RuleSchemaVersion,
		Rules: []Rule{
			{
				ID:       "missing-resource",
				Category: CategoryMissingResource,
				Patterns: []string{
					`(?i)not found`,
					`(?i)no such file`,
					`(?i)does not exist`,
					`(?i)cannot find`,
					`(?i)\bmissing\b`,
					`\bENOENT\b`,
				},
				ResourcePattern: `(?i)(?:not found|no such file or directory|does not exist|missing)\s*[:=]\s*['"]?([^\s'"]+)`,
			},
			{
				ID:       "access-denied",
				Category: CategoryAccessDenied,
				Patterns: []string{
					`(?i)permission denied`,
					`(?i)access denied`,
					`(?i)access is denied`,
					`(?i)forbidden`,
					`(?i)unauthori[sz]ed`,
					`(?i)not permitted`,
					`\bEACCES\b`,
					`\bEPERM\b`,
				},
			},
		},
		Markers: []string{"ERROR", "FAILED"},
	}
}
