package failure

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/msageha/planguard/internal/model"
)

const msgNoOutcome = "no outcome recorded"

// Analyzer classifies outcomes against a rule set that can be swapped at any
// time without blocking readers.
type Analyzer struct {
	rules atomic.Pointer[Rules]
}

var defaultRules = mustCompile(DefaultRuleSet())

// NewAnalyzer returns an analyzer using rules, or the default rules when rules
// is nil.
func NewAnalyzer(rules *Rules) *Analyzer {
	a := &Analyzer{}
	if rules == nil {
		rules = defaultRules
	}
	a.rules.Store(rules)
	return a
}

func (a *Analyzer) Rules() *Rules {
	return a.rules.Load()
}

func (a *Analyzer) SetRules(r *Rules) {
	if r == nil {
		r = defaultRules
	}
	a.rules.Store(r)
}

var defaultAnalyzer = NewAnalyzer(nil)

// AnalyzeFailure classifies o with the default rules.
func AnalyzeFailure(o model.TaskOutcome) Category {
	return defaultAnalyzer.Analyze(o).Category
}

// CheckConstraintViolations reports whether a completed outcome's output
// signals failure, using the default markers.
func CheckConstraintViolations(o model.TaskOutcome) (string, bool) {
	return defaultAnalyzer.CheckConstraintViolations(o)
}

// Analyze matches the outcome's error text, or its output when the error is
// empty and the output is a string. Unmatched text is a generic failure.
func (a *Analyzer) Analyze(o model.TaskOutcome) Analysis {
	text := failureText(o)
	an := Analysis{
		TaskID:   o.TaskID,
		Category: CategoryGenericFailure,
		Message:  text,
	}
	if text == "" {
		return an
	}

	if cr, ok := a.rules.Load().match(text); ok {
		an.Category = cr.Category
		an.RuleID = cr.ID
		an.Resource = cr.resourceName(text)
	}
	return an
}

// Missing builds the analysis for a failed task that has no recorded outcome.
func Missing(taskID string) Analysis {
	return Analysis{TaskID: taskID, Category: CategoryGenericFailure, Message: msgNoOutcome}
}

func failureText(o model.TaskOutcome) string {
	if o.Error != "" {
		return o.Error
	}
	if s, ok := o.Output.(string); ok {
		return s
	}
	return ""
}

// CheckConstraintViolations only looks at completed outcomes. A string output
// violates when it contains a marker; a map output violates when its status
// field equals FailedStatus. Other output shapes never violate.
func (a *Analyzer) CheckConstraintViolations(o model.TaskOutcome) (string, bool) {
	if o.Status != model.StatusCompleted {
		return "", false
	}

	switch out := o.Output.(type) {
	case string:
		for _, m := range a.rules.Load().markers() {
			if strings.Contains(out, m) {
				return fmt.Sprintf("Output contains failure marker %q: %s", m, out), true
			}
		}
	case map[string]any:
		if status, ok := out["status"].(string); ok && status == FailedStatus {
			return fmt.Sprintf("Output status is %s", FailedStatus), true
		}
	}
	return "", false
}
