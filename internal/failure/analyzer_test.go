package failure

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/msageha/planguard/internal/model"
)

func failed(id, errText string) model.TaskOutcome {
	return model.TaskOutcome{TaskID: id, Status: model.StatusFailed, Error: errText}
}

func completed(id string, output any) model.TaskOutcome {
	return model.TaskOutcome{TaskID: id, Status: model.StatusCompleted, Output: output}
}

func TestAnalyzeFailure(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Category
	}{
		{"file not found", "File not found: config.json", CategoryMissingResource},
		{"no such file", "open /etc/app.yaml: no such file or directory", CategoryMissingResource},
		{"does not exist", "table users does not exist", CategoryMissingResource},
		{"enoent", "ENOENT while reading input", CategoryMissingResource},
		{"permission denied", "Permission denied", CategoryAccessDenied},
		{"forbidden", "HTTP 403 Forbidden", CategoryAccessDenied},
		{"unauthorized", "request unauthorized", CategoryAccessDenied},
		{"first match wins", "permission denied: key not found", CategoryMissingResource},
		{"generic", "connection timed out", CategoryGenericFailure},
		{"empty", "", CategoryGenericFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AnalyzeFailure(failed("t", tt.text)))
		})
	}
}

func TestAnalyze_ExtractsResource(t *testing.T) {
	a := NewAnalyzer(nil)

	an := a.Analyze(failed("load", "File not found: config.json"))
	assert.Equal(t, CategoryMissingResource, an.Category)
	assert.Equal(t, "missing-resource", an.RuleID)
	assert.Equal(t, "config.json", an.Resource)
	assert.Equal(t, "load", an.TaskID)
	assert.Equal(t, "File not found: config.json", an.Message)

	an = a.Analyze(failed("load", "dataset not found"))
	assert.Equal(t, CategoryMissingResource, an.Category)
	assert.Empty(t, an.Resource)
}

func TestAnalyze_FallsBackToStringOutput(t *testing.T) {
	o := model.TaskOutcome{TaskID: "x", Status: model.StatusFailed, Output: "access denied for user bob"}
	assert.Equal(t, CategoryAccessDenied, AnalyzeFailure(o))
}

func TestMissing(t *testing.T) {
	an := Missing("ghost")
	assert.Equal(t, CategoryGenericFailure, an.Category)
	assert.Equal(t, "no outcome recorded", an.Message)
}

func TestCheckConstraintViolations(t *testing.T) {
	tests := []struct {
		name    string
		outcome model.TaskOutcome
		want    bool
	}{
		{"error marker", completed("a", "Result: ERROR - something went wrong"), true},
		{"failed marker", completed("a", "tests FAILED"), true},
		{"clean string", completed("a", "all good"), false},
		{"lowercase is not a marker", completed("a", "no errors found"), false},
		{"structured failed", completed("a", map[string]any{"status": "FAILED"}), true},
		{"structured ok", completed("a", map[string]any{"status": "OK"}), false},
		{"structured text not scanned", completed("a", map[string]any{"log": "ERROR everywhere"}), false},
		{"nil output", completed("a", nil), false},
		{"failed outcome ignored", model.TaskOutcome{TaskID: "a", Status: model.StatusFailed, Output: "ERROR"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := CheckConstraintViolations(tt.outcome)
			assert.Equal(t, tt.want, ok)
			if ok {
				assert.NotEmpty(t, msg)
			} else {
				assert.Empty(t, msg)
			}
		})
	}
}

func TestCheckConstraintViolations_MessageCarriesOutput(t *testing.T) {
	msg, ok := CheckConstraintViolations(completed("a", "Result: ERROR - something went wrong"))
	assert.True(t, ok)
	assert.Contains(t, msg, "Result: ERROR - something went wrong")
}

func TestAnalyzer_SetRules(t *testing.T) {
	rules, err := Compile(RuleSet{
		SchemaVersion: RuleSchemaVersion,
		Rules: []Rule{
			{ID: "quota", Category: CategoryAccessDenied, Patterns: []string{`(?i)quota exceeded`}},
		},
		Markers: []string{"PANIC"},
	})
	assert.NoError(t, err)

	a := NewAnalyzer(nil)
	a.SetRules(rules)
	assert.Equal(t, []string{"quota"}, a.Rules().RuleIDs())
	assert.Equal(t, CategoryAccessDenied, a.Analyze(failed("t", "Quota exceeded for project")).Category)
	assert.Equal(t, CategoryGenericFailure, a.Analyze(failed("t", "File not found: x")).Category)

	_, ok := a.CheckConstraintViolations(completed("t", "ERROR"))
	assert.False(t, ok)
	_, ok = a.CheckConstraintViolations(completed("t", "PANIC in worker"))
	assert.True(t, ok)

	a.SetRules(nil)
	assert.Equal(t, []string{"missing-resource", "access-denied"}, a.Rules().RuleIDs())
}
