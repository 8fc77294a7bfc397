package plan

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/planguard/internal/model"
)

const samplePlan = `schema_version: 1
tasks:
  - id: fetch
    description: Download the source archive
    estimated_duration_ms: 1200
  - id: build
    description: Compile the downloaded sources
    dependencies: [fetch]
    priority: 2
`

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan([]byte(samplePlan))
	require.NoError(t, err)
	require.Len(t, p.Tasks, 2)

	assert.Equal(t, "fetch", p.Tasks[0].ID)
	require.NotNil(t, p.Tasks[0].EstimatedDurationMs)
	assert.Equal(t, int64(1200), *p.Tasks[0].EstimatedDurationMs)
	assert.Equal(t, []string{"fetch"}, p.Tasks[1].Dependencies)
	require.NotNil(t, p.Tasks[1].Priority)
	assert.Equal(t, 2, *p.Tasks[1].Priority)
}

func TestParsePlan_RejectsUnknownField(t *testing.T) {
	_, err := ParsePlan([]byte("schema_version: 1\ntasks:\n  - id: a\n    owner: bob\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner")
}

func TestParsePlan_EnvelopeErrors(t *testing.T) {
	data := `schema_version: 2
tasks:
  - description: missing id
  - id: neg
    estimated_duration_ms: -5
    dependencies: [""]
`
	_, err := ParsePlan([]byte(data))
	require.Error(t, err)

	var ve *ValidationErrors
	require.True(t, errors.As(err, &ve))
	paths := make([]string, 0, len(ve.Errors))
	for _, e := range ve.Errors {
		paths = append(paths, e.FieldPath)
	}
	assert.Equal(t, []string{
		"schema_version",
		"tasks[0].id",
		"tasks[1].estimated_duration_ms",
		"tasks[1].dependencies[0]",
	}, paths)
	assert.Contains(t, ve.FormatStderr(), "error: tasks[0].id: required field is missing\n")
}

func TestParseOutcomes(t *testing.T) {
	data := `schema_version: 1
outcomes:
  - task_id: fetch
    status: completed
    output: "archive.tar.gz"
    duration_ms: 40
  - task_id: build
    status: failed
    error: "connection timed out"
  - task_id: lint
    status: completed
    output:
      status: FAILED
`
	set, err := ParseOutcomes([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "lint"}, set.Completed)
	assert.Equal(t, []string{"build"}, set.Failed)
	assert.Equal(t, "connection timed out", set.Outcomes["build"].Error)
	assert.Equal(t, map[string]any{"status": "FAILED"}, set.Outcomes["lint"].Output)
}

func TestParseOutcomes_Errors(t *testing.T) {
	data := `schema_version: 1
outcomes:
  - task_id: a
    status: completed
  - task_id: a
    status: failed
  - task_id: b
    status: running
  - status: completed
`
	_, err := ParseOutcomes([]byte(data))
	var ve *ValidationErrors
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Errors, 3)
	assert.Contains(t, ve.Errors[0].Message, "duplicate outcome")
	assert.Equal(t, "outcomes[2].status", ve.Errors[1].FieldPath)
	assert.Equal(t, "outcomes[3].task_id", ve.Errors[2].FieldPath)
}

func TestNewOutcomeSet(t *testing.T) {
	set, err := NewOutcomeSet([]model.TaskOutcome{
		{TaskID: "fetch", Status: model.StatusCompleted},
		{TaskID: "build", Status: model.StatusFailed, Error: "exit 2"},
		{TaskID: "test", Status: model.StatusCompleted},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch", "test"}, set.Completed)
	assert.Equal(t, []string{"build"}, set.Failed)
	assert.Len(t, set.Outcomes, 3)

	_, err = NewOutcomeSet([]model.TaskOutcome{{TaskID: "x", Status: model.StatusFailed, DurationMs: -1}})
	var ve *ValidationErrors
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "outcomes[0].duration_ms", ve.Errors[0].FieldPath)
}

func TestWriteAndLoadPlanFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")

	in := model.TaskPlan{Tasks: []model.TaskNode{
		task("a"),
		task("b", "a"),
	}}
	require.NoError(t, WritePlanFile(path, in))

	out, err := LoadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	in.Tasks = append(in.Tasks, task("c", "b"))
	require.NoError(t, WritePlanFile(path, in))
	_, err = os.Stat(path + ".bak")
	assert.NoError(t, err, "previous version should be kept as .bak")
}

func TestLoadOutcomeFile_Missing(t *testing.T) {
	_, err := LoadOutcomeFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestReplacePlanFile_RollsBackRejectedPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	orig := model.TaskPlan{Tasks: []model.TaskNode{task("fetch"), task("build", "fetch")}}
	require.NoError(t, WritePlanFile(path, orig))

	revised := model.TaskPlan{Tasks: append(orig.Tasks, task("test", "build", "missing"))}
	rejected := errors.New("revised plan is invalid")
	err := ReplacePlanFile(path, revised, func(got model.TaskPlan) error {
		assert.Equal(t, revised, got, "verify sees the plan as loaded from disk")
		return rejected
	})
	require.ErrorIs(t, err, rejected)

	back, err := LoadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, back)
}

func TestReplacePlanFile_RemovesNewFileOnReject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "revised.yaml")

	err := ReplacePlanFile(path, model.TaskPlan{Tasks: []model.TaskNode{task("a")}}, func(model.TaskPlan) error {
		return errors.New("no")
	})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestReplacePlanFile_Accepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	p := model.TaskPlan{Tasks: []model.TaskNode{task("a"), task("b", "a")}}

	require.NoError(t, ReplacePlanFile(path, p, nil))
	got, err := LoadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestRestorePlanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	v1 := model.TaskPlan{Tasks: []model.TaskNode{task("a")}}
	require.NoError(t, WritePlanFile(path, v1))
	require.NoError(t, WritePlanFile(path, model.TaskPlan{Tasks: []model.TaskNode{task("a"), task("b", "a")}}))

	require.NoError(t, RestorePlanFile(path))
	got, err := LoadPlanFile(path)
	require.NoError(t, err)
	assert.Equal(t, v1, got)

	require.Error(t, RestorePlanFile(filepath.Join(t.TempDir(), "none.yaml")))
}
