package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParseConfig_Overrides(t *testing.T) {
	data := []byte(`
logging:
  level: debug
validation:
  long_task_threshold_ms: 60000
  min_description_length: 4
revision:
  rules_file: rules/failure.yaml
  watch_rules: true
audit:
  path: logs/audit.jsonl
daemon:
  socket_path: /run/planguard.sock
`)
	cfg, err := ParseConfig(data)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, int64(60000), cfg.Validation.LongTaskThresholdMs)
	assert.Equal(t, 4, cfg.Validation.MinDescriptionLength)
	assert.Equal(t, "rules/failure.yaml", cfg.Revision.RulesFile)
	assert.True(t, cfg.Revision.WatchRules)
	assert.Equal(t, "logs/audit.jsonl", cfg.Audit.Path)
	assert.Equal(t, DefaultAuditMaxSizeBytes, cfg.Audit.MaxSizeBytes)
	assert.Equal(t, "/run/planguard.sock", cfg.Daemon.SocketPath)
	assert.Equal(t, DefaultRequestTimeoutSec, cfg.Daemon.RequestTimeoutSec)
}

func TestParseConfig_RejectsUnknownField(t *testing.T) {
	_, err := ParseConfig([]byte("logging:\n  verbosity: 3\n"))
	assert.Error(t, err)
}

func TestParseConfig_RejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad level", "logging:\n  level: chatty\n"},
		{"zero threshold", "validation:\n  long_task_threshold_ms: 0\n"},
		{"negative description length", "validation:\n  min_description_length: -1\n"},
		{"negative request timeout", "daemon:\n  request_timeout_sec: -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLogLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("nonsense"))
	assert.Equal(t, "WARN", LogLevelWarn.String())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("failed")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st)

	_, err = ParseStatus("running")
	assert.Error(t, err)
}

func TestToRecord(t *testing.T) {
	node := TaskNode{ID: "build-fetch-resource", Description: "fetch config.json", Dependencies: []string{"setup"}}
	rec := ToRecord(AddNode{TaskID: "build", Node: node})
	assert.Equal(t, ActionAddNode, rec.Type)
	assert.Equal(t, "build", rec.TaskID)
	require.NotNil(t, rec.Node)
	assert.Equal(t, node, *rec.Node)

	rec.Node.Dependencies[0] = "changed"
	assert.Equal(t, "setup", node.Dependencies[0], "record must not share the node's slices")

	assert.Equal(t, ActionRecord{Type: ActionAddDependency, TaskID: "build", DependsOn: "build-fetch-resource"},
		ToRecord(AddDependency{TaskID: "build", DependsOn: "build-fetch-resource"}))
	assert.Equal(t, ActionRecord{Type: ActionRemoveDependency, TaskID: "deploy", DependsOn: "lint"},
		ToRecord(RemoveDependency{TaskID: "deploy", DependsOn: "lint"}))
	assert.Equal(t, ActionRecord{Type: ActionUpdateSpec, TaskID: "deploy", Instruction: "run with deploy credentials"},
		ToRecord(UpdateSpec{TaskID: "deploy", Instruction: "run with deploy credentials"}))
}

func TestIsStructural(t *testing.T) {
	assert.True(t, IsStructural(AddNode{}))
	assert.True(t, IsStructural(AddDependency{}))
	assert.True(t, IsStructural(RemoveDependency{}))
	assert.False(t, IsStructural(UpdateSpec{}))
}

func TestTaskNodeCloneIsDeep(t *testing.T) {
	p := 2
	n := TaskNode{ID: "a", Dependencies: []string{"b"}, Priority: &p}
	c := n.Clone()
	c.Dependencies[0] = "z"
	*c.Priority = 9
	assert.Equal(t, "b", n.Dependencies[0])
	assert.Equal(t, 2, *n.Priority)
}
