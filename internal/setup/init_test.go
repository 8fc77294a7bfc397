package setup

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/msageha/planguard/internal/failure"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/plan"
)

func TestRun_CreatesProject(t *testing.T) {
	projectDir := t.TempDir()

	l, err := Run(projectDir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if filepath.Base(l.Base) != DirName {
		t.Errorf("base = %s, want a %s directory", l.Base, DirName)
	}

	for _, d := range []string{"logs", "plans"} {
		info, err := os.Stat(filepath.Join(l.Base, d))
		if err != nil {
			t.Errorf("directory %s does not exist: %v", d, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}

func TestRun_ConfigPointsIntoProject(t *testing.T) {
	l, err := Run(t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg, err := model.LoadConfig(l.Config)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Revision.RulesFile != l.Rules {
		t.Errorf("rules_file = %q, want %q", cfg.Revision.RulesFile, l.Rules)
	}
	if cfg.Audit.Path != l.AuditLog {
		t.Errorf("audit.path = %q, want %q", cfg.Audit.Path, l.AuditLog)
	}
	if cfg.Daemon.SocketPath != l.Socket {
		t.Errorf("socket_path = %q, want %q", cfg.Daemon.SocketPath, l.Socket)
	}
	if !cfg.Revision.WatchRules {
		t.Error("watch_rules should be enabled in the template")
	}
	if cfg.Validation.LongTaskThresholdMs != model.DefaultLongTaskThresholdMs {
		t.Errorf("long_task_threshold_ms = %d, want default", cfg.Validation.LongTaskThresholdMs)
	}
}

func TestRun_RulesMatchBuiltIns(t *testing.T) {
	l, err := Run(t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rules, err := failure.NewLoader().LoadFile(l.Rules)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	want := failure.NewAnalyzer(nil).Rules().RuleIDs()
	if got := rules.RuleIDs(); !slices.Equal(got, want) {
		t.Errorf("rule IDs = %v, want %v", got, want)
	}
}

func TestRun_ExamplePlanIsValid(t *testing.T) {
	l, err := Run(t.TempDir())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	p, err := plan.LoadPlanFile(l.ExamplePlan)
	if err != nil {
		t.Fatalf("LoadPlanFile: %v", err)
	}
	res := plan.ValidateTaskPlan(p)
	if !res.Valid {
		t.Fatalf("example plan invalid: %v", res.Errors)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("example plan warnings: %v", res.Warnings)
	}
	if res.Stats.MaxDepth != 2 {
		t.Errorf("max depth = %d, want 2", res.Stats.MaxDepth)
	}
}

func TestRun_AlreadyExists(t *testing.T) {
	projectDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(projectDir, DirName), 0755); err != nil {
		t.Fatal(err)
	}

	_, err := Run(projectDir)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("Run error = %v, want already exists", err)
	}
}
