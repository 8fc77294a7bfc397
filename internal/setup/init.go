// Package setup creates a planguard project directory.
package setup

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/msageha/planguard/internal/failure"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/uds"
	yamlutil "github.com/msageha/planguard/internal/yaml"
	"github.com/msageha/planguard/templates"
)

// DirName is the project directory created by Run.
const DirName = ".planguard"

// Layout names the files Run creates, all absolute.
type Layout struct {
	Base        string
	Config      string
	Rules       string
	AuditLog    string
	Socket      string
	ExamplePlan string
}

func layoutFor(base string) Layout {
	return Layout{
		Base:        base,
		Config:      filepath.Join(base, "config.yaml"),
		Rules:       filepath.Join(base, "rules.yaml"),
		AuditLog:    filepath.Join(base, "logs", "revisions.jsonl"),
		Socket:      filepath.Join(base, uds.DefaultSocketName),
		ExamplePlan: filepath.Join(base, "plans", "example.yaml"),
	}
}

// Run initializes .planguard/ in projectDir: a config whose paths point into
// the new directory, the built-in failure rules as an editable file and an
// example plan. It refuses to touch an existing .planguard/.
func Run(projectDir string) (Layout, error) {
	absDir, err := filepath.Abs(projectDir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolve project dir: %w", err)
	}

	base := filepath.Join(absDir, DirName)
	if _, err := os.Stat(base); err == nil {
		return Layout{}, fmt.Errorf("%s already exists", base)
	}
	l := layoutFor(base)

	for _, d := range []string{"logs", "plans"} {
		if err := os.MkdirAll(filepath.Join(base, d), 0755); err != nil {
			return Layout{}, fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	cfg, err := generateConfig(l)
	if err != nil {
		return Layout{}, fmt.Errorf("generate config: %w", err)
	}
	if err := yamlutil.WriteFile(l.Config, cfg, checkConfig); err != nil {
		return Layout{}, fmt.Errorf("write config.yaml: %w", err)
	}

	if err := yamlutil.WriteFile(l.Rules, failure.DefaultRuleSet(), checkRules); err != nil {
		return Layout{}, fmt.Errorf("write rules.yaml: %w", err)
	}

	if err := copyTemplateFile("example_plan.yaml", l.ExamplePlan); err != nil {
		return Layout{}, err
	}
	return l, nil
}

// checkConfig and checkRules make sure the generated files load with the same
// parsers planguard uses at startup.
func checkConfig(content []byte) error {
	_, err := model.ParseConfig(content)
	return err
}

func checkRules(content []byte) error {
	_, err := failure.NewLoader().Parse(content)
	return err
}

func copyTemplateFile(name, dst string) error {
	data, err := fs.ReadFile(templates.FS, name)
	if err != nil {
		return fmt.Errorf("read template %s: %w", name, err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return nil
}

// generateConfig reads the config template and fills in the paths of l.
func generateConfig(l Layout) (model.Config, error) {
	data, err := fs.ReadFile(templates.FS, "config.yaml")
	if err != nil {
		return model.Config{}, fmt.Errorf("read config template: %w", err)
	}
	cfg, err := model.ParseConfig(data)
	if err != nil {
		return model.Config{}, fmt.Errorf("config template: %w", err)
	}

	cfg.Revision.RulesFile = l.Rules
	cfg.Audit.Path = l.AuditLog
	cfg.Daemon.SocketPath = l.Socket
	return cfg, nil
}
