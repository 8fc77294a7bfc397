package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/msageha/planguard/internal/graph"
	"github.com/msageha/planguard/internal/lock"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/plan"
	"github.com/msageha/planguard/internal/revision"
)

const lockPollInterval = 100 * time.Millisecond

type reviseOptions struct {
	planPath     string
	outcomesPath string
	rulesPath    string
	outPath      string
	auditPath    string
	session      string
	format       string
	apply        bool
	watch        bool
	lockTimeout  time.Duration
}

// revisionOutput is what revise prints for one pass.
type revisionOutput struct {
	Session  string               `yaml:"session" json:"session"`
	Revision model.RevisionReport `yaml:"revision" json:"revision"`
	Applied  *applySummary        `yaml:"applied,omitempty" json:"applied,omitempty"`
}

type applySummary struct {
	Actions []model.ActionRecord `yaml:"actions" json:"actions"`
	Pending []model.ActionRecord `yaml:"pending,omitempty" json:"pending,omitempty"`
	Written string               `yaml:"written,omitempty" json:"written,omitempty"`
}

func newReviseCmd(a *app) *cobra.Command {
	opts := &reviseOptions{}
	cmd := &cobra.Command{
		Use:   "revise --plan PLAN --outcomes OUTCOMES",
		Short: "Propose (and optionally apply) plan revisions from task outcomes",
		Long: `Build the live dependency graph from PLAN, classify the failures and
suspicious successes recorded in OUTCOMES, and print the proposed revision.

With --apply a feasible revision is applied to the graph and the revised plan
is written atomically to --out (default: PLAN) while holding its .lock file.
With --watch the pass is repeated whenever OUTCOMES changes.

Exits 2 when the revision is not feasible.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.format, formatYAML, formatJSON); err != nil {
				return err
			}
			return a.runRevise(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.planPath, "plan", "", "plan file (YAML)")
	f.StringVar(&opts.outcomesPath, "outcomes", "", "outcome file (YAML)")
	f.StringVar(&opts.rulesPath, "rules", "", "failure rule file (default: revision.rules_file from config)")
	f.StringVar(&opts.outPath, "out", "", "where --apply writes the revised plan (default: --plan)")
	f.StringVar(&opts.auditPath, "audit", "", "append revision events to this JSONL file (default: audit.path from config)")
	f.StringVar(&opts.session, "session", "", "execution session ID (default: random)")
	f.StringVar(&opts.format, "format", formatYAML, "output format: yaml, json")
	f.BoolVar(&opts.apply, "apply", false, "apply a feasible revision and write the revised plan")
	f.BoolVar(&opts.watch, "watch", false, "re-run whenever the outcome file changes")
	f.DurationVar(&opts.lockTimeout, "lock-timeout", 10*time.Second, "how long --apply waits for the plan lock")
	_ = cmd.MarkFlagRequired("plan")
	_ = cmd.MarkFlagRequired("outcomes")
	return cmd
}

// reviser holds the collaborators of one revise invocation. graph mirrors
// the plan file at source: --plan at first, --out after a successful apply.
type reviser struct {
	app         *app
	opts        *reviseOptions
	stack       *revisionStack
	graph       *graph.DependencyGraph
	source      string
	coordinator *revision.Coordinator
}

func (a *app) runRevise(ctx context.Context, opts *reviseOptions) error {
	r, err := a.newReviser(opts)
	if err != nil {
		return err
	}
	defer r.stack.close()

	if !opts.watch {
		return r.pass()
	}
	return r.watch(ctx)
}

// newReviser fills in defaults for opts and loads the plan. The caller closes
// r.stack.
func (a *app) newReviser(opts *reviseOptions) (*reviser, error) {
	if opts.session == "" {
		opts.session = uuid.NewString()
	}
	if opts.outPath == "" {
		opts.outPath = opts.planPath
	}
	if opts.rulesPath == "" {
		opts.rulesPath = a.cfg.Revision.RulesFile
	}
	if opts.auditPath == "" {
		opts.auditPath = a.cfg.Audit.Path
	}

	g, err := loadGraph(opts.planPath)
	if err != nil {
		return nil, err
	}
	stack, err := a.newRevisionStack(opts.rulesPath, opts.auditPath)
	if err != nil {
		return nil, err
	}
	return &reviser{
		app:         a,
		opts:        opts,
		stack:       stack,
		graph:       g,
		source:      opts.planPath,
		coordinator: revision.NewCoordinator(stack.options(a)...),
	}, nil
}

func loadGraph(path string) (*graph.DependencyGraph, error) {
	p, err := plan.LoadPlanFile(path)
	if err != nil {
		return nil, err
	}
	g, err := graph.FromPlan(p)
	if err != nil {
		return nil, fmt.Errorf("build graph from %s: %w", path, err)
	}
	return g, nil
}

// pass runs one revision against the current outcome file.
func (r *reviser) pass() error {
	set, err := plan.LoadOutcomeFile(r.opts.outcomesPath)
	if err != nil {
		return err
	}

	out := revisionOutput{Session: r.opts.session}
	var res model.RevisionResult
	if r.opts.apply {
		var report revision.ApplyReport
		res, report, err = r.apply(set)
		if err != nil {
			return err
		}
		if res.Feasible && len(res.Actions) > 0 {
			out.Applied = &applySummary{
				Actions: records(report.Applied),
				Pending: specRecords(report.Pending),
				Written: r.opts.outPath,
			}
		}
	} else {
		res = r.coordinator.Revise(r.opts.session, r.graph, set.Completed, set.Failed, set.Outcomes)
	}
	out.Revision = res.Report()

	if err := writeStructured(r.app.stdout, r.opts.format, out); err != nil {
		return err
	}
	if !res.Feasible {
		return fmt.Errorf("%w: %s", errInfeasible, res.Reason)
	}
	return nil
}

// apply revises and applies under the plan file lock, then persists the
// revised plan. A revised plan that does not validate, before or after it is
// written, is never kept: the file is rolled back and the graph reloaded.
func (r *reviser) apply(set plan.OutcomeSet) (model.RevisionResult, revision.ApplyReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.lockTimeout)
	defer cancel()

	fl := lock.ForFile(r.opts.outPath)
	if err := fl.Lock(ctx, lockPollInterval); err != nil {
		return model.RevisionResult{}, revision.ApplyReport{}, err
	}
	defer func() { _ = fl.Unlock() }()

	res, report, err := r.coordinator.ReviseAndApply(r.opts.session, r.graph, set.Completed, set.Failed, set.Outcomes)
	if err != nil || !res.Feasible || len(res.Actions) == 0 {
		return res, report, err
	}

	validator := plan.NewValidatorFromConfig(r.app.cfg.Validation)
	checkRevised := func(p model.TaskPlan) error {
		if check := validator.Validate(p); !check.Valid {
			return fmt.Errorf("revised plan is invalid: %s", strings.Join(check.Errors, "; "))
		}
		return nil
	}

	revised := r.graph.Plan()
	if err := checkRevised(revised); err != nil {
		return res, report, r.resync(err)
	}
	err = plan.ReplacePlanFile(r.opts.outPath, revised, func(written model.TaskPlan) error {
		if written.Len() != revised.Len() {
			return fmt.Errorf("wrote %d tasks but read back %d", revised.Len(), written.Len())
		}
		return checkRevised(written)
	})
	if err != nil {
		return res, report, r.resync(err)
	}

	r.source = r.opts.outPath
	r.app.log(model.LogLevelInfo, "revised plan written path=%s tasks=%d", r.opts.outPath, revised.Len())
	return res, report, nil
}

// resync drops graph edits that never reached disk by rebuilding the graph
// from source. It returns cause.
func (r *reviser) resync(cause error) error {
	g, err := loadGraph(r.source)
	if err != nil {
		return fmt.Errorf("%w (reload graph: %v)", cause, err)
	}
	r.graph = g
	r.app.log(model.LogLevelWarn, "revision discarded, graph reloaded path=%s tasks=%d", r.source, g.Len())
	return cause
}

// watch repeats pass on every outcome file change. The rule file, when set
// and revision.watch_rules is enabled, is hot-reloaded alongside.
func (r *reviser) watch(ctx context.Context) error {
	r.passLogged()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.stack.rules != nil && r.app.cfg.Revision.WatchRules {
		if err := r.stack.rules.Start(ctx); err != nil {
			return err
		}
		defer func() {
			cancel()
			r.stack.rules.Wait()
		}()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target := filepath.Clean(r.opts.outcomesPath)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	r.app.log(model.LogLevelInfo, "watching outcomes path=%s session=%s", target, r.opts.session)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			r.passLogged()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.app.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}

// passLogged runs a pass for watch mode, where an infeasible result or a
// half-written outcome file is logged and retried on the next change.
func (r *reviser) passLogged() {
	if err := r.pass(); err != nil {
		r.app.log(model.LogLevelWarn, "revision pass failed error=%v", err)
	}
}

func records(actions []model.RevisionAction) []model.ActionRecord {
	out := make([]model.ActionRecord, 0, len(actions))
	for _, a := range actions {
		out = append(out, model.ToRecord(a))
	}
	return out
}

func specRecords(specs []model.UpdateSpec) []model.ActionRecord {
	out := make([]model.ActionRecord, 0, len(specs))
	for _, s := range specs {
		out = append(out, model.ToRecord(s))
	}
	return out
}
