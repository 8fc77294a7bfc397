package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/plan"
)

type validateOptions struct {
	quick     bool
	watch     bool
	format    string
	auditPath string

	bus *events.Bus
}

// planReport is the outcome of validating one plan file. LoadError is set when
// the file could not be read or decoded; no validation ran in that case.
type planReport struct {
	Path      string                       `yaml:"path" json:"path"`
	LoadError string                       `yaml:"load_error,omitempty" json:"load_error,omitempty"`
	Result    *model.ValidationResult      `yaml:"result,omitempty" json:"result,omitempty"`
	Quick     *model.QuickValidationResult `yaml:"quick,omitempty" json:"quick,omitempty"`
}

func (r planReport) valid() bool {
	switch {
	case r.LoadError != "":
		return false
	case r.Quick != nil:
		return r.Quick.Valid
	default:
		return r.Result != nil && r.Result.Valid
	}
}

func newValidateCmd(a *app) *cobra.Command {
	opts := &validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate PLAN...",
		Short: "Check that plans are executable dependency DAGs",
		Long: `Validate each plan file concurrently. A plan is invalid when it has duplicate
task IDs, dependencies on tasks that do not exist, or a dependency cycle.
Valid plans also get parallelism statistics and heuristic warnings.

Exits 1 when any plan is invalid.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(opts.format, formatText, formatYAML, formatJSON); err != nil {
				return err
			}
			if opts.auditPath == "" {
				opts.auditPath = a.cfg.Audit.Path
			}
			bus, audit, err := a.newEventSink(opts.auditPath)
			if err != nil {
				return err
			}
			defer closeSink(bus, audit)
			opts.bus = bus

			if opts.watch {
				return a.watchPlans(cmd.Context(), args, opts)
			}
			reports, err := a.validatePlans(cmd.Context(), args, opts)
			if err != nil {
				return err
			}
			if err := a.printReports(reports, opts.format); err != nil {
				return err
			}
			for _, r := range reports {
				if !r.valid() {
					return errInvalidPlan
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.quick, "quick", false, "only check for duplicate IDs and dangling dependencies")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-validate plans whenever they change")
	cmd.Flags().StringVar(&opts.format, "format", formatText, "output format: text, yaml, json")
	cmd.Flags().StringVar(&opts.auditPath, "audit", "", "append plan_validated events to this JSONL file (default: audit.path from config)")
	return cmd
}

// validatePlans loads and validates every path concurrently. Reports keep the
// order of paths.
func (a *app) validatePlans(ctx context.Context, paths []string, opts *validateOptions) ([]planReport, error) {
	validator := plan.NewValidatorFromConfig(a.cfg.Validation)
	reports := make([]planReport, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			reports[i] = a.validateOne(validator, path, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (a *app) validateOne(v *plan.Validator, path string, opts *validateOptions) planReport {
	report := planReport{Path: path}

	p, err := plan.LoadPlanFile(path)
	if err != nil {
		var ve *plan.ValidationErrors
		if errors.As(err, &ve) {
			fmt.Fprint(a.stderr, ve.FormatStderr())
		}
		a.log(model.LogLevelWarn, "load failed path=%s error=%v", path, err)
		metrics.ValidationsTotal.WithLabelValues("load_error").Inc()
		report.LoadError = err.Error()
		return report
	}

	start := time.Now()
	var errs []string
	if opts.quick {
		q := v.QuickValidate(p)
		report.Quick = &q
		if q.FirstError != "" {
			errs = []string{q.FirstError}
		}
	} else {
		res := v.Validate(p)
		errs = res.Errors
		report.Result = &res
		for _, e := range res.Errors {
			metrics.ValidationErrorsTotal.WithLabelValues(plan.ErrorKind(e)).Inc()
		}
	}
	metrics.ValidationDuration.Observe(time.Since(start).Seconds())

	result := "valid"
	if !report.valid() {
		result = "invalid"
	}
	metrics.ValidationsTotal.WithLabelValues(result).Inc()
	if opts.bus != nil {
		opts.bus.Publish(events.EventPlanValidated, events.PlanValidatedData(path, p.Len(), report.valid(), errs))
	}
	a.log(model.LogLevelDebug, "validated path=%s tasks=%d result=%s", path, p.Len(), result)
	return report
}

func (a *app) printReports(reports []planReport, format string) error {
	if format != formatText {
		return writeStructured(a.stdout, format, reports)
	}
	for _, r := range reports {
		a.printText(r)
	}
	return nil
}

func (a *app) printText(r planReport) {
	w := a.stdout
	switch {
	case r.LoadError != "":
		fmt.Fprintf(w, "%s: unreadable\n  error: %s\n", r.Path, r.LoadError)
	case r.Quick != nil:
		if r.Quick.Valid {
			fmt.Fprintf(w, "%s: ok (quick)\n", r.Path)
		} else {
			fmt.Fprintf(w, "%s: invalid\n  error: %s\n", r.Path, r.Quick.FirstError)
		}
	case r.Result.Valid:
		s := r.Result.Stats
		fmt.Fprintf(w, "%s: valid (%d tasks, %d parallelizable, max depth %d)\n",
			r.Path, s.TotalTasks, s.ParallelizableTasks, s.MaxDepth)
		for _, warn := range r.Result.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	default:
		fmt.Fprintf(w, "%s: invalid\n", r.Path)
		for _, e := range r.Result.Errors {
			fmt.Fprintf(w, "  error: %s\n", e)
		}
	}
}

// watchPlans validates every plan once and then again after each write until
// ctx is done.
func (a *app) watchPlans(ctx context.Context, paths []string, opts *validateOptions) error {
	reports, err := a.validatePlans(ctx, paths, opts)
	if err != nil {
		return err
	}
	if err := a.printReports(reports, opts.format); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		watched[filepath.Clean(p)] = true
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		dirs[dir] = true
	}
	a.log(model.LogLevelInfo, "watching plans=%d", len(paths))

	validator := plan.NewValidatorFromConfig(a.cfg.Validation)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if !watched[name] || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			a.log(model.LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
			if err := a.printReports([]planReport{a.validateOne(validator, name, opts)}, opts.format); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.log(model.LogLevelError, "fsnotify error=%v", err)
		}
	}
}
