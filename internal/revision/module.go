// Package revision plans repairs for a running plan from task outcomes and
// certifies them against the live execution graph.
package revision

import (
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/failure"
	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
)

const msgNoRevisions = "No revisions needed"

// RevisionExecutor is the execution engine's live graph. Revise only reads
// it; Apply writes through it.
type RevisionExecutor interface {
	AddDependency(taskID, depID string) error
	RemoveDependency(taskID, depID string) bool
	GetTask(taskID string) (model.TaskNode, bool)
	DetectCycle() model.CycleResult
}

// Module runs self-revision passes against one executor.
type Module struct {
	executor RevisionExecutor
	analyzer *failure.Analyzer
	planner  *Planner
	bus      *events.Bus
	session  string

	logger   *log.Logger
	logLevel model.LogLevel
}

type Option func(*Module)

func WithLogger(l *log.Logger) Option {
	return func(m *Module) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithLogLevel(level model.LogLevel) Option {
	return func(m *Module) {
		m.logLevel = level
	}
}

// WithAnalyzer replaces the default failure rules, e.g. with an analyzer kept
// current by a failure.Watcher.
func WithAnalyzer(a *failure.Analyzer) Option {
	return func(m *Module) {
		if a != nil {
			m.analyzer = a
		}
	}
}

func WithEventBus(b *events.Bus) Option {
	return func(m *Module) {
		m.bus = b
	}
}

// WithSession tags log lines and events with an execution session ID.
func WithSession(id string) Option {
	return func(m *Module) {
		m.session = id
	}
}

func NewModule(executor RevisionExecutor, opts ...Option) *Module {
	m := &Module{
		executor: executor,
		analyzer: failure.NewAnalyzer(nil),
		planner:  NewPlanner(),
		logger:   log.New(io.Discard, "", 0),
		logLevel: model.LogLevelInfo,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Revise runs one pass: collect failures, classify, plan actions, then check
// the live graph. It never mutates the executor. Actions are only usable when
// the result is feasible.
func (m *Module) Revise(completedIDs, failedIDs []string, outcomes map[string]model.TaskOutcome) model.RevisionResult {
	failedIDs = dedupe(failedIDs)
	completedIDs = dedupe(completedIDs)

	violations := m.collectViolations(completedIDs, outcomes)
	if len(failedIDs) == 0 && len(violations) == 0 {
		metrics.RevisionsTotal.WithLabelValues("noop").Inc()
		m.log(model.LogLevelDebug, "no failures or violations completed=%d", len(completedIDs))
		return model.RevisionResult{Actions: []model.RevisionAction{}, Reason: msgNoRevisions, Feasible: true}
	}

	var actions []model.RevisionAction
	for _, id := range failedIDs {
		an := m.classify(id, outcomes)
		planned := m.planner.Plan(an, m.executor)
		m.log(model.LogLevelInfo, "task=%s category=%s rule=%s actions=%d", id, an.Category, an.RuleID, len(planned))
		actions = append(actions, planned...)
	}
	for _, v := range violations {
		m.log(model.LogLevelInfo, "task=%s category=%s violation=%q", v.TaskID, v.Category, v.Message)
		actions = append(actions, m.planner.Plan(v, m.executor)...)
	}

	for _, a := range actions {
		metrics.RevisionActionsTotal.WithLabelValues(string(a.Kind())).Inc()
	}

	if live := m.executor.DetectCycle(); live.HasCycle {
		reason := fmt.Sprintf(
			"Live execution graph already contains a cycle (%s); revisions cannot be certified",
			cycleText(live.CyclePath))
		metrics.RevisionsTotal.WithLabelValues("rejected").Inc()
		m.log(model.LogLevelWarn, "revision rejected actions=%d cycle=%v", len(actions), live.CyclePath)
		res := model.RevisionResult{Actions: actions, Reason: reason, Feasible: false}
		m.publish(events.EventRevisionRejected, res, map[string]any{"cycle_path": live.CyclePath})
		return res
	}

	reason := fmt.Sprintf("Proposed %d action(s) for %d failed task(s) and %d constraint violation(s)",
		len(actions), len(failedIDs), len(violations))
	metrics.RevisionsTotal.WithLabelValues("proposed").Inc()
	m.log(model.LogLevelInfo, "revision proposed actions=%d", len(actions))
	res := model.RevisionResult{Actions: actions, Reason: reason, Feasible: true}
	m.publish(events.EventRevisionProposed, res, nil)
	return res
}

func (m *Module) classify(id string, outcomes map[string]model.TaskOutcome) failure.Analysis {
	o, ok := outcomes[id]
	if !ok {
		m.log(model.LogLevelWarn, "task=%s failed without a recorded outcome", id)
		return failure.Missing(id)
	}
	an := m.analyzer.Analyze(o)
	an.TaskID = id
	return an
}

func (m *Module) collectViolations(completedIDs []string, outcomes map[string]model.TaskOutcome) []failure.Analysis {
	var out []failure.Analysis
	for _, id := range completedIDs {
		o, ok := outcomes[id]
		if !ok {
			continue
		}
		if msg, hit := m.analyzer.CheckConstraintViolations(o); hit {
			out = append(out, failure.Analysis{
				TaskID:   id,
				Category: failure.CategoryConstraintViolation,
				Message:  msg,
			})
		}
	}
	return out
}

func (m *Module) publish(t events.EventType, res model.RevisionResult, extra map[string]any) {
	if m.bus == nil {
		return
	}
	data := map[string]any{
		"session":  m.session,
		"feasible": res.Feasible,
		"reason":   res.Reason,
		"actions":  res.Report().Actions,
	}
	for k, v := range extra {
		data[k] = v
	}
	m.bus.Publish(t, data)
}

func (m *Module) log(level model.LogLevel, format string, args ...any) {
	if level < m.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if m.session != "" {
		msg = "session=" + m.session + " " + msg
	}
	m.logger.Printf("%s %s self_revision: %s", time.Now().Format(time.RFC3339), level, msg)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func cycleText(path []string) string {
	if len(path) == 0 {
		return "path unknown"
	}
	closed := append(append([]string(nil), path...), path[0])
	return strings.Join(closed, " -> ")
}
