package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/graph"
	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/plan"
	"github.com/msageha/planguard/internal/uds"
)

// Commands. load_plan, get_plan, revise and close_session act on the session
// named in the request envelope.
const (
	CmdPing         = "ping"
	CmdShutdown     = "shutdown"
	CmdValidate     = "validate"
	CmdLoadPlan     = "load_plan"
	CmdGetPlan      = "get_plan"
	CmdRevise       = "revise"
	CmdCloseSession = "close_session"
)

type PingResult struct {
	Status         string  `json:"status"`
	Sessions       int     `json:"sessions"`
	RequestTimeout float64 `json:"request_timeout_sec"`
}

type ValidateParams struct {
	Plan  model.TaskPlan `json:"plan"`
	Quick bool           `json:"quick,omitempty"`
}

// ValidateResult carries exactly one of Result and Quick.
type ValidateResult struct {
	Result *model.ValidationResult      `json:"result,omitempty"`
	Quick  *model.QuickValidationResult `json:"quick,omitempty"`
}

// LoadPlanParams starts a session from Plan. Invalid plans are refused unless
// Force is set; Replace discards an existing session with the same ID.
type LoadPlanParams struct {
	Plan    model.TaskPlan `json:"plan"`
	Replace bool           `json:"replace,omitempty"`
	Force   bool           `json:"force,omitempty"`
}

type LoadPlanResult struct {
	Session  string           `json:"session"`
	Tasks    int              `json:"tasks"`
	Stats    *model.PlanStats `json:"stats,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`
}

// ReviseParams reports task outcomes. Completed and failed IDs are taken from
// the outcome statuses.
type ReviseParams struct {
	Outcomes []model.TaskOutcome `json:"outcomes"`
	Apply    bool                `json:"apply,omitempty"`
}

type ReviseResult struct {
	Session  string               `yaml:"session" json:"session"`
	Revision model.RevisionReport `yaml:"revision" json:"revision"`
	Applied  []model.ActionRecord `yaml:"applied,omitempty" json:"applied,omitempty"`
	Pending  []model.ActionRecord `yaml:"pending,omitempty" json:"pending,omitempty"`
	Tasks    int                  `yaml:"tasks" json:"tasks"`
}

type CloseSessionResult struct {
	Session string `json:"session"`
	Passes  int    `json:"passes"`
}

func (d *Daemon) handlePing(ctx context.Context, req *uds.Request) (any, error) {
	d.mu.RLock()
	n := len(d.sessions)
	d.mu.RUnlock()
	return PingResult{Status: "ok", Sessions: n, RequestTimeout: d.RequestTimeout().Seconds()}, nil
}

func (d *Daemon) handleValidate(ctx context.Context, req *uds.Request) (any, error) {
	var params ValidateParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}

	start := time.Now()
	var out ValidateResult
	var valid bool
	var errs []string
	if params.Quick {
		q := d.validator.QuickValidate(params.Plan)
		out.Quick, valid = &q, q.Valid
		if q.FirstError != "" {
			errs = []string{q.FirstError}
		}
	} else {
		res := d.validator.Validate(params.Plan)
		for _, e := range res.Errors {
			metrics.ValidationErrorsTotal.WithLabelValues(plan.ErrorKind(e)).Inc()
		}
		out.Result, valid, errs = &res, res.Valid, res.Errors
	}
	metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	metrics.ValidationsTotal.WithLabelValues(resultLabel(valid)).Inc()
	d.publishValidated(req, params.Plan.Len(), valid, errs)

	d.log(model.LogLevelDebug, "validate tasks=%d quick=%t valid=%t", params.Plan.Len(), params.Quick, valid)
	return out, nil
}

func (d *Daemon) handleLoadPlan(ctx context.Context, req *uds.Request) (any, error) {
	id, err := req.RequireSession()
	if err != nil {
		return nil, err
	}
	var params LoadPlanParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}

	res := d.validator.Validate(params.Plan)
	metrics.ValidationsTotal.WithLabelValues(resultLabel(res.Valid)).Inc()
	d.publishValidated(req, params.Plan.Len(), res.Valid, res.Errors)
	if !res.Valid && !params.Force {
		d.log(model.LogLevelWarn, "load_plan session=%s rejected errors=%d", id, len(res.Errors))
		return nil, fmt.Errorf("%w: plan is invalid: %s", uds.ErrInvalidRequest, strings.Join(res.Errors, "; "))
	}

	g, err := graph.FromPlan(params.Plan)
	if err != nil {
		if errors.Is(err, graph.ErrDuplicateTask) {
			return nil, fmt.Errorf("%w: %v", uds.ErrInvalidRequest, err)
		}
		return nil, err
	}

	err = d.lockMap.WithContext(ctx, id, func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		if _, exists := d.sessions[id]; exists && !params.Replace {
			return fmt.Errorf("%w: %q", uds.ErrSessionExists, id)
		}
		d.sessions[id] = &session{graph: g, created: time.Now()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log(model.LogLevelInfo, "load_plan session=%s tasks=%d valid=%t", id, g.Len(), res.Valid)
	return LoadPlanResult{Session: id, Tasks: g.Len(), Stats: res.Stats, Warnings: res.Warnings}, nil
}

func (d *Daemon) handleGetPlan(ctx context.Context, req *uds.Request) (any, error) {
	id, err := req.RequireSession()
	if err != nil {
		return nil, err
	}
	s, err := d.lookup(id)
	if err != nil {
		return nil, err
	}

	var p model.TaskPlan
	err = d.lockMap.WithContext(ctx, id, func() error {
		p = s.graph.Plan()
		return nil
	})
	return p, err
}

func (d *Daemon) handleRevise(ctx context.Context, req *uds.Request) (any, error) {
	id, err := req.RequireSession()
	if err != nil {
		return nil, err
	}
	var params ReviseParams
	if err := req.DecodeParams(&params); err != nil {
		return nil, err
	}
	s, err := d.lookup(id)
	if err != nil {
		return nil, err
	}
	set, err := plan.NewOutcomeSet(params.Outcomes)
	if err != nil {
		var ve *plan.ValidationErrors
		if errors.As(err, &ve) {
			return nil, fmt.Errorf("%w: %s", uds.ErrInvalidRequest, strings.TrimSpace(ve.FormatStderr()))
		}
		return nil, fmt.Errorf("%w: %v", uds.ErrInvalidRequest, err)
	}

	out := ReviseResult{Session: id}
	err = d.lockMap.WithContext(ctx, id, func() error {
		s.passes++
		if !params.Apply {
			res := d.coordinator.Revise(id, s.graph, set.Completed, set.Failed, set.Outcomes)
			out.Revision = res.Report()
			out.Tasks = s.graph.Len()
			return nil
		}

		res, report, err := d.coordinator.ReviseAndApply(id, s.graph, set.Completed, set.Failed, set.Outcomes)
		out.Revision = res.Report()
		out.Tasks = s.graph.Len()
		if err != nil {
			return fmt.Errorf("apply revision: %w", err)
		}
		for _, a := range report.Applied {
			out.Applied = append(out.Applied, model.ToRecord(a))
		}
		for _, u := range report.Pending {
			out.Pending = append(out.Pending, model.ToRecord(u))
		}
		return nil
	})
	if err != nil {
		d.log(model.LogLevelWarn, "revise session=%s error=%v", id, err)
		return nil, err
	}

	d.log(model.LogLevelInfo, "revise session=%s feasible=%t actions=%d applied=%d",
		id, out.Revision.Feasible, len(out.Revision.Actions), len(out.Applied))
	return out, nil
}

func (d *Daemon) handleCloseSession(ctx context.Context, req *uds.Request) (any, error) {
	id, err := req.RequireSession()
	if err != nil {
		return nil, err
	}

	var s *session
	err = d.lockMap.WithContext(ctx, id, func() error {
		d.mu.Lock()
		defer d.mu.Unlock()
		s = d.sessions[id]
		if s == nil {
			return fmt.Errorf("%w: %q", uds.ErrSessionNotFound, id)
		}
		delete(d.sessions, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	d.log(model.LogLevelInfo, "close_session session=%s passes=%d age=%s",
		id, s.passes, time.Since(s.created).Round(time.Millisecond))
	return CloseSessionResult{Session: id, Passes: s.passes}, nil
}

// publishValidated reports a validation on the event bus. Validations made
// while loading a session carry its ID.
func (d *Daemon) publishValidated(req *uds.Request, tasks int, valid bool, errs []string) {
	if d.bus == nil {
		return
	}
	source := "daemon:" + req.Command
	data := events.PlanValidatedData(source, tasks, valid, errs)
	if req.Session != "" {
		data["session"] = req.Session
	}
	d.bus.Publish(events.EventPlanValidated, data)
}

func resultLabel(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}
