package revision

import (
	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/lock"
	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
)

// Coordinator serializes revise-then-apply per execution session, so no other
// writer going through the same Coordinator can change the live graph between
// the feasibility check and the apply step.
type Coordinator struct {
	locks *lock.MutexMap
	opts  []Option
}

// NewCoordinator takes the Module options used for every pass.
func NewCoordinator(opts ...Option) *Coordinator {
	return &Coordinator{
		locks: lock.NewMutexMap(),
		opts:  opts,
	}
}

// Revise runs a pass under the session lock without applying it.
func (c *Coordinator) Revise(session string, exec RevisionExecutor, completedIDs, failedIDs []string, outcomes map[string]model.TaskOutcome) model.RevisionResult {
	var res model.RevisionResult
	_ = c.locks.With(session, func() error {
		res = c.module(session, exec).Revise(completedIDs, failedIDs, outcomes)
		return nil
	})
	return res
}

// ReviseAndApply runs a pass and, when it is feasible and proposes actions,
// applies it while still holding the session lock. An infeasible result is
// returned with an empty report and no error.
func (c *Coordinator) ReviseAndApply(session string, exec RevisionExecutor, completedIDs, failedIDs []string, outcomes map[string]model.TaskOutcome) (model.RevisionResult, ApplyReport, error) {
	var (
		res    model.RevisionResult
		report ApplyReport
	)
	err := c.locks.With(session, func() error {
		m := c.module(session, exec)
		res = m.Revise(completedIDs, failedIDs, outcomes)
		if !res.Feasible || len(res.Actions) == 0 {
			return nil
		}

		var err error
		report, err = Apply(exec, res)
		if err != nil {
			metrics.RevisionsTotal.WithLabelValues("apply_failed").Inc()
			m.log(model.LogLevelError, "apply failed error=%v", err)
			m.publish(events.EventRevisionApplyFailed, res, map[string]any{"error": err.Error()})
			return err
		}

		metrics.RevisionsTotal.WithLabelValues("applied").Inc()
		m.log(model.LogLevelInfo, "revision applied applied=%d pending=%d", len(report.Applied), len(report.Pending))
		m.publish(events.EventRevisionApplied, res, map[string]any{
			"applied": len(report.Applied),
			"pending": len(report.Pending),
		})
		return nil
	})
	return res, report, err
}

func (c *Coordinator) module(session string, exec RevisionExecutor) *Module {
	opts := append(append([]Option(nil), c.opts...), WithSession(session))
	return NewModule(exec, opts...)
}
