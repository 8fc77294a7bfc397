package main

import (
	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/failure"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/revision"
)

// revisionStack is the failure analyzer, optional rule watcher and event
// plumbing shared by revise and serve.
type revisionStack struct {
	analyzer *failure.Analyzer
	rules    *failure.Watcher
	bus      *events.Bus
	audit    *events.AuditLogger
}

// newRevisionStack loads rulesPath (built-in rules when empty) and attaches an
// audit log at auditPath when set.
func (a *app) newRevisionStack(rulesPath, auditPath string) (*revisionStack, error) {
	bus, audit, err := a.newEventSink(auditPath)
	if err != nil {
		return nil, err
	}
	s := &revisionStack{analyzer: failure.NewAnalyzer(nil), bus: bus, audit: audit}

	if rulesPath != "" {
		s.rules = failure.NewWatcher(rulesPath, failure.NewLoader(), s.analyzer, a.logger, a.level)
		if err := s.rules.Reload(); err != nil {
			s.close()
			return nil, err
		}
	}
	return s, nil
}

// newEventSink returns a bus whose events are appended to the audit log at
// auditPath. With an empty auditPath nothing listens on the bus.
func (a *app) newEventSink(auditPath string) (*events.Bus, *events.AuditLogger, error) {
	bus := events.NewBus(0)
	if auditPath == "" {
		return bus, nil, nil
	}
	audit, err := events.NewAuditLogger(auditPath, a.cfg.Audit.MaxSizeBytes)
	if err != nil {
		bus.Close()
		return nil, nil, err
	}
	audit.Attach(bus, func(err error) {
		a.log(model.LogLevelError, "audit write failed error=%v", err)
	})
	return bus, audit, nil
}

func (s *revisionStack) options(a *app) []revision.Option {
	return []revision.Option{
		revision.WithLogger(a.logger),
		revision.WithLogLevel(a.level),
		revision.WithAnalyzer(s.analyzer),
		revision.WithEventBus(s.bus),
	}
}

func (s *revisionStack) close() {
	closeSink(s.bus, s.audit)
}

// closeSink drains buffered events into the audit log before closing it.
func closeSink(bus *events.Bus, audit *events.AuditLogger) {
	bus.Close()
	if audit != nil {
		_ = audit.Close()
	}
}
