// Package daemon serves plan validation and self-revision for long-running
// execution sessions over a Unix domain socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/graph"
	"github.com/msageha/planguard/internal/lock"
	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/plan"
	"github.com/msageha/planguard/internal/revision"
	"github.com/msageha/planguard/internal/uds"
)

// session is one execution's live dependency graph.
type session struct {
	graph   *graph.DependencyGraph
	created time.Time
	passes  int
}

// Daemon owns the live graphs of every loaded session. Requests for the same
// session are serialized; different sessions proceed in parallel.
type Daemon struct {
	socketPath string
	config     model.Config
	logLevel   model.LogLevel
	logger     *log.Logger

	fileLock    *lock.FileLock
	server      *uds.Server
	bus         *events.Bus
	validator   *plan.Validator
	coordinator *revision.Coordinator
	lockMap     *lock.MutexMap

	mu       sync.RWMutex
	sessions map[string]*session

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
}

// New creates a daemon listening on socketPath once Run is called. A nil
// logger discards log lines. plan_validated events go to bus when it is
// non-nil. revisionOpts configure every revision pass and may override the
// daemon's logger for it. Each request is bounded by
// cfg.Daemon.RequestTimeoutSec, including the wait for a busy session.
func New(socketPath string, cfg model.Config, logger *log.Logger, bus *events.Bus, revisionOpts ...revision.Option) *Daemon {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	level := model.ParseLogLevel(cfg.Logging.Level)

	opts := append([]revision.Option{
		revision.WithLogger(logger),
		revision.WithLogLevel(level),
	}, revisionOpts...)

	return &Daemon{
		socketPath:  socketPath,
		config:      cfg,
		logLevel:    level,
		logger:      logger,
		fileLock:    lock.ForFile(socketPath),
		server: uds.NewServer(socketPath, uds.ServerOptions{
			Logger:         logger,
			RequestTimeout: time.Duration(cfg.Daemon.RequestTimeoutSec) * time.Second,
			Observe:        observeRequest,
		}),
		bus:         bus,
		validator:   plan.NewValidatorFromConfig(cfg.Validation),
		coordinator: revision.NewCoordinator(opts...),
		lockMap:     lock.NewMutexMap(),
		sessions:    make(map[string]*session),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run serves requests until ctx is done or a shutdown request arrives.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.fileLock.TryLock(); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return fmt.Errorf("another daemon is serving %s: %w", d.socketPath, err)
		}
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(model.LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	d.registerHandlers()
	if err := d.server.Start(); err != nil {
		_ = d.fileLock.Unlock()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(model.LogLevelInfo, "listening on %s", d.socketPath)

	select {
	case <-ctx.Done():
		d.log(model.LogLevelInfo, "context done, initiating shutdown")
	case <-d.ctx.Done():
	}
	d.Shutdown()
	return nil
}

// Shutdown stops the server and releases the daemon lock. It is idempotent.
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(model.LogLevelInfo, "shutdown started")
		d.cancel()
		if err := d.server.Stop(); err != nil {
			d.log(model.LogLevelWarn, "stop server error=%v", err)
		}
		if err := d.fileLock.Unlock(); err != nil {
			d.log(model.LogLevelWarn, "release lock error=%v", err)
		}
		d.log(model.LogLevelInfo, "daemon stopped")
	})
}

// Done is closed once shutdown has been requested.
func (d *Daemon) Done() <-chan struct{} {
	return d.ctx.Done()
}

// RequestTimeout is the deadline each request runs under.
func (d *Daemon) RequestTimeout() time.Duration {
	return d.server.RequestTimeout()
}

func (d *Daemon) registerHandlers() {
	d.server.Handle(CmdPing, d.handlePing)
	d.server.Handle(CmdShutdown, func(ctx context.Context, req *uds.Request) (any, error) {
		d.log(model.LogLevelInfo, "shutdown requested via UDS")
		// Stop waits for this request's connection, so it cannot run inline.
		go d.Shutdown()
		return map[string]string{"status": "shutdown_accepted"}, nil
	})

	d.server.Handle(CmdValidate, d.handleValidate)
	d.server.Handle(CmdLoadPlan, d.handleLoadPlan)
	d.server.Handle(CmdGetPlan, d.handleGetPlan)
	d.server.Handle(CmdRevise, d.handleRevise)
	d.server.Handle(CmdCloseSession, d.handleCloseSession)
}

func (d *Daemon) lookup(id string) (*session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", uds.ErrSessionNotFound, id)
	}
	return s, nil
}

func observeRequest(command, code string, elapsed time.Duration) {
	metrics.DaemonRequestsTotal.WithLabelValues(command, code).Inc()
	metrics.DaemonRequestDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (d *Daemon) log(level model.LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), level, msg)
}
