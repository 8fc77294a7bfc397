package daemon

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/planguard/internal/events"
	"github.com/msageha/planguard/internal/lock"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/uds"
)

// syncBuffer lets the daemon log from handler goroutines while the test reads.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	daemon *Daemon
	client *uds.Client
	logs   *syncBuffer
	sock   string
	done   chan error
}

func startDaemon(t *testing.T) *harness {
	t.Helper()
	return startDaemonWith(t, model.DefaultConfig(), nil)
}

func startDaemonWith(t *testing.T, cfg model.Config, bus *events.Bus) *harness {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", "pg-daemon-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	cfg.Logging.Level = "debug"
	logs := &syncBuffer{}
	h := &harness{
		daemon: New(sock, cfg, log.New(logs, "", 0), bus),
		client: uds.NewClient(sock, 5*time.Second),
		logs:   logs,
		sock:   sock,
		done:   make(chan error, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- h.daemon.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	require.Eventually(t, func() bool {
		return h.call(CmdPing, "", nil, nil) == nil
	}, 5*time.Second, 20*time.Millisecond)
	return h
}

func (h *harness) call(command, session string, params, out any) error {
	return h.client.Call(context.Background(), command, session, params, out)
}

func buildPlan() model.TaskPlan {
	return model.TaskPlan{Tasks: []model.TaskNode{
		{ID: "fetch", Description: "Download the source archive"},
		{ID: "build", Description: "Compile the downloaded sources", Dependencies: []string{"fetch"}},
	}}
}

func cyclicPlan() model.TaskPlan {
	return model.TaskPlan{Tasks: []model.TaskNode{
		{ID: "A", Description: "first step of the loop", Dependencies: []string{"B"}},
		{ID: "B", Description: "second step of the loop", Dependencies: []string{"A"}},
	}}
}

func TestValidate(t *testing.T) {
	h := startDaemon(t)

	var out ValidateResult
	require.NoError(t, h.call(CmdValidate, "", ValidateParams{Plan: buildPlan()}, &out))
	require.NotNil(t, out.Result)
	assert.True(t, out.Result.Valid)
	assert.Equal(t, &model.PlanStats{TotalTasks: 2, ParallelizableTasks: 1, MaxDepth: 1}, out.Result.Stats)
	assert.Nil(t, out.Quick)

	out = ValidateResult{}
	require.NoError(t, h.call(CmdValidate, "", ValidateParams{Plan: cyclicPlan(), Quick: true}, &out))
	require.NotNil(t, out.Quick)
	assert.True(t, out.Quick.Valid, "quick validation does not look for cycles")

	out = ValidateResult{}
	require.NoError(t, h.call(CmdValidate, "", ValidateParams{Plan: cyclicPlan()}, &out))
	assert.False(t, out.Result.Valid)
	assert.Equal(t, []string{"Circular dependency detected: A -> B -> A"}, out.Result.Errors)
}

func TestLoadReviseApply(t *testing.T) {
	h := startDaemon(t)

	var loaded LoadPlanResult
	require.NoError(t, h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: buildPlan()}, &loaded))
	assert.Equal(t, 2, loaded.Tasks)

	outcomes := []model.TaskOutcome{
		{TaskID: "fetch", Status: model.StatusCompleted, Output: "archive.tar.gz"},
		{TaskID: "build", Status: model.StatusFailed, Error: "File not found: Makefile"},
	}

	var proposed ReviseResult
	require.NoError(t, h.call(CmdRevise, "s-1", ReviseParams{Outcomes: outcomes}, &proposed))
	assert.True(t, proposed.Revision.Feasible)
	require.Len(t, proposed.Revision.Actions, 2)
	assert.Empty(t, proposed.Applied)
	assert.Equal(t, 2, proposed.Tasks, "a dry run leaves the live graph alone")

	var applied ReviseResult
	require.NoError(t, h.call(CmdRevise, "s-1", ReviseParams{Outcomes: outcomes, Apply: true}, &applied))
	require.Len(t, applied.Applied, 2)
	assert.Equal(t, model.ActionAddNode, applied.Applied[0].Type)
	assert.Equal(t, 3, applied.Tasks)

	var p model.TaskPlan
	require.NoError(t, h.call(CmdGetPlan, "s-1", nil, &p))
	require.Len(t, p.Tasks, 3)
	assert.Equal(t, []string{"fetch", "build-fetch-resource"}, p.Tasks[1].Dependencies)
	assert.Equal(t, "build-fetch-resource", p.Tasks[2].ID)
}

func TestLoadPlan_Errors(t *testing.T) {
	h := startDaemon(t)

	err := h.call(CmdLoadPlan, "", LoadPlanParams{Plan: buildPlan()}, nil)
	assert.ErrorIs(t, err, uds.ErrInvalidRequest)

	err = h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: cyclicPlan()}, nil)
	assert.ErrorIs(t, err, uds.ErrInvalidRequest)

	require.NoError(t, h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: buildPlan()}, nil))
	err = h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: buildPlan()}, nil)
	assert.ErrorIs(t, err, uds.ErrSessionExists)

	require.NoError(t, h.call(CmdLoadPlan, "s-1",
		LoadPlanParams{Plan: cyclicPlan(), Replace: true, Force: true}, nil))
}

func TestRevise_InfeasibleOnCyclicSession(t *testing.T) {
	h := startDaemon(t)
	require.NoError(t, h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: cyclicPlan(), Force: true}, nil))

	var out ReviseResult
	err := h.call(CmdRevise, "s-1", ReviseParams{
		Outcomes: []model.TaskOutcome{{TaskID: "A", Status: model.StatusFailed, Error: "Permission denied"}},
		Apply:    true,
	}, &out)
	require.NoError(t, err)
	assert.False(t, out.Revision.Feasible)
	assert.Contains(t, out.Revision.Reason, "cycle")
	assert.Empty(t, out.Applied)

	var p model.TaskPlan
	require.NoError(t, h.call(CmdGetPlan, "s-1", nil, &p))
	assert.Equal(t, "first step of the loop", p.Tasks[0].Description, "infeasible revisions are never applied")
}

func TestRevise_Errors(t *testing.T) {
	h := startDaemon(t)

	err := h.call(CmdRevise, "missing", ReviseParams{}, nil)
	assert.ErrorIs(t, err, uds.ErrSessionNotFound)

	require.NoError(t, h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: buildPlan()}, nil))
	err = h.call(CmdRevise, "s-1", ReviseParams{
		Outcomes: []model.TaskOutcome{{TaskID: "build", Status: "running"}},
	}, nil)
	assert.ErrorIs(t, err, uds.ErrInvalidRequest)
}

func TestCloseSession(t *testing.T) {
	h := startDaemon(t)
	require.NoError(t, h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: buildPlan()}, nil))

	var closed CloseSessionResult
	require.NoError(t, h.call(CmdCloseSession, "s-1", nil, &closed))
	assert.Equal(t, CloseSessionResult{Session: "s-1", Passes: 0}, closed)

	err := h.call(CmdGetPlan, "s-1", nil, nil)
	assert.ErrorIs(t, err, uds.ErrSessionNotFound)
	err = h.call(CmdCloseSession, "s-1", nil, nil)
	assert.ErrorIs(t, err, uds.ErrSessionNotFound)
}

func TestConcurrentSessions(t *testing.T) {
	h := startDaemon(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := uds.NewClient(h.sock, 5*time.Second)
			ctx := context.Background()
			session := "s-" + string(rune('a'+i))
			if err := c.Call(ctx, CmdLoadPlan, session, LoadPlanParams{Plan: buildPlan()}, nil); err != nil {
				errs <- err
				return
			}
			errs <- c.Call(ctx, CmdRevise, session, ReviseParams{
				Outcomes: []model.TaskOutcome{{TaskID: "build", Status: model.StatusFailed, Error: "Access denied"}},
				Apply:    true,
			}, nil)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	var ping PingResult
	require.NoError(t, h.call(CmdPing, "", nil, &ping))
	assert.Equal(t, 8, ping.Sessions)
}

func TestShutdownViaSocket(t *testing.T) {
	h := startDaemon(t)

	require.NoError(t, h.call(CmdShutdown, "", nil, nil))

	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- err
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	_, err := os.Stat(h.sock)
	assert.True(t, os.IsNotExist(err))
	assert.Contains(t, h.logs.String(), "INFO daemon: shutdown requested via UDS")
}

func TestSecondDaemonRefused(t *testing.T) {
	h := startDaemon(t)

	second := New(h.sock, model.DefaultConfig(), nil, nil)
	err := second.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, lock.ErrLocked))
}

func TestRequestTimeoutFromConfig(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Daemon.RequestTimeoutSec = 1
	h := startDaemonWith(t, cfg, nil)
	assert.Equal(t, time.Second, h.daemon.RequestTimeout())

	var ping PingResult
	require.NoError(t, h.call(CmdPing, "", nil, &ping))
	assert.Equal(t, 1.0, ping.RequestTimeout)

	require.NoError(t, h.call(CmdLoadPlan, "busy", LoadPlanParams{Plan: buildPlan()}, nil))
	require.NoError(t, h.call(CmdLoadPlan, "idle", LoadPlanParams{Plan: buildPlan()}, nil))

	// Hold the busy session as a long revision pass would.
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = h.daemon.lockMap.With("busy", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	start := time.Now()
	err := h.call(CmdGetPlan, "busy", nil, nil)
	assert.ErrorIs(t, err, uds.ErrTimeout)
	assert.Less(t, time.Since(start), 3*time.Second)

	var p model.TaskPlan
	require.NoError(t, h.call(CmdGetPlan, "idle", nil, &p), "other sessions are not held up")
	assert.Equal(t, 2, p.Len())
}

func TestDefaultRequestTimeout(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Daemon.RequestTimeoutSec = 0
	d := New(filepath.Join(t.TempDir(), "d.sock"), cfg, nil, nil)
	assert.Equal(t, uds.DefaultTimeout, d.RequestTimeout())
}

func TestPlanValidatedEvents(t *testing.T) {
	bus := events.NewBus(0)
	var mu sync.Mutex
	var got []events.Event
	bus.Subscribe(events.EventPlanValidated, func(e events.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
	})
	t.Cleanup(bus.Close)
	h := startDaemonWith(t, model.DefaultConfig(), bus)

	require.NoError(t, h.call(CmdValidate, "", ValidateParams{Plan: cyclicPlan()}, nil))
	require.NoError(t, h.call(CmdLoadPlan, "s-1", LoadPlanParams{Plan: buildPlan()}, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "daemon:validate", got[0].Data["source"])
	assert.Equal(t, false, got[0].Data["valid"])
	assert.Equal(t, []string{"Circular dependency detected: A -> B -> A"}, got[0].Data["errors"])
	assert.Equal(t, "s-1", got[1].Data["session"])
	assert.Equal(t, true, got[1].Data["valid"])
	assert.Equal(t, 2, got[1].Data["tasks"])
}
