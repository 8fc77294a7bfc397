package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/planguard/internal/daemon"
	"github.com/msageha/planguard/internal/model"
	"github.com/msageha/planguard/internal/plan"
	"github.com/msageha/planguard/internal/uds"
)

// socketPath resolves --socket, then daemon.socket_path, then the default name
// in the working directory.
func (a *app) socketPath(flag string) string {
	switch {
	case flag != "":
		return flag
	case a.cfg.Daemon.SocketPath != "":
		return a.cfg.Daemon.SocketPath
	default:
		return uds.DefaultSocketName
	}
}

func newServeCmd(a *app) *cobra.Command {
	var socket, rulesPath, auditPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the revision daemon on a Unix socket",
		Long: `Serve validation and self-revision for live execution sessions. Each session
holds the dependency graph loaded with "remote load" and is revised in place
by "remote revise --apply". Stops on SIGINT/SIGTERM or "remote shutdown".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rulesPath == "" {
				rulesPath = a.cfg.Revision.RulesFile
			}
			if auditPath == "" {
				auditPath = a.cfg.Audit.Path
			}
			return a.runServe(cmd.Context(), a.socketPath(socket), rulesPath, auditPath)
		},
	}
	cmd.Flags().StringVar(&socket, "socket", "", "socket path (default: daemon.socket_path from config, else ./"+uds.DefaultSocketName+")")
	cmd.Flags().StringVar(&rulesPath, "rules", "", "failure rule file (default: revision.rules_file from config)")
	cmd.Flags().StringVar(&auditPath, "audit", "", "append revision events to this JSONL file (default: audit.path from config)")
	return cmd
}

func (a *app) runServe(ctx context.Context, socket, rulesPath, auditPath string) error {
	stack, err := a.newRevisionStack(rulesPath, auditPath)
	if err != nil {
		return err
	}
	defer stack.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if stack.rules != nil && a.cfg.Revision.WatchRules {
		if err := stack.rules.Start(ctx); err != nil {
			return err
		}
		defer func() {
			cancel()
			stack.rules.Wait()
		}()
	}

	d := daemon.New(socket, a.cfg, a.logger, stack.bus, stack.options(a)...)
	a.log(model.LogLevelInfo, "serving socket=%s", socket)
	return d.Run(ctx)
}

// client returns a UDS client for the resolved socket. It waits a little
// longer than the daemon's own request timeout so a TIMEOUT answer arrives
// before the client gives up.
func (a *app) client(socket string) *uds.Client {
	timeout := uds.DefaultTimeout
	if sec := a.cfg.Daemon.RequestTimeoutSec; sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	return uds.NewClient(a.socketPath(socket), timeout+2*time.Second)
}

func newRemoteCmd(a *app) *cobra.Command {
	var socket string
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a running planguard daemon",
	}
	cmd.PersistentFlags().StringVar(&socket, "socket", "", "daemon socket path")

	var session string
	var replace, force bool
	load := &cobra.Command{
		Use:   "load PLAN",
		Short: "Start a session from a plan file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.LoadPlanFile(args[0])
			if err != nil {
				return err
			}
			var out daemon.LoadPlanResult
			params := daemon.LoadPlanParams{Plan: p, Replace: replace, Force: force}
			if err := a.client(socket).Call(cmd.Context(), daemon.CmdLoadPlan, session, params, &out); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "session %s: loaded %d tasks\n", out.Session, out.Tasks)
			for _, w := range out.Warnings {
				fmt.Fprintf(a.stdout, "  warning: %s\n", w)
			}
			return nil
		},
	}
	load.Flags().BoolVar(&replace, "replace", false, "replace an existing session with the same ID")
	load.Flags().BoolVar(&force, "force", false, "load the plan even if it does not validate")

	var apply bool
	var format string
	revise := &cobra.Command{
		Use:   "revise OUTCOMES",
		Short: "Report task outcomes and print the proposed revision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format, formatYAML, formatJSON); err != nil {
				return err
			}
			set, err := plan.LoadOutcomeFile(args[0])
			if err != nil {
				return err
			}
			var out daemon.ReviseResult
			params := daemon.ReviseParams{Outcomes: outcomeList(set), Apply: apply}
			if err := a.client(socket).Call(cmd.Context(), daemon.CmdRevise, session, params, &out); err != nil {
				return err
			}
			if err := writeStructured(a.stdout, format, out); err != nil {
				return err
			}
			if !out.Revision.Feasible {
				return fmt.Errorf("%w: %s", errInfeasible, out.Revision.Reason)
			}
			return nil
		},
	}
	revise.Flags().BoolVar(&apply, "apply", false, "apply a feasible revision to the session graph")
	revise.Flags().StringVar(&format, "format", formatYAML, "output format: yaml, json")

	var outPath string
	show := &cobra.Command{
		Use:   "plan",
		Short: "Print (or save) the session's current plan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p model.TaskPlan
			if err := a.client(socket).Call(cmd.Context(), daemon.CmdGetPlan, session, nil, &p); err != nil {
				return err
			}
			if outPath != "" {
				return plan.WritePlanFile(outPath, p)
			}
			return writeStructured(a.stdout, formatYAML, model.PlanFile{SchemaVersion: model.PlanSchemaVersion, Tasks: p.Tasks})
		},
	}
	show.Flags().StringVar(&outPath, "out", "", "write the plan file here instead of stdout")

	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Drop a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out daemon.CloseSessionResult
			if err := a.client(socket).Call(cmd.Context(), daemon.CmdCloseSession, session, nil, &out); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "session %s: closed after %d revision passes\n", out.Session, out.Passes)
			return nil
		},
	}

	for _, c := range []*cobra.Command{load, revise, show, closeCmd} {
		c.Flags().StringVar(&session, "session", "", "execution session ID")
		_ = c.MarkFlagRequired("session")
		cmd.AddCommand(c)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "shutdown",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.client(socket).Call(cmd.Context(), daemon.CmdShutdown, "", nil, nil)
		},
	})
	return cmd
}

// outcomeList flattens an outcome set, completed tasks first.
func outcomeList(set plan.OutcomeSet) []model.TaskOutcome {
	out := make([]model.TaskOutcome, 0, len(set.Outcomes))
	for _, id := range set.Completed {
		out = append(out, set.Outcomes[id])
	}
	for _, id := range set.Failed {
		out = append(out, set.Outcomes[id])
	}
	return out
}
