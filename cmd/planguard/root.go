package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/msageha/planguard/internal/metrics"
	"github.com/msageha/planguard/internal/model"
)

// app carries state shared by every subcommand once flags are parsed.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	metricsOut string

	cfg    model.Config
	logger *log.Logger
	level  model.LogLevel
}

// execute runs the command line in args. --metrics-out is written after the
// command returns, including when it fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root, a := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if a.metricsOut != "" {
		if werr := metrics.WriteTextfile(a.metricsOut); werr != nil {
			err = errors.Join(err, werr)
		}
	}
	return err
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *app) {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "planguard",
		Short: "Validate task plans and revise them from execution outcomes",
		Long: `planguard checks that a task plan is an executable dependency DAG and, while
the plan runs, turns task failures into concrete graph revisions that are only
certified when the live graph is acyclic.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (YAML)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&a.metricsOut, "metrics-out", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newInitCmd(a),
		newValidateCmd(a),
		newReviseCmd(a),
		newAuditCmd(a),
		newServeCmd(a),
		newRemoteCmd(a),
		newVersionCmd(a),
	)
	return root, a
}

func (a *app) init() error {
	cfg := model.DefaultConfig()
	if a.configPath != "" {
		loaded, err := model.LoadConfig(a.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	a.cfg = cfg
	a.level = model.ParseLogLevel(cfg.Logging.Level)
	a.logger = log.New(a.stderr, "", 0)
	return nil
}

func (a *app) log(level model.LogLevel, format string, args ...any) {
	if level < a.level {
		return
	}
	msg := fmt.Sprintf(format, args...)
	a.logger.Printf("%s %s cli: %s", time.Now().Format(time.RFC3339), level, msg)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the planguard version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "planguard %s\n", version)
		},
	}
}
