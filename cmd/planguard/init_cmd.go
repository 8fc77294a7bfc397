package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/planguard/internal/setup"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init [DIR]",
		Short: "Create a " + setup.DirName + " project directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			l, err := setup.Run(dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "initialized %s\n", l.Base)
			fmt.Fprintf(a.stdout, "  config:  %s\n", l.Config)
			fmt.Fprintf(a.stdout, "  rules:   %s\n", l.Rules)
			fmt.Fprintf(a.stdout, "  example: %s\n", l.ExamplePlan)
			return nil
		},
	}
}
