package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/msageha/planguard/internal/events"
)

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the revision audit log",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "verify LOG",
		Short: "Check the checksum of every audit log entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			total, valid, err := events.VerifyLogIntegrity(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "%s: %d entries, %d valid\n", args[0], total, valid)
			if valid != total {
				return fmt.Errorf("%d of %d audit entries failed verification", total-valid, total)
			}
			return nil
		},
	})
	return cmd
}
