package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ctf-bot/internal/notify"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Rebuild the cached per-user totals from the solve records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.st.Close()

		n, err := newService(e, notify.Discard{}, nil).Reconcile(ctx)
		if err != nil {
			return err
		}
		e.log.Info("totals reconciled", "users", n)
		fmt.Fprintf(cmd.OutOrStdout(), "%d totals rewritten\n", n)
		return nil
	},
}
