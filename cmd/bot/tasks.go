package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
	"ctf-bot/internal/tasks"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and import tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every task, including hidden, draft and deleted ones",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.st.Close()

		all, err := newService(e, notify.Discard{}, nil).AllTasks(ctx)
		if err != nil {
			return err
		}
		renderTasks(cmd.OutOrStdout(), all)
		return nil
	},
}

var tasksImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create tasks from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		specs, err := tasks.LoadFile(args[0])
		if err != nil {
			return err
		}
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.st.Close()

		ids, err := newService(e, notify.Discard{}, nil).ImportTasks(ctx, specs)
		for i, id := range ids {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", id, specs[i].Name)
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render(fmt.Sprintf("%d tasks imported", len(ids))))
		return nil
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd, tasksImportCmd)
}

func renderTasks(w io.Writer, all []models.Task) {
	fmt.Fprintln(w, titleStyle.Render("Tasks"))
	if len(all) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no tasks"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-8s  %-32s %6s  %-7s %s", "id", "name", "points", "state", "flags")))
	for _, t := range all {
		line := fmt.Sprintf("%-8s  %-32s %6d  %-7s %d", t.ID, t.Name, t.Points, t.State, len(t.Flags))
		switch {
		case t.Deleted():
			line = goneStyle.Render(line)
		case t.Hidden || t.State == models.StateDraft:
			line = hiddenStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}
