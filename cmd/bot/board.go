package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
	"ctf-bot/internal/sheets"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	leaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	hiddenStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	goneStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Strikethrough(true)
)

var (
	boardAsOf    int64
	boardPublish bool
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Print the scoreboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := setup(ctx)
		if err != nil {
			return err
		}
		defer e.st.Close()
		svc := newService(e, notify.Discard{}, nil)

		var asOf time.Time
		if boardAsOf > 0 {
			asOf = time.Unix(boardAsOf, 0)
		}
		board, err := svc.Standings(ctx, asOf)
		if err != nil {
			return err
		}
		name := func(id int64) string { return svc.UserName(ctx, id) }
		renderBoard(cmd.OutOrStdout(), board, name, asOf)

		if !boardPublish {
			return nil
		}
		if !e.cfg.SheetsEnabled() {
			return fmt.Errorf("--publish needs GOOGLE_SERVICE_ACCOUNT_JSON and GOOGLE_SHEETS_SPREADSHEET_ID")
		}
		sh, err := sheets.New(ctx, e.cfg.GoogleServiceAccountJSON, e.cfg.SpreadsheetID)
		if err != nil {
			return fmt.Errorf("sheets: %w", err)
		}
		if err := sh.PublishBoard(ctx, board, name); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), mutedStyle.Render("published to sheet "+sheets.SheetScoreboard))
		return nil
	},
}

func init() {
	boardCmd.Flags().Int64Var(&boardAsOf, "as-of", 0, "count solves up to this epoch second (default: now)")
	boardCmd.Flags().BoolVar(&boardPublish, "publish", false, "also write the board to the Google Sheets mirror")
}

func renderBoard(w io.Writer, board []models.Standing, name func(int64) string, asOf time.Time) {
	title := "Scoreboard"
	if !asOf.IsZero() {
		title += " as of " + asOf.UTC().Format(time.RFC3339)
	}
	fmt.Fprintln(w, titleStyle.Render(title))
	if len(board) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("no solves yet"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-4s %-32s %6s %6s  %s", "#", "user", "total", "solves", "reached")))
	for _, s := range board {
		line := fmt.Sprintf("%-4s %-32s %6d %6d  %s",
			strconv.Itoa(s.Position), name(s.UserID), s.Total, s.Solves, s.ReachedAt.UTC().Format(time.RFC3339))
		if s.Position == 1 {
			line = leaderStyle.Render(line)
		}
		fmt.Fprintln(w, line)
	}
}
