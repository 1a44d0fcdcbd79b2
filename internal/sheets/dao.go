package sheets

import (
	"context"
	"fmt"
	"strings"

	sheetsv4 "google.golang.org/api/sheets/v4"

	"ctf-bot/internal/models"
	"ctf-bot/internal/util"
)

const (
	SheetSolves     = "Solves"
	SheetScoreboard = "Scoreboard"
)

var headers = map[string][]interface{}{
	SheetSolves:     {"at", "user_id", "user", "task_id", "task", "points", "hidden"},
	SheetScoreboard: {"position", "user_id", "user", "total", "solves", "reached_at"},
}

func (c *Client) readAll(ctx context.Context, sheet string) ([][]interface{}, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) appendRow(ctx context.Context, sheet string, row []interface{}) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{row}}
	_, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:Z", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// replace overwrites the whole sheet with rows.
func (c *Client) replace(ctx context.Context, sheet string, rows [][]interface{}) error {
	_, err := c.srv.Spreadsheets.Values.Clear(c.spreadsheetID, sheet+"!A:Z", &sheetsv4.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return err
	}
	vr := &sheetsv4.ValueRange{Values: rows}
	_, err = c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!A1", vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// EnsureHeaders writes the header row of the solve feed when the sheet is
// empty. The scoreboard sheet gets its header on every publish.
func (c *Client) EnsureHeaders(ctx context.Context) error {
	values, err := c.readAll(ctx, SheetSolves)
	if err != nil {
		return fmt.Errorf("reading %s: %w", SheetSolves, err)
	}
	if len(values) > 0 && strings.EqualFold(get(values[0], 0), "at") {
		return nil
	}
	return c.appendRow(ctx, SheetSolves, headers[SheetSolves])
}

type SolveRow struct {
	At       string
	UserID   int64
	UserName string
	TaskID   string
	TaskName string
	Points   int
	Hidden   bool
}

func (c *Client) AppendSolve(ctx context.Context, r SolveRow) error {
	hidden := ""
	if r.Hidden {
		hidden = "hidden"
	}
	return c.appendRow(ctx, SheetSolves, []interface{}{
		r.At, r.UserID, r.UserName, r.TaskID, r.TaskName, r.Points, hidden,
	})
}

// PublishBoard replaces the scoreboard sheet with standings. name resolves
// user ids to display names.
func (c *Client) PublishBoard(ctx context.Context, board []models.Standing, name func(int64) string) error {
	rows := make([][]interface{}, 0, len(board)+1)
	rows = append(rows, headers[SheetScoreboard])
	for _, s := range board {
		rows = append(rows, []interface{}{
			s.Position, s.UserID, name(s.UserID), s.Total, s.Solves, util.ISO(s.ReachedAt),
		})
	}
	if err := c.replace(ctx, SheetScoreboard, rows); err != nil {
		return fmt.Errorf("publishing board: %w", err)
	}
	return nil
}

func get(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return fmt.Sprint(row[idx])
}
