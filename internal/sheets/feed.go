package sheets

import (
	"context"

	"ctf-bot/internal/notify"
	"ctf-bot/internal/util"
)

// Names resolves chat users to display names.
type Names interface {
	UserName(ctx context.Context, id int64) string
}

// SolveFeed mirrors solve events into the Solves sheet. Questions are not
// mirrored.
type SolveFeed struct {
	c     *Client
	names Names
}

var _ notify.Sink = (*SolveFeed)(nil)

func NewSolveFeed(c *Client, names Names) *SolveFeed {
	return &SolveFeed{c: c, names: names}
}

func (f *SolveFeed) Deliver(ctx context.Context, e notify.Event) error {
	if e.Kind != notify.Solved && e.Kind != notify.HiddenSolved {
		return nil
	}
	return f.c.AppendSolve(ctx, SolveRow{
		At:       util.ISO(e.At),
		UserID:   e.UserID,
		UserName: f.names.UserName(ctx, e.UserID),
		TaskID:   e.TaskID,
		TaskName: e.TaskName,
		Points:   e.Points,
		Hidden:   e.Kind == notify.HiddenSolved,
	})
}
