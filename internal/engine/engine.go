// Package engine validates flag submissions and commits solves. A solve is
// inserted at most once per (user, task) and carries the task's points as
// they were when the insert committed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ctf-bot/internal/clock"
	"ctf-bot/internal/codec"
	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
	"ctf-bot/internal/store"
	"ctf-bot/internal/tasks"
)

type Engine struct {
	st    store.Store
	reg   *tasks.Registry
	ann   notify.Announcer
	clock clock.Clock
	log   *slog.Logger
}

func New(st store.Store, reg *tasks.Registry, ann notify.Announcer, clk clock.Clock, log *slog.Logger) *Engine {
	if ann == nil {
		ann = notify.Discard{}
	}
	return &Engine{st: st, reg: reg, ann: ann, clock: clk, log: log}
}

// Submit checks flag against task taskID for user. Domain outcomes are
// reported in the result; a non-nil error means the store failed and
// nothing was written.
func (e *Engine) Submit(ctx context.Context, user int64, taskID, flag string) (models.SubmitResult, error) {
	task, err := e.reg.Resolve(ctx, taskID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		return models.SubmitResult{Outcome: models.TaskNotFound, TaskID: taskID}, nil
	case err != nil:
		return models.SubmitResult{}, err
	}
	if res, done := precheck(task, flag); done {
		return res, nil
	}

	var res models.SubmitResult
	taskKey, solveKey := store.TaskKey(taskID), store.SolveKey(user, taskID)
	err = e.st.Update(ctx, []string{taskKey, solveKey}, func(tx store.Txn) error {
		res = models.SubmitResult{}
		raw, ok := tx.Get(taskKey)
		if !ok {
			res = models.SubmitResult{Outcome: models.TaskNotFound, TaskID: taskID}
			return nil
		}
		var current models.Task
		if err := codec.Unmarshal(raw, &current); err != nil {
			return fmt.Errorf("decoding task %s: %w", taskID, err)
		}
		// the task may have been edited or deleted since it was resolved
		if r, done := precheck(current, flag); done {
			res = r
			return nil
		}
		if _, solved := tx.Get(solveKey); solved {
			res = result(models.AlreadySolved, current)
			return nil
		}
		solve := models.Solve{UserID: user, TaskID: taskID, Points: current.Points, At: e.clock.Now()}
		enc, err := codec.Marshal(solve)
		if err != nil {
			return fmt.Errorf("encoding solve: %w", err)
		}
		tx.Set(solveKey, enc)
		res = result(models.Correct, current)
		res.Points = solve.Points
		res.At = solve.At
		return nil
	})
	if err != nil {
		return models.SubmitResult{}, fmt.Errorf("submitting flag for task %s: %w", taskID, err)
	}
	if res.Outcome == models.Correct {
		e.committed(ctx, user, res)
	}
	return res, nil
}

// committed runs the side effects of a new solve. Neither can undo it.
func (e *Engine) committed(ctx context.Context, user int64, res models.SubmitResult) {
	if _, err := e.st.Increment(ctx, store.TotalKey(user), int64(res.Points)); err != nil {
		e.log.Warn("engine: cached total not updated", "user", user, "task", res.TaskID, "err", err)
	}
	kind := notify.Solved
	if res.Hidden {
		kind = notify.HiddenSolved
	}
	e.ann.Announce(notify.Event{
		Kind:     kind,
		UserID:   user,
		TaskID:   res.TaskID,
		TaskName: res.TaskName,
		Points:   res.Points,
		At:       res.At,
	})
	e.log.Info("engine: solve committed", "user", user, "task", res.TaskID, "points", res.Points)
}

// precheck resolves every outcome that needs no write.
func precheck(t models.Task, flag string) (models.SubmitResult, bool) {
	switch {
	case t.State == models.StateDraft:
		return models.SubmitResult{Outcome: models.TaskNotFound, TaskID: t.ID}, true
	case t.Deleted():
		return result(models.TaskDeleted, t), true
	case !t.Accepts(flag):
		return result(models.Incorrect, t), true
	}
	return models.SubmitResult{}, false
}

func result(o models.Outcome, t models.Task) models.SubmitResult {
	return models.SubmitResult{Outcome: o, TaskID: t.ID, TaskName: t.Name, Hidden: t.Hidden}
}
