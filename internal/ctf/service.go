// Package ctf is the command facade the transports call. It resolves the
// caller's role, applies the event window and admin checks, and hands the
// work to the registry, the submission engine and the scoreboard.
package ctf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ctf-bot/internal/access"
	"ctf-bot/internal/clock"
	"ctf-bot/internal/engine"
	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
	"ctf-bot/internal/scoreboard"
	"ctf-bot/internal/store"
	"ctf-bot/internal/tasks"
)

// Broadcaster delivers an organizer message to chat users. The transport
// implements it.
type Broadcaster interface {
	Broadcast(ctx context.Context, users []int64, text string) error
}

type Deps struct {
	Store         store.Store
	Gate          access.Gate
	Announcer     notify.Announcer
	Broadcaster   Broadcaster
	Clock         clock.Clock
	Logger        *slog.Logger
	DefaultPoints int
}

type Service struct {
	st    store.Store
	gate  access.Gate
	reg   *tasks.Registry
	eng   *engine.Engine
	board *scoreboard.Board
	ann   notify.Announcer
	bc    Broadcaster
	clock clock.Clock
	log   *slog.Logger

	defaultPoints int
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	if d.Announcer == nil {
		d.Announcer = notify.Discard{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	reg := tasks.NewRegistry(d.Store, d.Clock)
	gate := d.Gate
	return &Service{
		st:    d.Store,
		gate:  gate,
		reg:   reg,
		eng:   engine.New(d.Store, reg, d.Announcer, d.Clock, d.Logger),
		board: scoreboard.New(d.Store, func(u int64) bool { return !gate.Roles.Of(u).Ranked() }),
		ann:   d.Announcer,
		bc:    d.Broadcaster,
		clock: d.Clock,
		log:   d.Logger,

		defaultPoints: d.DefaultPoints,
	}
}

func (s *Service) Role(user int64) models.Role { return s.gate.Roles.Of(user) }

func (s *Service) IsAdmin(user int64) bool { return s.Role(user) == models.RoleAdmin }

// Window is the gate decision for user right now.
func (s *Service) Window(user int64) access.Decision { return s.gate.Decide(s.clock.Now(), user) }

func (s *Service) DefaultPoints() int { return s.defaultPoints }

func (s *Service) open(user int64) error {
	if d := s.Window(user); d != access.Open {
		return fmt.Errorf("%w: %s", models.ErrWindowClosed, d)
	}
	return nil
}

func (s *Service) admin(user int64) error {
	if !s.IsAdmin(user) {
		return fmt.Errorf("user %d: %w", user, models.ErrPermissionDenied)
	}
	return nil
}

// mapErr folds adapter failures into the domain error the transports know.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrUnavailable) || errors.Is(err, store.ErrConflict) {
		return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
	}
	return err
}

// ListTasks returns the tasks user may see, flagged with what they have
// already solved.
func (s *Service) ListTasks(ctx context.Context, user int64) ([]models.TaskSummary, error) {
	if err := s.open(user); err != nil {
		return nil, err
	}
	list, err := s.reg.List(ctx, tasks.Players, s.Role(user))
	if err != nil {
		return nil, mapErr(err)
	}
	solves, err := s.board.UserSolves(ctx, user)
	if err != nil {
		return nil, mapErr(err)
	}
	solved := make(map[string]bool, len(solves))
	for _, sv := range solves {
		solved[sv.TaskID] = true
	}
	out := make([]models.TaskSummary, 0, len(list))
	for _, t := range list {
		sum := t.Summary()
		sum.Solved = solved[t.ID]
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) Submit(ctx context.Context, user int64, taskID, flag string) (models.SubmitResult, error) {
	if err := s.open(user); err != nil {
		return models.SubmitResult{}, err
	}
	res, err := s.eng.Submit(ctx, user, taskID, flag)
	return res, mapErr(err)
}

// SubmitFlag submits free text: the task is whichever one accepts flag.
// Text that no task accepts is Incorrect.
func (s *Service) SubmitFlag(ctx context.Context, user int64, flag string) (models.SubmitResult, error) {
	if err := s.open(user); err != nil {
		return models.SubmitResult{}, err
	}
	task, err := s.reg.FindByFlag(ctx, flag)
	if errors.Is(err, models.ErrNotFound) {
		return models.SubmitResult{Outcome: models.Incorrect}, nil
	}
	if err != nil {
		return models.SubmitResult{}, mapErr(err)
	}
	res, err := s.eng.Submit(ctx, user, task.ID, flag)
	return res, mapErr(err)
}

func (s *Service) Score(ctx context.Context, user int64) (models.ScoreView, error) {
	if err := s.open(user); err != nil {
		return models.ScoreView{}, err
	}
	view, err := s.board.UserRank(ctx, user)
	return view, mapErr(err)
}

// Board is the admin view of the standings at asOf (zero for now).
func (s *Service) Board(ctx context.Context, admin int64, asOf time.Time) ([]models.Standing, error) {
	if err := s.admin(admin); err != nil {
		return nil, err
	}
	return s.Standings(ctx, asOf)
}

// Standings is Board without the caller check, for surfaces that
// authenticate on their own (signed export links, the CLI).
func (s *Service) Standings(ctx context.Context, asOf time.Time) ([]models.Standing, error) {
	board, err := s.board.Rank(ctx, asOf)
	return board, mapErr(err)
}

func (s *Service) CreateTask(ctx context.Context, admin int64, spec models.TaskSpec) (string, error) {
	if err := s.admin(admin); err != nil {
		return "", err
	}
	id, err := s.reg.Create(ctx, spec)
	if err != nil {
		return "", mapErr(err)
	}
	s.log.Info("task created", "admin", admin, "task", id)
	return id, nil
}

func (s *Service) EditTask(ctx context.Context, admin int64, id string, patch models.TaskPatch) error {
	if err := s.admin(admin); err != nil {
		return err
	}
	if err := s.reg.Edit(ctx, id, patch); err != nil {
		return mapErr(err)
	}
	s.log.Info("task edited", "admin", admin, "task", id)
	return nil
}

func (s *Service) DeleteTask(ctx context.Context, admin int64, id string) error {
	if err := s.admin(admin); err != nil {
		return err
	}
	if err := s.reg.Delete(ctx, id); err != nil {
		return mapErr(err)
	}
	s.log.Info("task deleted", "admin", admin, "task", id)
	return nil
}

func (s *Service) GetTask(ctx context.Context, admin int64, id string) (models.Task, error) {
	if err := s.admin(admin); err != nil {
		return models.Task{}, err
	}
	t, err := s.reg.Resolve(ctx, id)
	return t, mapErr(err)
}

// AdminListTasks lists every task that can still be edited or deleted:
// active, hidden and draft ones.
func (s *Service) AdminListTasks(ctx context.Context, admin int64) ([]models.Task, error) {
	if err := s.admin(admin); err != nil {
		return nil, err
	}
	all, err := s.AllTasks(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if !t.Deleted() {
			out = append(out, t)
		}
	}
	return out, nil
}

// AllTasks is the unfiltered registry view for the CLI.
func (s *Service) AllTasks(ctx context.Context) ([]models.Task, error) {
	all, err := s.reg.List(ctx, tasks.Everything, models.RoleAdmin)
	return all, mapErr(err)
}

// ImportTasks creates every spec in order and returns the new ids. It stops
// at the first failure; tasks created before it are kept.
func (s *Service) ImportTasks(ctx context.Context, specs []models.TaskSpec) ([]string, error) {
	ids := make([]string, 0, len(specs))
	for i, spec := range specs {
		id, err := s.reg.Create(ctx, spec)
		if err != nil {
			return ids, fmt.Errorf("importing task #%d (%q): %w", i+1, spec.Name, mapErr(err))
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Contact forwards a question to the organizers. taskID names the topic and
// may be empty or unknown.
func (s *Service) Contact(ctx context.Context, user int64, taskID, text string) error {
	e := notify.Event{Kind: notify.Question, UserID: user, Text: text, At: s.clock.Now()}
	if taskID != "" {
		t, err := s.reg.Resolve(ctx, taskID)
		switch {
		case err == nil:
			e.TaskID, e.TaskName = t.ID, t.Name
		case errors.Is(err, models.ErrNotFound):
		default:
			return mapErr(err)
		}
	}
	e.UserName = s.UserName(ctx, user)
	s.ann.Announce(e)
	return nil
}

// Broadcast sends text to every remembered user and returns how many
// recipients were handed to the transport.
func (s *Service) Broadcast(ctx context.Context, admin int64, text string) (int, error) {
	if err := s.admin(admin); err != nil {
		return 0, err
	}
	if s.bc == nil {
		return 0, errors.New("broadcast: no transport configured")
	}
	users, err := s.Users(ctx)
	if err != nil {
		return 0, err
	}
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	if err := s.bc.Broadcast(ctx, ids, text); err != nil {
		return 0, err
	}
	s.log.Info("broadcast queued", "admin", admin, "recipients", len(ids))
	return len(ids), nil
}

func (s *Service) Reconcile(ctx context.Context) (int, error) {
	n, err := s.board.Reconcile(ctx)
	return n, mapErr(err)
}
