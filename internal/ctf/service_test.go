package ctf

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ctf-bot/internal/access"
	"ctf-bot/internal/clock"
	"ctf-bot/internal/models"
	"ctf-bot/internal/notify"
	"ctf-bot/internal/store"
	"ctf-bot/internal/store/memstore"
)

const (
	adminID  int64 = 1
	testerID int64 = 2
	playerA  int64 = 10
	playerB  int64 = 11
)

var (
	eventStart = time.Date(2026, 6, 5, 10, 0, 0, 0, time.UTC)
	eventEnd   = time.Date(2026, 6, 7, 19, 0, 0, 0, time.UTC)
)

type recordingAnnouncer struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingAnnouncer) Announce(e notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

type recordingBroadcaster struct {
	users []int64
	text  string
}

func (r *recordingBroadcaster) Broadcast(_ context.Context, users []int64, text string) error {
	r.users, r.text = users, text
	return nil
}

type testService struct {
	*Service
	clock *clock.FakeClock
	ann   *recordingAnnouncer
	bc    *recordingBroadcaster
}

func newTestService(t *testing.T) *testService {
	t.Helper()
	return newTestServiceOn(t, memstore.New())
}

func newTestServiceOn(t *testing.T, st store.Store) *testService {
	t.Helper()
	roles := access.NewRoles(map[int64]bool{adminID: true}, map[int64]bool{testerID: true})
	clk := clock.Fake(eventStart.Add(time.Hour))
	ann := &recordingAnnouncer{}
	bc := &recordingBroadcaster{}
	svc := New(Deps{
		Store:         st,
		Gate:          access.NewGate(eventStart.Unix(), eventEnd.Unix(), roles),
		Announcer:     ann,
		Broadcaster:   bc,
		Clock:         clk,
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultPoints: 1,
	})
	return &testService{Service: svc, clock: clk, ann: ann, bc: bc}
}

func (ts *testService) create(t *testing.T, spec models.TaskSpec) string {
	t.Helper()
	id, err := ts.CreateTask(context.Background(), adminID, spec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func TestWindow_PlayersOutsideWindowAreRejected(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	id := ts.create(t, models.TaskSpec{Name: "x", Flags: []string{"f"}, Points: 5})

	for _, now := range []time.Time{eventStart.Add(-time.Minute), eventStart, eventEnd, eventEnd.Add(time.Hour)} {
		ts.clock.Set(now)
		if _, err := ts.Submit(ctx, playerA, id, "f"); !errors.Is(err, models.ErrWindowClosed) {
			t.Fatalf("at %v: expected ErrWindowClosed, got %v", now, err)
		}
		if _, err := ts.ListTasks(ctx, playerA); !errors.Is(err, models.ErrWindowClosed) {
			t.Fatalf("at %v: list: expected ErrWindowClosed, got %v", now, err)
		}
		if _, err := ts.Score(ctx, playerA); !errors.Is(err, models.ErrWindowClosed) {
			t.Fatalf("at %v: score: expected ErrWindowClosed, got %v", now, err)
		}
	}
	board, err := ts.Standings(ctx, time.Time{})
	if err != nil || len(board) != 0 {
		t.Fatalf("rejected submissions must not create solves: %+v (%v)", board, err)
	}
}

func TestWindow_TesterBypassesLikeInWindowPlayer(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	id := ts.create(t, models.TaskSpec{Name: "x", Flags: []string{"f"}, Points: 5})

	ts.clock.Set(eventStart.Add(-24 * time.Hour))
	early, err := ts.Submit(ctx, testerID, id, "f")
	if err != nil {
		t.Fatalf("tester submit: %v", err)
	}
	ts.clock.Set(eventStart.Add(time.Hour))
	inWindow, err := ts.Submit(ctx, playerA, id, "f")
	if err != nil {
		t.Fatalf("player submit: %v", err)
	}
	if early.Outcome != inWindow.Outcome || early.Points != inWindow.Points {
		t.Fatalf("tester %+v and player %+v differ", early, inWindow)
	}
	if ts.Window(testerID) != access.Open || ts.Window(adminID) != access.Open {
		t.Fatal("testers and admins are never gated")
	}
}

func TestAdminOperationsRequireAdmin(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	spec := models.TaskSpec{Name: "x", Flags: []string{"f"}}
	for _, user := range []int64{testerID, playerA} {
		if _, err := ts.CreateTask(ctx, user, spec); !errors.Is(err, models.ErrPermissionDenied) {
			t.Fatalf("create by %d: expected ErrPermissionDenied, got %v", user, err)
		}
		if err := ts.DeleteTask(ctx, user, "x"); !errors.Is(err, models.ErrPermissionDenied) {
			t.Fatalf("delete by %d: expected ErrPermissionDenied, got %v", user, err)
		}
		if _, err := ts.Board(ctx, user, time.Time{}); !errors.Is(err, models.ErrPermissionDenied) {
			t.Fatalf("board by %d: expected ErrPermissionDenied, got %v", user, err)
		}
		if _, err := ts.Broadcast(ctx, user, "hi"); !errors.Is(err, models.ErrPermissionDenied) {
			t.Fatalf("broadcast by %d: expected ErrPermissionDenied, got %v", user, err)
		}
	}
}

func TestListTasks_VisibilityAndSolvedFlag(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	visible := ts.create(t, models.TaskSpec{Name: "a", Flags: []string{"fa"}, Points: 1})
	ts.create(t, models.TaskSpec{Name: "b", Flags: []string{"fb"}, Points: 1, Hidden: true})
	gone := ts.create(t, models.TaskSpec{Name: "c", Flags: []string{"fc"}, Points: 1})
	other := ts.create(t, models.TaskSpec{Name: "d", Flags: []string{"fd"}, Points: 1})

	if _, err := ts.Submit(ctx, playerA, visible, "fa"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := ts.DeleteTask(ctx, adminID, gone); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, user := range []int64{playerA, testerID, adminID} {
		list, err := ts.ListTasks(ctx, user)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(list) != 2 || list[0].ID != visible || list[1].ID != other {
			t.Fatalf("user %d: unexpected list %+v", user, list)
		}
		if list[0].Solved != (user == playerA) || list[1].Solved {
			t.Fatalf("user %d: wrong solved flags %+v", user, list)
		}
	}
}

func TestDeletedTaskKeepsScore(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	id := ts.create(t, models.TaskSpec{Name: "x", Flags: []string{"f"}, Points: 40})
	if _, err := ts.Submit(ctx, playerA, id, "f"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	before, _ := ts.Score(ctx, playerA)
	if err := ts.DeleteTask(ctx, adminID, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	after, _ := ts.Score(ctx, playerA)
	if before != after || after.Total != 40 || after.Rank != 1 {
		t.Fatalf("score changed after delete: %+v -> %+v", before, after)
	}
	res, err := ts.Submit(ctx, playerB, id, "f")
	if err != nil || res.Outcome != models.TaskDeleted {
		t.Fatalf("expected TaskDeleted, got %+v (%v)", res, err)
	}
}

func TestSubmitFlag(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	id := ts.create(t, models.TaskSpec{Name: "egg", Flags: []string{"CTF{egg}"}, Points: 3, Hidden: true})

	res, err := ts.SubmitFlag(ctx, playerA, "CTF{egg}")
	if err != nil || res.Outcome != models.Correct || res.TaskID != id {
		t.Fatalf("expected Correct on %s, got %+v (%v)", id, res, err)
	}
	res, _ = ts.SubmitFlag(ctx, playerA, "CTF{egg}")
	if res.Outcome != models.AlreadySolved {
		t.Fatalf("expected AlreadySolved, got %v", res.Outcome)
	}
	res, _ = ts.SubmitFlag(ctx, playerA, "hello")
	if res.Outcome != models.Incorrect {
		t.Fatalf("expected Incorrect, got %v", res.Outcome)
	}
}

func TestScore_TesterIsUnranked(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	id := ts.create(t, models.TaskSpec{Name: "x", Flags: []string{"f"}, Points: 10})
	for _, u := range []int64{testerID, playerA} {
		if _, err := ts.Submit(ctx, u, id, "f"); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	view, err := ts.Score(ctx, testerID)
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if view.Ranked || view.Total != 10 {
		t.Fatalf("tester must be unranked with total 10, got %+v", view)
	}
	board, _ := ts.Board(ctx, adminID, time.Time{})
	if len(board) != 1 || board[0].UserID != playerA {
		t.Fatalf("board must only rank players, got %+v", board)
	}
}

func TestContactAndBroadcast(t *testing.T) {
	ts := newTestService(t)
	ctx := context.Background()
	id := ts.create(t, models.TaskSpec{Name: "crypto", Flags: []string{"f"}})
	for _, u := range []models.User{{ID: playerB, FirstName: "Bo"}, {ID: playerA, Username: "al"}} {
		if err := ts.RememberUser(ctx, u); err != nil {
			t.Fatalf("remember: %v", err)
		}
	}

	if err := ts.Contact(ctx, playerA, id, "stuck"); err != nil {
		t.Fatalf("contact: %v", err)
	}
	if err := ts.Contact(ctx, playerB, "nope", "hi"); err != nil {
		t.Fatalf("contact with unknown topic: %v", err)
	}
	if len(ts.ann.events) != 2 {
		t.Fatalf("expected 2 question events, got %+v", ts.ann.events)
	}
	q := ts.ann.events[0]
	if q.Kind != notify.Question || q.TaskName != "crypto" || q.UserName != "@al" || q.Text != "stuck" {
		t.Fatalf("unexpected question %+v", q)
	}
	if ts.ann.events[1].TaskID != "" {
		t.Fatalf("unknown topics are dropped, got %+v", ts.ann.events[1])
	}

	n, err := ts.Broadcast(ctx, adminID, "news")
	if err != nil || n != 2 {
		t.Fatalf("broadcast: %d (%v)", n, err)
	}
	if ts.bc.text != "news" || ts.bc.users[0] != playerA || ts.bc.users[1] != playerB {
		t.Fatalf("unexpected broadcast %+v", ts.bc)
	}
}

type downStore struct{ *memstore.Store }

func (downStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, store.Unavailable("get", errors.New("dial tcp: connection refused"))
}

func (downStore) Keys(context.Context, string) ([]string, error) {
	return nil, store.Unavailable("keys", errors.New("dial tcp: connection refused"))
}

func TestStoreFailuresMapToStorageUnavailable(t *testing.T) {
	ts := newTestServiceOn(t, downStore{memstore.New()})
	ctx := context.Background()
	if _, err := ts.Submit(ctx, playerA, "abc", "f"); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("submit: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := ts.SubmitFlag(ctx, playerA, "f"); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("submit flag: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := ts.ListTasks(ctx, playerA); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("list: expected ErrStorageUnavailable, got %v", err)
	}
	if _, err := ts.Score(ctx, playerA); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("score: expected ErrStorageUnavailable, got %v", err)
	}
}
