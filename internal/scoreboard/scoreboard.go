// Package scoreboard derives standings from the committed solve set. It
// never writes solves; the cached totals it can rebuild are advisory.
package scoreboard

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"ctf-bot/internal/codec"
	"ctf-bot/internal/models"
	"ctf-bot/internal/store"
)

type Board struct {
	st store.Store
	// unranked users are left out of the standings.
	unranked func(user int64) bool
}

func New(st store.Store, unranked func(user int64) bool) *Board {
	if unranked == nil {
		unranked = func(int64) bool { return false }
	}
	return &Board{st: st, unranked: unranked}
}

// solves loads every solve under prefix.
func (b *Board) solves(ctx context.Context, prefix string) ([]models.Solve, error) {
	keys, err := b.st.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing solves: %w", err)
	}
	out := make([]models.Solve, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := b.st.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("loading solve: %w", err)
		}
		if !ok {
			continue
		}
		var s models.Solve
		if err := codec.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", k, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// UserSolves returns the solves of one user, oldest first.
func (b *Board) UserSolves(ctx context.Context, user int64) ([]models.Solve, error) {
	out, err := b.solves(ctx, store.UserSolvePrefix(user))
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

type tally struct {
	total   int
	solves  int
	reached time.Time
	first   time.Time
}

func (t *tally) add(s models.Solve) {
	t.total += s.Points
	t.solves++
	if t.first.IsZero() || s.At.Before(t.first) {
		t.first = s.At
	}
	if s.Points > 0 && s.At.After(t.reached) {
		t.reached = s.At
	}
}

// reachedAt is when the user got to their current total: the last solve
// that added points, or the first solve when none did.
func (t *tally) reachedAt() time.Time {
	if t.reached.IsZero() {
		return t.first
	}
	return t.reached
}

// ahead reports whether a outranks b.
func ahead(a *tally, aID int64, b *tally, bID int64) bool {
	if a.total != b.total {
		return a.total > b.total
	}
	ar, br := a.reachedAt(), b.reachedAt()
	if !ar.Equal(br) {
		return ar.Before(br)
	}
	return aID < bID
}

func (b *Board) tallies(ctx context.Context, asOf time.Time) (map[int64]*tally, error) {
	all, err := b.solves(ctx, store.SolvePrefix)
	if err != nil {
		return nil, err
	}
	out := map[int64]*tally{}
	for _, s := range all {
		if b.unranked(s.UserID) {
			continue
		}
		if !asOf.IsZero() && s.At.After(asOf) {
			continue
		}
		t := out[s.UserID]
		if t == nil {
			t = &tally{}
			out[s.UserID] = t
		}
		t.add(s)
	}
	return out, nil
}

// Rank returns the standings counting solves committed at or before asOf.
// A zero asOf counts everything.
func (b *Board) Rank(ctx context.Context, asOf time.Time) ([]models.Standing, error) {
	tallies, err := b.tallies(ctx, asOf)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(tallies))
	for id := range tallies {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ahead(tallies[ids[i]], ids[i], tallies[ids[j]], ids[j])
	})
	out := make([]models.Standing, len(ids))
	for i, id := range ids {
		t := tallies[id]
		out[i] = models.Standing{
			Position:  i + 1,
			UserID:    id,
			Total:     t.total,
			Solves:    t.solves,
			ReachedAt: t.reachedAt(),
		}
	}
	return out, nil
}

// UserRank counts the users ahead of user instead of sorting the board.
// Unranked users get Ranked=false and Rank 0; a ranked user without solves
// is placed after everyone who has one.
func (b *Board) UserRank(ctx context.Context, user int64) (models.ScoreView, error) {
	if b.unranked(user) {
		own, err := b.UserSolves(ctx, user)
		if err != nil {
			return models.ScoreView{}, err
		}
		total := 0
		for _, s := range own {
			total += s.Points
		}
		return models.ScoreView{Total: total}, nil
	}
	tallies, err := b.tallies(ctx, time.Time{})
	if err != nil {
		return models.ScoreView{}, err
	}
	mine, ok := tallies[user]
	if !ok {
		return models.ScoreView{Rank: len(tallies) + 1, Ranked: true}, nil
	}
	rank := 1
	for id, t := range tallies {
		if id != user && ahead(t, id, mine, user) {
			rank++
		}
	}
	return models.ScoreView{Total: mine.total, Rank: rank, Ranked: true}, nil
}

// Reconcile rewrites every total:<user> counter from the solve set and
// returns how many counters it wrote. Unranked users are included.
func (b *Board) Reconcile(ctx context.Context) (int, error) {
	all, err := b.solves(ctx, store.SolvePrefix)
	if err != nil {
		return 0, err
	}
	totals := map[int64]int{}
	for _, s := range all {
		totals[s.UserID] += s.Points
	}
	stale, err := b.st.Keys(ctx, store.TotalPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing totals: %w", err)
	}
	for _, k := range stale {
		if id, ok := store.ParseUserID(k, store.TotalPrefix); ok {
			if _, seen := totals[id]; !seen {
				totals[id] = 0
			}
		}
	}
	for id, total := range totals {
		if err := b.st.Set(ctx, store.TotalKey(id), []byte(strconv.Itoa(total))); err != nil {
			return 0, fmt.Errorf("writing total of %d: %w", id, err)
		}
	}
	return len(totals), nil
}
