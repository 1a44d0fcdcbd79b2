package access

import (
	"testing"
	"time"

	"ctf-bot/internal/models"
)

const (
	admin  int64 = 1
	tester int64 = 2
	player int64 = 3
)

func newTestGate() Gate {
	roles := NewRoles(map[int64]bool{admin: true}, map[int64]bool{tester: true, admin: true})
	return NewGate(1000, 2000, roles)
}

func TestRolesOf(t *testing.T) {
	g := newTestGate()
	cases := map[int64]models.Role{
		admin:  models.RoleAdmin,
		tester: models.RoleTester,
		player: models.RolePlayer,
	}
	for id, want := range cases {
		if got := g.Roles.Of(id); got != want {
			t.Fatalf("user %d: expected %v, got %v", id, want, got)
		}
	}
}

func TestDecide_Player(t *testing.T) {
	g := newTestGate()
	cases := []struct {
		at   int64
		want Decision
	}{
		{999, NotStarted},
		{1000, NotStarted},
		{1001, Open},
		{1999, Open},
		{2000, Ended},
		{5000, Ended},
	}
	for _, c := range cases {
		if got := g.Decide(time.Unix(c.at, 0), player); got != c.want {
			t.Fatalf("t=%d: expected %v, got %v", c.at, c.want, got)
		}
	}
}

func TestDecide_BypassRoles(t *testing.T) {
	g := newTestGate()
	for _, at := range []int64{0, 1500, 9999} {
		for _, id := range []int64{admin, tester} {
			if got := g.Decide(time.Unix(at, 0), id); got != Open {
				t.Fatalf("user %d at %d: expected open, got %v", id, at, got)
			}
		}
	}
}

func TestDecide_Unbounded(t *testing.T) {
	g := NewGate(0, 0, NewRoles(nil, nil))
	if got := g.Decide(time.Unix(0, 0), player); got != Open {
		t.Fatalf("expected open, got %v", got)
	}
	g = NewGate(0, 2000, NewRoles(nil, nil))
	if got := g.Decide(time.Unix(2500, 0), player); got != Ended {
		t.Fatalf("expected ended, got %v", got)
	}
}
