// Package access resolves chat users to roles and decides whether the
// event window is open for them.
package access

import (
	"time"

	"ctf-bot/internal/models"
)

// Roles is built once from the configured id lists and never mutated.
type Roles struct {
	admins  map[int64]bool
	testers map[int64]bool
}

func NewRoles(admins, testers map[int64]bool) Roles {
	r := Roles{admins: map[int64]bool{}, testers: map[int64]bool{}}
	for id, ok := range admins {
		if ok {
			r.admins[id] = true
		}
	}
	for id, ok := range testers {
		if ok {
			r.testers[id] = true
		}
	}
	return r
}

// Of returns the role of user. Admin wins over tester.
func (r Roles) Of(user int64) models.Role {
	switch {
	case r.admins[user]:
		return models.RoleAdmin
	case r.testers[user]:
		return models.RoleTester
	default:
		return models.RolePlayer
	}
}

type Decision int

const (
	Open Decision = iota
	NotStarted
	Ended
)

func (d Decision) String() string {
	switch d {
	case NotStarted:
		return "not_started"
	case Ended:
		return "ended"
	default:
		return "open"
	}
}

// Gate is the event window. A zero Start or End leaves that side unbounded.
// The window is open strictly between Start and End.
type Gate struct {
	Start time.Time
	End   time.Time
	Roles Roles
}

func NewGate(startUnix, endUnix int64, roles Roles) Gate {
	g := Gate{Roles: roles}
	if startUnix > 0 {
		g.Start = time.Unix(startUnix, 0)
	}
	if endUnix > 0 {
		g.End = time.Unix(endUnix, 0)
	}
	return g
}

// Decide is a pure function of the configuration, now and the user's role.
// Testers and admins always get Open.
func (g Gate) Decide(now time.Time, user int64) Decision {
	if g.Roles.Of(user) != models.RolePlayer {
		return Open
	}
	if !g.Start.IsZero() && !now.After(g.Start) {
		return NotStarted
	}
	if !g.End.IsZero() && !now.Before(g.End) {
		return Ended
	}
	return Open
}
