package models

import "time"

type TaskState string

const (
	StateDraft   TaskState = "draft"
	StateActive  TaskState = "active"
	StateDeleted TaskState = "deleted"
)

// Task is the stored form of a challenge. Flags are compared verbatim.
type Task struct {
	ID          string    `cbor:"id" yaml:"id"`
	Name        string    `cbor:"name" yaml:"name"`
	Description string    `cbor:"description" yaml:"description"`
	Flags       []string  `cbor:"flags" yaml:"flags"`
	Points      int       `cbor:"points" yaml:"points"`
	Hidden      bool      `cbor:"hidden" yaml:"hidden"`
	State       TaskState `cbor:"state" yaml:"state"`
	CreatedAt   time.Time `cbor:"created_at" yaml:"created_at"`
	UpdatedAt   time.Time `cbor:"updated_at" yaml:"updated_at"`
}

func (t Task) Deleted() bool { return t.State == StateDeleted }

// Listed reports whether players may see the task in listings.
func (t Task) Listed() bool { return t.State == StateActive && !t.Hidden }

// Accepts reports whether flag equals one of the accepted flags exactly.
func (t Task) Accepts(flag string) bool {
	for _, f := range t.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

func (t Task) Summary() TaskSummary {
	return TaskSummary{
		ID:          t.ID,
		Name:        t.Name,
		Description: t.Description,
		Points:      t.Points,
		Hidden:      t.Hidden,
		State:       t.State,
	}
}

// TaskSpec is the input of task creation.
type TaskSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Flags       []string `yaml:"flags"`
	Points      int      `yaml:"points"`
	Hidden      bool     `yaml:"hidden"`
	Draft       bool     `yaml:"draft"`
}

// TaskPatch is a partial update; nil fields are left untouched.
type TaskPatch struct {
	Name        *string
	Description *string
	Flags       []string
	Points      *int
	Hidden      *bool
	Draft       *bool
}

// PatchFromSpec builds a patch that replaces every field of a task with spec.
func PatchFromSpec(spec TaskSpec) TaskPatch {
	p := TaskPatch{
		Name:        &spec.Name,
		Description: &spec.Description,
		Flags:       spec.Flags,
		Points:      &spec.Points,
		Hidden:      &spec.Hidden,
		Draft:       &spec.Draft,
	}
	return p
}

type TaskSummary struct {
	ID          string
	Name        string
	Description string
	Points      int
	Hidden      bool
	State       TaskState
	Solved      bool
}

// Solve is the record of a first correct submission. Points is the task value
// at the moment the solve was committed.
type Solve struct {
	UserID int64     `cbor:"user_id"`
	TaskID string    `cbor:"task_id"`
	Points int       `cbor:"points"`
	At     time.Time `cbor:"at"`
}

type Role int

const (
	RolePlayer Role = iota
	RoleTester
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleTester:
		return "tester"
	case RoleAdmin:
		return "admin"
	default:
		return "player"
	}
}

// Ranked reports whether the role takes part in the standings.
func (r Role) Ranked() bool { return r == RolePlayer }

// User is the profile remembered from chat interactions.
type User struct {
	ID        int64  `cbor:"id"`
	FirstName string `cbor:"first_name"`
	Username  string `cbor:"username"`
}

func (u User) DisplayName() string {
	switch {
	case u.Username != "" && u.FirstName != "":
		return u.FirstName + " (@" + u.Username + ")"
	case u.Username != "":
		return "@" + u.Username
	case u.FirstName != "":
		return u.FirstName
	default:
		return "id" + itoa(u.ID)
	}
}

type Outcome int

const (
	Correct Outcome = iota + 1
	AlreadySolved
	Incorrect
	TaskNotFound
	TaskDeleted
)

func (o Outcome) String() string {
	switch o {
	case Correct:
		return "correct"
	case AlreadySolved:
		return "already_solved"
	case Incorrect:
		return "incorrect"
	case TaskNotFound:
		return "task_not_found"
	case TaskDeleted:
		return "task_deleted"
	default:
		return "unknown"
	}
}

type SubmitResult struct {
	Outcome  Outcome
	Points   int
	TaskID   string
	TaskName string
	Hidden   bool
	At       time.Time
}

// Standing is one row of the scoreboard.
type Standing struct {
	Position  int
	UserID    int64
	Total     int
	Solves    int
	ReachedAt time.Time
}

type ScoreView struct {
	Total  int
	Rank   int
	Ranked bool
}
