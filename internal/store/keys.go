package store

import (
	"strconv"
	"strings"
)

// Key space. The solve set under SolvePrefix is the source of truth for
// scores; total:<user> is a derived cache.
const (
	TaskPrefix  = "task:"
	SolvePrefix = "solve:"
	TotalPrefix = "total:"
	UserPrefix  = "user:"
	StatePrefix = "state:"
	DraftPrefix = "draft:"
)

func TaskKey(id string) string { return TaskPrefix + id }

func SolveKey(userID int64, taskID string) string {
	return SolvePrefix + strconv.FormatInt(userID, 10) + ":" + taskID
}

// UserSolvePrefix lists all solves of one user.
func UserSolvePrefix(userID int64) string {
	return SolvePrefix + strconv.FormatInt(userID, 10) + ":"
}

func TotalKey(userID int64) string { return TotalPrefix + strconv.FormatInt(userID, 10) }

func UserKey(userID int64) string { return UserPrefix + strconv.FormatInt(userID, 10) }

func StateKey(userID int64) string { return StatePrefix + strconv.FormatInt(userID, 10) }

func DraftKey(userID int64) string { return DraftPrefix + strconv.FormatInt(userID, 10) }

// TrimPrefix returns the part of key after prefix.
func TrimPrefix(key, prefix string) string { return strings.TrimPrefix(key, prefix) }

// ParseUserID extracts the numeric id of user-scoped keys such as
// "user:42" or "total:42".
func ParseUserID(key, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
