package models

import (
	"errors"
	"strconv"
)

var (
	ErrValidation         = errors.New("invalid task")
	ErrNotFound           = errors.New("not found")
	ErrTaskDeleted        = errors.New("task deleted")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrWindowClosed       = errors.New("event window closed")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
