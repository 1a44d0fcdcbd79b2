package tgbot

import (
	"context"
	"fmt"
	"strings"

	"ctf-bot/internal/store"
)

// Conversation states. Task-scoped ones carry the id after a colon,
// e.g. "edit:1a2b3c4d" or "contact:1a2b3c4d".
const (
	flowCreate  = "create"
	flowEdit    = "edit"
	flowContact = "contact"
	flowMessage = "message"
)

// sessions keeps per-user flow state in the store so a restart or a second
// bot instance continues the conversation.
type sessions struct {
	st store.Store
}

func (s sessions) get(ctx context.Context, user int64) (flow, arg string, err error) {
	raw, ok, err := s.st.Get(ctx, store.StateKey(user))
	if err != nil || !ok {
		return "", "", err
	}
	flow, arg, _ = strings.Cut(string(raw), ":")
	return flow, arg, nil
}

func (s sessions) set(ctx context.Context, user int64, flow, arg string) error {
	v := flow
	if arg != "" {
		v += ":" + arg
	}
	return s.st.Set(ctx, store.StateKey(user), []byte(v))
}

// reset drops the flow and any unfinished draft.
func (s sessions) reset(ctx context.Context, user int64) error {
	if err := s.st.Delete(ctx, store.StateKey(user)); err != nil {
		return err
	}
	return s.st.Delete(ctx, store.DraftKey(user))
}

// appendDraft adds one message to the user's draft.
func (s sessions) appendDraft(ctx context.Context, user int64, text string) error {
	key := store.DraftKey(user)
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		cur, ok, err := s.st.Get(ctx, key)
		if err != nil {
			return err
		}
		next := []byte(text)
		var expected []byte
		if ok {
			expected = cur
			next = []byte(string(cur) + "\n" + text)
		}
		swapped, err := s.st.CompareAndSet(ctx, key, expected, next)
		if err != nil {
			return err
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("draft of %d: %w", user, store.ErrConflict)
}

// takeDraft returns the draft and clears the flow.
func (s sessions) takeDraft(ctx context.Context, user int64) (string, error) {
	raw, _, err := s.st.Get(ctx, store.DraftKey(user))
	if err != nil {
		return "", err
	}
	if err := s.reset(ctx, user); err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}
