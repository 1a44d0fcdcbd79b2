package ctf

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"ctf-bot/internal/codec"
	"ctf-bot/internal/models"
	"ctf-bot/internal/store"
)

// RememberUser stores the chat profile of u so broadcasts and the board can
// reach and name them. Unchanged profiles are not rewritten.
func (s *Service) RememberUser(ctx context.Context, u models.User) error {
	raw, err := codec.Marshal(u)
	if err != nil {
		return fmt.Errorf("encoding user: %w", err)
	}
	key := store.UserKey(u.ID)
	cur, ok, err := s.st.Get(ctx, key)
	if err != nil {
		return mapErr(err)
	}
	if ok && string(cur) == string(raw) {
		return nil
	}
	return mapErr(s.st.Set(ctx, key, raw))
}

// Users returns every remembered user ordered by id.
func (s *Service) Users(ctx context.Context) ([]models.User, error) {
	keys, err := s.st.Keys(ctx, store.UserPrefix)
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]models.User, 0, len(keys))
	for _, k := range keys {
		u, ok, err := s.user(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UserName is the display name of a remembered user, or their id.
func (s *Service) UserName(ctx context.Context, id int64) string {
	u, ok, err := s.user(ctx, store.UserKey(id))
	if err != nil || !ok {
		return "id" + strconv.FormatInt(id, 10)
	}
	return u.DisplayName()
}

func (s *Service) user(ctx context.Context, key string) (models.User, bool, error) {
	raw, ok, err := s.st.Get(ctx, key)
	if err != nil {
		return models.User{}, false, mapErr(err)
	}
	if !ok {
		return models.User{}, false, nil
	}
	var u models.User
	if err := codec.Unmarshal(raw, &u); err != nil {
		return models.User{}, false, fmt.Errorf("decoding %s: %w", key, err)
	}
	return u, true, nil
}
