// Package tasks owns task definitions. Every mutation is an optimistic
// compare-and-set on the single task record, so concurrent edits of one task
// serialize through the store while unrelated tasks never contend.
package tasks

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"ctf-bot/internal/clock"
	"ctf-bot/internal/codec"
	"ctf-bot/internal/models"
	"ctf-bot/internal/store"
)

type Visibility int

const (
	// Players lists active, non-hidden tasks.
	Players Visibility = iota
	// Everything includes hidden, draft and deleted tasks. Admins only.
	Everything
)

type Registry struct {
	st    store.Store
	clock clock.Clock
	newID func() string
}

func NewRegistry(st store.Store, clk clock.Clock) *Registry {
	return &Registry{st: st, clock: clk, newID: shortID}
}

// shortID is the first group of a random UUID: eight hex characters, short
// enough to type in a /contact_<id> command.
func shortID() string {
	return strings.SplitN(uuid.NewString(), "-", 2)[0]
}

// Normalize trims names and flags and drops empty flags. Flag case is kept.
func Normalize(spec models.TaskSpec) models.TaskSpec {
	spec.Name = strings.TrimSpace(spec.Name)
	spec.Description = strings.TrimSpace(spec.Description)
	flags := make([]string, 0, len(spec.Flags))
	seen := map[string]bool{}
	for _, f := range spec.Flags {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		flags = append(flags, f)
	}
	spec.Flags = flags
	return spec
}

// Validate expects a normalized spec.
func Validate(spec models.TaskSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("%w: name is empty", models.ErrValidation)
	}
	if len(spec.Flags) == 0 {
		return fmt.Errorf("%w: at least one flag is required", models.ErrValidation)
	}
	if spec.Points < 0 {
		return fmt.Errorf("%w: points must not be negative", models.ErrValidation)
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, spec models.TaskSpec) (string, error) {
	spec = Normalize(spec)
	if err := Validate(spec); err != nil {
		return "", err
	}
	now := r.clock.Now()
	task := models.Task{
		Name:        spec.Name,
		Description: spec.Description,
		Flags:       spec.Flags,
		Points:      spec.Points,
		Hidden:      spec.Hidden,
		State:       models.StateActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if spec.Draft {
		task.State = models.StateDraft
	}
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		task.ID = r.newID()
		raw, err := codec.Marshal(task)
		if err != nil {
			return "", fmt.Errorf("creating task: %w", err)
		}
		ok, err := r.st.CompareAndSet(ctx, store.TaskKey(task.ID), nil, raw)
		if err != nil {
			return "", fmt.Errorf("creating task: %w", err)
		}
		if ok {
			return task.ID, nil
		}
	}
	return "", fmt.Errorf("creating task: no free id after %d attempts", store.MaxAttempts)
}

// Edit applies patch to a live task. Unknown and deleted tasks are
// reported as models.ErrNotFound.
func (r *Registry) Edit(ctx context.Context, id string, patch models.TaskPatch) error {
	return r.mutate(ctx, id, func(t *models.Task) (bool, error) {
		if t.Deleted() {
			return false, fmt.Errorf("editing task %s: %w", id, models.ErrNotFound)
		}
		spec := models.TaskSpec{
			Name:        t.Name,
			Description: t.Description,
			Flags:       t.Flags,
			Points:      t.Points,
			Hidden:      t.Hidden,
			Draft:       t.State == models.StateDraft,
		}
		if patch.Name != nil {
			spec.Name = *patch.Name
		}
		if patch.Description != nil {
			spec.Description = *patch.Description
		}
		if patch.Flags != nil {
			spec.Flags = patch.Flags
		}
		if patch.Points != nil {
			spec.Points = *patch.Points
		}
		if patch.Hidden != nil {
			spec.Hidden = *patch.Hidden
		}
		if patch.Draft != nil {
			spec.Draft = *patch.Draft
		}
		spec = Normalize(spec)
		if err := Validate(spec); err != nil {
			return false, err
		}
		t.Name = spec.Name
		t.Description = spec.Description
		t.Flags = spec.Flags
		t.Points = spec.Points
		t.Hidden = spec.Hidden
		t.State = models.StateActive
		if spec.Draft {
			t.State = models.StateDraft
		}
		t.UpdatedAt = r.clock.Now()
		return true, nil
	})
}

// Delete tombstones a task. Deleting a deleted task is a no-op.
func (r *Registry) Delete(ctx context.Context, id string) error {
	return r.mutate(ctx, id, func(t *models.Task) (bool, error) {
		if t.Deleted() {
			return false, nil
		}
		t.State = models.StateDeleted
		t.UpdatedAt = r.clock.Now()
		return true, nil
	})
}

// mutate is a read-modify-compare-and-set loop on one task record. apply
// returns false when there is nothing to write.
func (r *Registry) mutate(ctx context.Context, id string, apply func(t *models.Task) (bool, error)) error {
	key := store.TaskKey(id)
	for attempt := 0; attempt < store.MaxAttempts; attempt++ {
		raw, ok, err := r.st.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("loading task %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("task %s: %w", id, models.ErrNotFound)
		}
		var t models.Task
		if err := codec.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("decoding task %s: %w", id, err)
		}
		changed, err := apply(&t)
		if err != nil || !changed {
			return err
		}
		next, err := codec.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding task %s: %w", id, err)
		}
		swapped, err := r.st.CompareAndSet(ctx, key, raw, next)
		if err != nil {
			return fmt.Errorf("saving task %s: %w", id, err)
		}
		if swapped {
			return nil
		}
	}
	return fmt.Errorf("task %s: %w", id, store.ErrConflict)
}

// Resolve returns the task including tombstoned ones; callers check
// Deleted().
func (r *Registry) Resolve(ctx context.Context, id string) (models.Task, error) {
	if strings.TrimSpace(id) == "" {
		return models.Task{}, fmt.Errorf("task: %w", models.ErrNotFound)
	}
	raw, ok, err := r.st.Get(ctx, store.TaskKey(id))
	if err != nil {
		return models.Task{}, fmt.Errorf("loading task %s: %w", id, err)
	}
	if !ok {
		return models.Task{}, fmt.Errorf("task %s: %w", id, models.ErrNotFound)
	}
	var t models.Task
	if err := codec.Unmarshal(raw, &t); err != nil {
		return models.Task{}, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return t, nil
}

// List returns tasks sorted by name. Only admins get the Everything view;
// anyone else asking for it receives the player view.
func (r *Registry) List(ctx context.Context, vis Visibility, role models.Role) ([]models.Task, error) {
	all, err := r.all(ctx)
	if err != nil {
		return nil, err
	}
	unfiltered := vis == Everything && role == models.RoleAdmin
	out := make([]models.Task, 0, len(all))
	for _, t := range all {
		if unfiltered || t.Listed() {
			out = append(out, t)
		}
	}
	return out, nil
}

// FindByFlag returns the task accepting flag. Live tasks (hidden included)
// win over deleted ones; drafts never match.
func (r *Registry) FindByFlag(ctx context.Context, flag string) (models.Task, error) {
	all, err := r.all(ctx)
	if err != nil {
		return models.Task{}, err
	}
	var deleted *models.Task
	for i, t := range all {
		if t.State == models.StateDraft || !t.Accepts(flag) {
			continue
		}
		if !t.Deleted() {
			return t, nil
		}
		if deleted == nil {
			deleted = &all[i]
		}
	}
	if deleted != nil {
		return *deleted, nil
	}
	return models.Task{}, fmt.Errorf("flag: %w", models.ErrNotFound)
}

func (r *Registry) all(ctx context.Context) ([]models.Task, error) {
	keys, err := r.st.Keys(ctx, store.TaskPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	out := make([]models.Task, 0, len(keys))
	for _, k := range keys {
		raw, ok, err := r.st.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("listing tasks: %w", err)
		}
		if !ok {
			// deleted from the store between Keys and Get
			continue
		}
		var t models.Task
		if err := codec.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", k, err)
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
