package keepalive

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/HerbHall/keepalive/internal/services"
)

// TaskHandle identifies the work to execute on every (re)start.
type TaskHandle struct {
	ID           string    `json:"handle"`
	Foreground   bool      `json:"is_foreground_mode"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Settings keys used by SettingsHandleStore.
const (
	keyHandle       = "keepalive.callback_handle"
	keyForeground   = "keepalive.is_foreground"
	keyRegisteredAt = "keepalive.registered_at"
)

// Compile-time interface guard.
var _ HandleStore = (*SettingsHandleStore)(nil)

// SettingsHandleStore keeps the task handle in the durable settings table.
type SettingsHandleStore struct {
	settings services.SettingsRepository
}

// NewSettingsHandleStore wraps a settings repository.
func NewSettingsHandleStore(settings services.SettingsRepository) *SettingsHandleStore {
	return &SettingsHandleStore{settings: settings}
}

// Load reads the handle. A missing foreground flag defaults to true.
func (s *SettingsHandleStore) Load(ctx context.Context) (TaskHandle, error) {
	id, err := s.settings.Get(ctx, keyHandle)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return TaskHandle{}, ErrNoHandle
		}
		return TaskHandle{}, fmt.Errorf("load task handle: %w", err)
	}
	if id.Value == "" {
		return TaskHandle{}, ErrNoHandle
	}

	h := TaskHandle{ID: id.Value, Foreground: true}

	fg, err := s.settings.Get(ctx, keyForeground)
	switch {
	case err == nil:
		v, perr := strconv.ParseBool(fg.Value)
		if perr != nil {
			return TaskHandle{}, fmt.Errorf("parse %s=%q: %w", keyForeground, fg.Value, perr)
		}
		h.Foreground = v
	case !errors.Is(err, services.ErrNotFound):
		return TaskHandle{}, fmt.Errorf("load foreground flag: %w", err)
	}

	if ts, err := s.settings.Get(ctx, keyRegisteredAt); err == nil {
		h.RegisteredAt, _ = time.Parse(time.RFC3339Nano, ts.Value)
	}

	return h, nil
}

// Save writes all handle fields in one transaction.
func (s *SettingsHandleStore) Save(ctx context.Context, h TaskHandle) error {
	err := s.settings.SetMany(ctx, map[string]string{
		keyHandle:       h.ID,
		keyForeground:   strconv.FormatBool(h.Foreground),
		keyRegisteredAt: h.RegisteredAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("save task handle: %w", err)
	}
	return nil
}

// Clear removes the handle and its attributes.
func (s *SettingsHandleStore) Clear(ctx context.Context) error {
	err := s.settings.Delete(ctx, keyHandle, keyForeground, keyRegisteredAt)
	if err != nil && !errors.Is(err, services.ErrNotFound) {
		return fmt.Errorf("clear task handle: %w", err)
	}
	return nil
}
