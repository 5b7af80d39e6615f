package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/keepalive/internal/keepalive"
)

// NewHandle returns a TaskHandle with sensible defaults, suitable for test
// fixtures. Override individual fields with options.
func NewHandle(opts ...func(*keepalive.TaskHandle)) keepalive.TaskHandle {
	h := keepalive.TaskHandle{
		ID:           "task-" + uuid.NewString()[:8],
		Foreground:   true,
		RegisteredAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(&h)
	}
	return h
}

// WithHandleID sets the handle ID.
func WithHandleID(id string) func(*keepalive.TaskHandle) {
	return func(h *keepalive.TaskHandle) { h.ID = id }
}

// WithForeground sets the foreground flag.
func WithForeground(fg bool) func(*keepalive.TaskHandle) {
	return func(h *keepalive.TaskHandle) { h.Foreground = fg }
}

// WithRegisteredAt sets the registration time.
func WithRegisteredAt(t time.Time) func(*keepalive.TaskHandle) {
	return func(h *keepalive.TaskHandle) { h.RegisteredAt = t }
}
