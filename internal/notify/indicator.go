// Package notify maintains the persistent status indicator shown while the
// task runs in foreground mode, and publishes it to interested sinks.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Default indicator text.
const (
	DefaultTitle     = "Background Service"
	DefaultContent   = "Running"
	PreparingContent = "Preparing"
)

// State is the indicator as published.
type State struct {
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Foreground bool      `json:"foreground"`
	Active     bool      `json:"active"`
	Visible    bool      `json:"visible"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Publisher delivers indicator states somewhere users can see them.
type Publisher interface {
	Publish(ctx context.Context, s State) error
}

// Indicator tracks the indicator text and visibility. It is visible while a
// task is active in foreground mode. Safe for concurrent use.
type Indicator struct {
	logger     *zap.Logger
	publishers []Publisher
	now        func() time.Time

	mu         sync.Mutex
	title      string
	content    string
	foreground bool
	active     bool
}

// NewIndicator returns an indicator in foreground mode with the default text.
func NewIndicator(logger *zap.Logger, publishers ...Publisher) *Indicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indicator{
		logger:     logger,
		publishers: publishers,
		now:        time.Now,
		title:      DefaultTitle,
		content:    DefaultContent,
		foreground: true,
	}
}

// SetInfo replaces the title and content.
func (i *Indicator) SetInfo(title, content string) {
	i.update(func() {
		i.title = title
		i.content = content
	})
}

// SetForeground switches foreground mode. Leaving it hides the indicator.
func (i *Indicator) SetForeground(foreground bool) {
	i.update(func() { i.foreground = foreground })
}

// TaskStarted shows the indicator with the preparing text.
func (i *Indicator) TaskStarted(foreground bool) {
	i.update(func() {
		i.active = true
		i.foreground = foreground
		i.content = PreparingContent
	})
}

// TaskStopped hides the indicator.
func (i *Indicator) TaskStopped() {
	i.update(func() { i.active = false })
}

// State returns the current indicator state.
func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stateLocked()
}

func (i *Indicator) stateLocked() State {
	return State{
		Title:      i.title,
		Content:    i.content,
		Foreground: i.foreground,
		Active:     i.active,
		Visible:    i.foreground && i.active,
		UpdatedAt:  i.now().UTC(),
	}
}

func (i *Indicator) update(fn func()) {
	i.mu.Lock()
	fn()
	s := i.stateLocked()
	i.mu.Unlock()

	for _, p := range i.publishers {
		if err := p.Publish(context.Background(), s); err != nil {
			i.logger.Warn("failed to publish indicator", zap.Error(err))
		}
	}
}

// LogPublisher writes indicator changes to the log.
type LogPublisher struct {
	Logger *zap.Logger
}

func (p LogPublisher) Publish(_ context.Context, s State) error {
	p.Logger.Info("indicator updated",
		zap.String("title", s.Title),
		zap.String("content", s.Content),
		zap.Bool("visible", s.Visible),
	)
	return nil
}
