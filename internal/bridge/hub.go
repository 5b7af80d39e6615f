package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/keepalive"
	"github.com/HerbHall/keepalive/internal/metrics"
)

// portBuffer bounds data queued for the task. Data beyond it is dropped.
const portBuffer = 64

// Controller is the supervisor surface the bridge drives.
type Controller interface {
	Register(ctx context.Context, handleID string, foreground bool) (keepalive.TaskHandle, error)
	RequestRun(ctx context.Context) keepalive.Outcome
	SetForegroundMode(ctx context.Context, foreground bool) (keepalive.TaskHandle, error)
}

// Indicator is the status indicator the task controls.
type Indicator interface {
	SetInfo(title, content string)
	SetForeground(foreground bool)
}

// Hub routes commands between foreground clients, the task and the supervisor.
type Hub struct {
	ctrl      Controller
	indicator Indicator
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.RWMutex
	clients map[string]chan json.RawMessage
	port    *Port
}

// SetController replaces the controller. It lets the hub be built before the
// supervisor whose executor attaches tasks to it.
func (h *Hub) SetController(ctrl Controller) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctrl = ctrl
}

func (h *Hub) controller() (Controller, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.ctrl == nil {
		return nil, errors.New("bridge: no controller bound")
	}
	return h.ctrl, nil
}

// NewHub creates a hub. ctrl may be bound later with SetController;
// indicator and m may be nil.
func NewHub(ctrl Controller, indicator Indicator, logger *zap.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		ctrl:      ctrl,
		indicator: indicator,
		logger:    logger,
		metrics:   m,
		clients:   make(map[string]chan json.RawMessage),
	}
}

// Subscribe registers a foreground client for data sent by the task. The
// returned func unsubscribes and closes the channel.
func (h *Hub) Subscribe(clientID string, buffer int) (<-chan json.RawMessage, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan json.RawMessage, buffer)

	h.mu.Lock()
	if old, ok := h.clients[clientID]; ok {
		close(old)
	}
	h.clients[clientID] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if cur, ok := h.clients[clientID]; ok && cur == ch {
				delete(h.clients, clientID)
				close(ch)
			}
		})
	}
}

// Attach connects an execution to the hub, replacing any previous one.
func (h *Hub) Attach(executionID string) *Port {
	p := &Port{hub: h, executionID: executionID, data: make(chan json.RawMessage, portBuffer)}

	h.mu.Lock()
	old := h.port
	h.port = p
	h.mu.Unlock()

	if old != nil {
		old.close()
	}
	h.logger.Debug("task attached", zap.String("execution_id", executionID))
	return p
}

// Attached reports whether a task is connected.
func (h *Hub) Attached() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.port != nil
}

// Clients returns the number of subscribed foreground clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) detach(p *Port) {
	h.mu.Lock()
	if h.port == p {
		h.port = nil
	}
	h.mu.Unlock()
	p.close()
	h.logger.Debug("task detached", zap.String("execution_id", p.executionID))
}

// Dispatch decodes and executes one wire call.
func (h *Hub) Dispatch(ctx context.Context, origin Origin, env Envelope) Result {
	cmd, err := Decode(origin, env)
	if err == nil {
		err = h.Execute(ctx, origin, cmd)
	}
	if err != nil {
		h.logger.Warn("bridge call failed",
			zap.String("origin", origin.String()),
			zap.String("method", env.Method),
			zap.Error(err),
		)
	}
	return resultFor(env, err)
}

// Execute runs a decoded command.
func (h *Hub) Execute(ctx context.Context, origin Origin, cmd Command) error {
	switch c := cmd.(type) {
	case StartCommand:
		ctrl, err := h.controller()
		if err != nil {
			return err
		}
		if _, err := ctrl.Register(ctx, c.Handle, c.ForegroundMode); err != nil {
			return err
		}
		ctrl.RequestRun(ctx)
		return nil

	case SendDataCommand:
		if origin == OriginTask {
			h.broadcast(c.Data)
			return nil
		}
		h.deliver(c.Data)
		return nil

	case SetNotificationInfoCommand:
		if h.indicator != nil {
			h.indicator.SetInfo(c.Title, c.Content)
		}
		return nil

	case SetForegroundModeCommand:
		ctrl, err := h.controller()
		if err != nil {
			return err
		}
		if _, err := ctrl.SetForegroundMode(ctx, c.Value); err != nil {
			return err
		}
		if h.indicator != nil {
			h.indicator.SetForeground(c.Value)
		}
		return nil

	default:
		return fmt.Errorf("%w: %T", ErrNotImplemented, cmd)
	}
}

// deliver hands data to the attached task. Without a task the data is dropped.
func (h *Hub) deliver(data json.RawMessage) {
	h.mu.RLock()
	p := h.port
	h.mu.RUnlock()

	if p == nil {
		h.logger.Debug("no task attached, dropping data")
		return
	}
	if p.push(data) {
		h.metrics.BridgeMessage("to_task")
	} else {
		h.logger.Warn("task is not reading, dropping data", zap.String("execution_id", p.executionID))
	}
}

// broadcast hands data to every foreground client without blocking.
func (h *Hub) broadcast(data json.RawMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.clients {
		select {
		case ch <- data:
			h.metrics.BridgeMessage("to_foreground")
		default:
			h.logger.Warn("foreground client is not reading, dropping data", zap.String("client_id", id))
		}
	}
}

// Port is the task's end of the bridge.
type Port struct {
	hub         *Hub
	executionID string

	mu     sync.Mutex
	data   chan json.RawMessage
	closed bool
}

// Data delivers objects sent by foreground clients. It is closed on detach.
func (p *Port) Data() <-chan json.RawMessage {
	return p.data
}

// SendData broadcasts a JSON object to all foreground clients.
func (p *Port) SendData(ctx context.Context, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	obj, err := decodeObject(raw)
	if err != nil {
		return err
	}
	return p.hub.Execute(ctx, OriginTask, SendDataCommand{Data: obj})
}

// SetNotificationInfo updates the indicator text.
func (p *Port) SetNotificationInfo(ctx context.Context, title, content string) error {
	return p.hub.Execute(ctx, OriginTask, SetNotificationInfoCommand{Title: title, Content: content})
}

// SetForegroundMode switches the indicator and persists the mode.
func (p *Port) SetForegroundMode(ctx context.Context, foreground bool) error {
	return p.hub.Execute(ctx, OriginTask, SetForegroundModeCommand{Value: foreground})
}

// Call dispatches a raw wire call made by the task.
func (p *Port) Call(ctx context.Context, env Envelope) Result {
	return p.hub.Dispatch(ctx, OriginTask, env)
}

// Detach disconnects the port from the hub.
func (p *Port) Detach() {
	p.hub.detach(p)
}

func (p *Port) push(data json.RawMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.data <- data:
		return true
	default:
		return false
	}
}

func (p *Port) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.data)
	}
}
