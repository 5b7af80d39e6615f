package keepalive

import "time"

// Event topics published by the supervisor.
const (
	TopicTaskRegistered = "keepalive.task.registered"
	TopicTaskStarted    = "keepalive.task.started"
	TopicTaskTerminated = "keepalive.task.terminated"
	TopicConfigError    = "keepalive.config.error"
)

// TaskEvent is the payload for task lifecycle topics.
type TaskEvent struct {
	Handle      TaskHandle `json:"handle"`
	ExecutionID string     `json:"execution_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	At          time.Time  `json:"at"`
}

// ConfigErrorEvent is the payload for TopicConfigError.
type ConfigErrorEvent struct {
	Outcome Outcome   `json:"outcome"`
	Handle  string    `json:"handle,omitempty"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}
