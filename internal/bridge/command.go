// Package bridge carries messages between foreground clients, the running
// task and the supervisor. Wire messages are decoded into typed commands at
// the edge; nothing past Decode looks at method names.
package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Wire method names.
const (
	MethodStart               = "BackgroundService.start"
	MethodSendData            = "sendData"
	MethodSetNotificationInfo = "setNotificationInfo"
	MethodSetForegroundMode   = "setForegroundMode"
	MethodReceiveData         = "onReceiveData"
)

// Error codes carried in Result.Code.
const (
	CodeBadArguments   = "100"
	CodeNotImplemented = "not_implemented"
	CodeFailed         = "failed"
)

var (
	// ErrNotImplemented is returned for methods the origin may not call.
	ErrNotImplemented = errors.New("method not implemented")
	// ErrBadArguments is returned when arguments cannot be read.
	ErrBadArguments = errors.New("failed read arguments")
)

// Origin identifies which side of the bridge sent a message.
type Origin int

const (
	// OriginForeground is a foreground application client.
	OriginForeground Origin = iota
	// OriginTask is the running background task.
	OriginTask
)

func (o Origin) String() string {
	if o == OriginTask {
		return "task"
	}
	return "foreground"
}

// Envelope is a method call on the wire.
type Envelope struct {
	ID        string          `json:"id,omitempty"`
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Result answers an Envelope.
type Result struct {
	ID      string `json:"id,omitempty"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Command is the closed set of decoded bridge commands.
type Command interface {
	command()
}

// StartCommand registers a handle and starts the task.
type StartCommand struct {
	Handle         string
	ForegroundMode bool
}

// SendDataCommand relays a JSON object to the other side.
type SendDataCommand struct {
	Data json.RawMessage
}

// SetNotificationInfoCommand updates the status indicator text.
type SetNotificationInfoCommand struct {
	Title   string
	Content string
}

// SetForegroundModeCommand switches the persistent indicator on or off.
type SetForegroundModeCommand struct {
	Value bool
}

func (StartCommand) command()               {}
func (SendDataCommand) command()            {}
func (SetNotificationInfoCommand) command() {}
func (SetForegroundModeCommand) command()   {}

// Decode turns an envelope into a command, enforcing which methods each
// origin may call. Method names match case-insensitively.
func Decode(origin Origin, env Envelope) (Command, error) {
	switch {
	case origin == OriginForeground && env.Method == MethodStart:
		return decodeStart(env.Arguments)
	case strings.EqualFold(env.Method, MethodSendData):
		data, err := decodeObject(env.Arguments)
		if err != nil {
			return nil, err
		}
		return SendDataCommand{Data: data}, nil
	case origin == OriginTask && strings.EqualFold(env.Method, MethodSetNotificationInfo):
		var args struct {
			Title   *string `json:"title"`
			Content string  `json:"content"`
		}
		if err := json.Unmarshal(env.Arguments, &args); err != nil || args.Title == nil {
			return nil, fmt.Errorf("%w: %s needs a title", ErrBadArguments, env.Method)
		}
		return SetNotificationInfoCommand{Title: *args.Title, Content: args.Content}, nil
	case origin == OriginTask && strings.EqualFold(env.Method, MethodSetForegroundMode):
		var args struct {
			Value *bool `json:"value"`
		}
		if err := json.Unmarshal(env.Arguments, &args); err != nil || args.Value == nil {
			return nil, fmt.Errorf("%w: %s needs a boolean value", ErrBadArguments, env.Method)
		}
		return SetForegroundModeCommand{Value: *args.Value}, nil
	default:
		return nil, fmt.Errorf("%w: %q from %s", ErrNotImplemented, env.Method, origin)
	}
}

// decodeStart accepts the handle as a JSON string or number.
func decodeStart(raw json.RawMessage) (Command, error) {
	var args struct {
		Handle     json.RawMessage `json:"handle"`
		Foreground *bool           `json:"is_foreground_mode"`
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArguments, err)
	}
	if args.Foreground == nil {
		return nil, fmt.Errorf("%w: missing is_foreground_mode", ErrBadArguments)
	}

	handle, err := handleString(args.Handle)
	if err != nil {
		return nil, err
	}
	return StartCommand{Handle: handle, ForegroundMode: *args.Foreground}, nil
}

func handleString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w: missing handle", ErrBadArguments)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return "", fmt.Errorf("%w: invalid handle", ErrBadArguments)
		}
		return s, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: handle must be a string or integer", ErrBadArguments)
	}
	return strconv.FormatInt(n, 10), nil
}

func decodeObject(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, fmt.Errorf("%w: data must be a JSON object", ErrBadArguments)
	}
	return json.RawMessage(trimmed), nil
}

// resultFor builds the reply to env for a dispatch error (nil for success).
func resultFor(env Envelope, err error) Result {
	switch {
	case err == nil:
		return Result{ID: env.ID, Success: true}
	case errors.Is(err, ErrNotImplemented):
		return Result{ID: env.ID, Code: CodeNotImplemented, Message: err.Error()}
	case errors.Is(err, ErrBadArguments):
		return Result{ID: env.ID, Code: CodeBadArguments, Message: "Failed read arguments"}
	default:
		return Result{ID: env.ID, Code: CodeFailed, Message: err.Error()}
	}
}
