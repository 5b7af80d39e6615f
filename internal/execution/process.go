package execution

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/HerbHall/keepalive/internal/bridge"
	"github.com/HerbHall/keepalive/internal/keepalive"
)

// Environment variables passed to process tasks.
const (
	EnvHandle      = "KEEPALIVE_HANDLE"
	EnvExecutionID = "KEEPALIVE_EXECUTION_ID"
	EnvForeground  = "KEEPALIVE_FOREGROUND"
)

// maxLine bounds one JSON line read from a task's stdout.
const maxLine = 1 << 20

// startProcess launches def. The task speaks the bridge protocol as JSON
// lines: each stdout line is an Envelope it calls, answered on stdin with a
// Result; data sent by foreground clients arrives on stdin as onReceiveData
// envelopes. Lines that are not JSON are logged. stderr is logged.
func (e *Executor) startProcess(ctx context.Context, x *Execution, def *Definition, env Env, onExit func(keepalive.Execution, error)) error {
	cmd := exec.CommandContext(ctx, def.Command[0], def.Command[1:]...)
	cmd.Dir = def.Dir
	cmd.Env = append(os.Environ(),
		EnvHandle+"="+env.Handle.ID,
		EnvExecutionID+"="+env.ExecutionID,
		EnvForeground+"="+strconv.FormatBool(env.Handle.Foreground),
	)
	for k, v := range def.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Cancel = func() error { return terminateProcess(cmd.Process) }
	cmd.WaitDelay = def.StopTimeout
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = e.stopTimeout
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("task %q stdin: %w", def.ID, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("task %q stdout: %w", def.ID, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("task %q stderr: %w", def.ID, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start task %q: %w", def.ID, err)
	}
	x.pid = cmd.Process.Pid
	x.probe = processAlive
	x.active.Store(true)
	env.Logger.Info("task process started", zap.Int("pid", x.pid), zap.Strings("command", def.Command))

	w := &lineWriter{w: stdin}
	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		e.readCalls(ctx, stdout, w, env)
	}()
	go func() {
		defer readers.Done()
		logLines(stderr, env.Logger)
	}()
	if env.Port != nil {
		go forwardData(env.Port, w, env.Logger)
	}

	go func() {
		// Pipes must be drained before Wait closes them.
		readers.Wait()
		err := cmd.Wait()
		if x.terminated.Load() {
			err = nil
		}
		env.Logger.Info("task process exited", zap.Int("pid", x.pid), zap.Error(err))
		x.finish(env.Port, err, onExit)
	}()
	return nil
}

// readCalls reads envelopes from the task and writes back results.
func (e *Executor) readCalls(ctx context.Context, r io.Reader, w *lineWriter, env Env) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var call bridge.Envelope
		if err := json.Unmarshal(line, &call); err != nil || call.Method == "" {
			env.Logger.Info("task output", zap.ByteString("line", line))
			continue
		}
		if env.Port == nil {
			continue
		}
		res := env.Port.Call(ctx, call)
		if err := w.write(res); err != nil {
			env.Logger.Debug("reply to task failed", zap.Error(err))
		}
	}
	if err := sc.Err(); err != nil {
		env.Logger.Warn("reading task output failed", zap.Error(err))
	}
}

// forwardData relays foreground data to the task until the port closes.
func forwardData(port *bridge.Port, w *lineWriter, logger *zap.Logger) {
	for d := range port.Data() {
		env := bridge.Envelope{Method: bridge.MethodReceiveData, Arguments: d}
		if err := w.write(env); err != nil {
			logger.Debug("forward to task failed", zap.Error(err))
		}
	}
}

func logLines(r io.Reader, logger *zap.Logger) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	for sc.Scan() {
		logger.Warn("task stderr", zap.String("line", sc.Text()))
	}
}

// lineWriter serializes JSON lines written to the task's stdin.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(b, '\n'))
	return err
}
