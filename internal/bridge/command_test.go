package bridge

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		origin  Origin
		method  string
		args    string
		want    Command
		wantErr error
	}{
		{
			name:   "start with numeric handle",
			origin: OriginForeground,
			method: MethodStart,
			args:   `{"handle": 1234567890123, "is_foreground_mode": true}`,
			want:   StartCommand{Handle: "1234567890123", ForegroundMode: true},
		},
		{
			name:   "start with string handle",
			origin: OriginForeground,
			method: MethodStart,
			args:   `{"handle": "sync-job", "is_foreground_mode": false}`,
			want:   StartCommand{Handle: "sync-job", ForegroundMode: false},
		},
		{
			name:    "start missing mode",
			origin:  OriginForeground,
			method:  MethodStart,
			args:    `{"handle": "sync-job"}`,
			wantErr: ErrBadArguments,
		},
		{
			name:    "start missing handle",
			origin:  OriginForeground,
			method:  MethodStart,
			args:    `{"is_foreground_mode": true}`,
			wantErr: ErrBadArguments,
		},
		{
			name:    "start from task is not allowed",
			origin:  OriginTask,
			method:  MethodStart,
			args:    `{"handle": "x", "is_foreground_mode": true}`,
			wantErr: ErrNotImplemented,
		},
		{
			name:   "send data is case insensitive",
			origin: OriginForeground,
			method: "SENDDATA",
			args:   `{"count": 1}`,
			want:   SendDataCommand{Data: json.RawMessage(`{"count": 1}`)},
		},
		{
			name:    "send data must be an object",
			origin:  OriginTask,
			method:  MethodSendData,
			args:    `[1, 2]`,
			wantErr: ErrBadArguments,
		},
		{
			name:   "notification info",
			origin: OriginTask,
			method: MethodSetNotificationInfo,
			args:   `{"title": "Sync", "content": "3 files left"}`,
			want:   SetNotificationInfoCommand{Title: "Sync", Content: "3 files left"},
		},
		{
			name:    "notification info without title",
			origin:  OriginTask,
			method:  MethodSetNotificationInfo,
			args:    `{"content": "3 files left"}`,
			wantErr: ErrBadArguments,
		},
		{
			name:    "notification info from foreground is not allowed",
			origin:  OriginForeground,
			method:  MethodSetNotificationInfo,
			args:    `{"title": "x"}`,
			wantErr: ErrNotImplemented,
		},
		{
			name:   "foreground mode",
			origin: OriginTask,
			method: MethodSetForegroundMode,
			args:   `{"value": false}`,
			want:   SetForegroundModeCommand{Value: false},
		},
		{
			name:    "foreground mode without value",
			origin:  OriginTask,
			method:  MethodSetForegroundMode,
			args:    `{}`,
			wantErr: ErrBadArguments,
		},
		{
			name:    "unknown method",
			origin:  OriginForeground,
			method:  "doSomethingElse",
			args:    `{}`,
			wantErr: ErrNotImplemented,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.origin, Envelope{Method: tt.method, Arguments: json.RawMessage(tt.args)})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}

			switch want := tt.want.(type) {
			case SendDataCommand:
				gotData, ok := got.(SendDataCommand)
				if !ok || string(gotData.Data) != string(want.Data) {
					t.Errorf("Decode() = %#v, want %#v", got, want)
				}
			default:
				if got != tt.want {
					t.Errorf("Decode() = %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}

func TestResultFor(t *testing.T) {
	env := Envelope{ID: "7", Method: MethodStart}

	if r := resultFor(env, nil); !r.Success || r.ID != "7" {
		t.Errorf("success result = %+v", r)
	}
	if r := resultFor(env, ErrBadArguments); r.Success || r.Code != CodeBadArguments || r.Message != "Failed read arguments" {
		t.Errorf("bad arguments result = %+v", r)
	}
	if r := resultFor(env, ErrNotImplemented); r.Code != CodeNotImplemented {
		t.Errorf("not implemented result = %+v", r)
	}
	if r := resultFor(env, errors.New("disk full")); r.Code != CodeFailed || r.Message != "disk full" {
		t.Errorf("failure result = %+v", r)
	}
}
