package pkg

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

// captureLog routes the default logger to a JSON buffer at level and
// restores the previous logger and level when the test ends.
func captureLog(t *testing.T, level slog.Level) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLevel := DefaultLogger, GetLogLevel()
	t.Cleanup(func() {
		SetLogger(prevLogger)
		SetLogLevel(prevLevel)
	})

	var buf bytes.Buffer
	SetLogLevel(level)
	SetLogger(NewJSONLogger(&buf, nil))
	return &buf
}

func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("malformed record %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func TestComponentRecords(t *testing.T) {
	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
		msg       string
		args      []any
		level     string
	}{
		{"pump transport failure", LogError, ComponentPump, "transport failure, stopping", []any{"error", "no device"}, "ERROR"},
		{"channel search timeout", LogInfo, ComponentChannel, "search timeout", []any{"channel", 3}, "INFO"},
		{"queue frame sent", LogDebug, ComponentQueue, "sent", []any{"kind", "control"}, "DEBUG"},
		{"driver output full", LogWarn, ComponentDriver, "sim output full, dropping", nil, "WARN"},
		{"server request", LogInfo, ComponentServer, "request", []any{"status", 201}, "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLog(t, slog.LevelDebug)
			tt.log(tt.component, tt.msg, tt.args...)

			recs := records(t, buf)
			if len(recs) != 1 {
				t.Fatalf("got %d records, want 1: %s", len(recs), buf)
			}
			rec := recs[0]
			if rec["component"] != string(tt.component) {
				t.Errorf("component = %v, want %s", rec["component"], tt.component)
			}
			if rec["msg"] != tt.msg || rec["level"] != tt.level {
				t.Errorf("record = %v %q, want %s %q", rec["level"], rec["msg"], tt.level, tt.msg)
			}
			for i := 0; i+1 < len(tt.args); i += 2 {
				key := tt.args[i].(string)
				if _, ok := rec[key]; !ok {
					t.Errorf("record missing %q: %v", key, rec)
				}
			}
		})
	}
}

func TestLevelFiltering(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  []string
	}{
		{slog.LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{slog.LevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{slog.LevelWarn, []string{"WARN", "ERROR"}},
		{slog.LevelError, []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			buf := captureLog(t, tt.level)
			if got := GetLogLevel(); got != tt.level {
				t.Fatalf("GetLogLevel() = %v, want %v", got, tt.level)
			}

			LogDebug(ComponentNode, "reset")
			LogInfo(ComponentNode, "node started")
			LogWarn(ComponentNode, "serial number unavailable")
			LogError(ComponentNode, "close driver")

			recs := records(t, buf)
			if len(recs) != len(tt.want) {
				t.Fatalf("got %d records, want %d: %s", len(recs), len(tt.want), buf)
			}
			for i, rec := range recs {
				if rec["level"] != tt.want[i] {
					t.Errorf("record %d level = %v, want %s", i, rec["level"], tt.want[i])
				}
			}
		})
	}
}

func TestWith(t *testing.T) {
	buf := captureLog(t, slog.LevelInfo)

	log := With(ComponentChannel, "channel", 5, "profile", "HR")
	log.Info("state", "state", "searching")
	log.Info("state", "state", "tracking")

	recs := records(t, buf)
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2: %s", len(recs), buf)
	}
	for i, rec := range recs {
		if rec["component"] != "channel" || rec["channel"] != float64(5) || rec["profile"] != "HR" {
			t.Errorf("record %d missing bound attributes: %v", i, rec)
		}
	}
	if recs[1]["state"] != "tracking" {
		t.Errorf("state = %v, want tracking", recs[1]["state"])
	}

	// A bound logger keeps the handler it was created from.
	var later bytes.Buffer
	SetLogger(NewJSONLogger(&later, nil))
	log.Info("closed")
	if later.Len() != 0 {
		t.Errorf("bound logger wrote to the replacement: %s", later.String())
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{" warn ", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelWarn, true},
		{"", slog.LevelWarn, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLogLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogFormat(t *testing.T) {
	tests := []struct {
		in   string
		want LogFormat
	}{
		{"json", LogFormatJSON},
		{" JSON ", LogFormatJSON},
		{"text", LogFormatText},
		{"logfmt", LogFormatText},
		{"", LogFormatText},
	}

	for _, tt := range tests {
		if got := ParseLogFormat(tt.in); got != tt.want {
			t.Errorf("ParseLogFormat(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLogFormat(t *testing.T) {
	prev := DefaultLogger
	t.Cleanup(func() { SetLogger(prev) })

	SetLogFormat(LogFormatJSON)
	if _, ok := DefaultLogger.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("handler = %T, want *slog.JSONHandler", DefaultLogger.Handler())
	}
	SetLogFormat(LogFormatText)
	if _, ok := DefaultLogger.Handler().(*slog.TextHandler); !ok {
		t.Errorf("handler = %T, want *slog.TextHandler", DefaultLogger.Handler())
	}
}
