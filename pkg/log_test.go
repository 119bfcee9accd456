package pkg

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

// captureLogs installs a logger writing to the returned buffer and restores
// the previous logger and level when the test ends.
func captureLogs(t *testing.T, format LogFormat, level slog.Level) *bytes.Buffer {
	t.Helper()
	original, originalLevel := Logger(), GetLogLevel()
	t.Cleanup(func() {
		SetLogger(original)
		SetLogLevel(originalLevel)
	})

	var buf bytes.Buffer
	SetLogLevel(level)
	SetLogger(NewLogger(&buf, format))
	return &buf
}

func TestSetLogLevel(t *testing.T) {
	original := GetLogLevel()
	defer SetLogLevel(original)

	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		t.Run(level.String(), func(t *testing.T) {
			SetLogLevel(level)
			if got := GetLogLevel(); got != level {
				t.Errorf("GetLogLevel() = %v, want %v", got, level)
			}
		})
	}
}

func TestNewLoggerJSON(t *testing.T) {
	buf := captureLogs(t, LogFormatJSON, slog.LevelWarn)

	LogWarn(ComponentCard, "token timeout", "sector", 12)
	output := buf.String()
	for _, want := range []string{`"msg":"token timeout"`, `"component":"card"`, `"sector":12`} {
		if !strings.Contains(output, want) {
			t.Errorf("JSON log output missing %s: %s", want, output)
		}
	}
}

func TestComponentLogging(t *testing.T) {
	tests := []struct {
		name      string
		log       func(Component, string, ...any)
		component Component
		want      string
	}{
		{"debug", LogDebug, ComponentSPI, "component=spi"},
		{"info", LogInfo, ComponentCard, "component=card"},
		{"warn", LogWarn, ComponentSCSI, "component=scsi"},
		{"error", LogError, ComponentPump, "component=pump"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t, LogFormatText, slog.LevelDebug)

			tt.log(tt.component, "sector done", "lba", 7)
			output := buf.String()
			if !strings.Contains(output, "sector done") {
				t.Errorf("log missing message: %s", output)
			}
			if !strings.Contains(output, tt.want) {
				t.Errorf("log missing %q: %s", tt.want, output)
			}
			if !strings.Contains(output, "lba=7") {
				t.Errorf("log missing attribute: %s", output)
			}
		})
	}
}

func TestLogLevelFilter(t *testing.T) {
	buf := captureLogs(t, LogFormatText, slog.LevelWarn)

	LogDebug(ComponentBOT, "CBW received")
	if buf.Len() != 0 {
		t.Errorf("debug message logged at warn level: %s", buf.String())
	}

	LogWarn(ComponentBOT, "invalid CBW signature")
	if !strings.Contains(buf.String(), "invalid CBW signature") {
		t.Errorf("warn message missing: %s", buf.String())
	}

	// The level is shared, so lowering it applies to the installed logger.
	SetLogLevel(slog.LevelDebug)
	LogDebug(ComponentBOT, "CSW sent")
	if !strings.Contains(buf.String(), "CSW sent") {
		t.Errorf("debug message missing after SetLogLevel: %s", buf.String())
	}
}

func TestSetLoggerNil(t *testing.T) {
	captureLogs(t, LogFormatText, slog.LevelDebug)

	SetLogger(nil)
	if Logger() == nil {
		t.Fatal("Logger() = nil after SetLogger(nil)")
	}
	LogError(ComponentCLI, "dropped")
}
