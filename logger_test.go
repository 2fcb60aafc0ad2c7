package dbrest

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestSimpleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewSimpleLoggerTo(&buf)

	logger.Debug("debug message", "key", "value")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	for _, want := range []string{"debug message", "info message", "warn message", "error message", "key=value", "component=dbrest"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestSimpleLoggerStderr(t *testing.T) {
	logger := NewSimpleLogger()
	for i := 0; i < 5; i++ {
		logger.Info("loop message", "i", i)
	}
}

func TestDefaultDebugConfig(t *testing.T) {
	cfg := DefaultDebugConfig()
	if cfg.Enabled {
		t.Error("debug should be disabled by default")
	}
	if !cfg.LogRequests || !cfg.LogRetries || !cfg.LogDecode {
		t.Error("expected all categories selected")
	}
	if _, err := uuid.Parse(cfg.RequestIDGen()); err != nil {
		t.Errorf("request id is not a uuid: %v", err)
	}
}
