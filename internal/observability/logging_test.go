package observability

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
)

type captureSink struct {
	mu      sync.Mutex
	entries []string
}

func (c *captureSink) InsertLog(_ context.Context, level, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, level+" "+message)
	return nil
}

func TestNewLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Output: &buf})

	logger.Info("hub connect", "auth", "Bearer abcdefghijklmnopqrstuvwxyz012345")
	out := buf.String()
	if strings.Contains(out, "abcdefghijklmnopqrstuvwxyz012345") {
		t.Errorf("bearer token leaked: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Errorf("no redaction marker in %s", out)
	}

	buf.Reset()
	logger.Info("key check", "key", "sk-ant-REDACTED")
	if strings.Contains(buf.String(), "sk-ant-api03") {
		t.Errorf("anthropic key leaked: %s", buf.String())
	}
}

func TestNewLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Output: &buf})

	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info record passed warn filter: %s", buf.String())
	}
	logger.Warn("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Errorf("warn record missing: %s", buf.String())
	}
}

func TestSinkReceivesWarnAndAbove(t *testing.T) {
	var buf bytes.Buffer
	sink := &captureSink{}
	logger := NewLogger(LogConfig{Level: "debug", Output: &buf, Sink: sink})

	logger.Debug("dbg")
	logger.Info("inf")
	logger.Warn("warned")
	logger.Error("errored")

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.entries) != 2 {
		t.Fatalf("sink entries = %v, want warn and error only", sink.entries)
	}
	if !strings.Contains(sink.entries[0], "warned") || !strings.Contains(sink.entries[1], "errored") {
		t.Errorf("sink entries = %v", sink.entries)
	}
}
