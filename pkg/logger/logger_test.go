package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestNew_LevelFallback(t *testing.T) {
	log := New(LoggingConfig{Level: "not-a-level"})
	if log.GetLevel() != logrus.InfoLevel {
		t.Errorf("level = %v, want info", log.GetLevel())
	}

	log = New(LoggingConfig{Level: "debug"})
	if log.GetLevel() != logrus.DebugLevel {
		t.Errorf("level = %v, want debug", log.GetLevel())
	}
}

func TestLogger_ComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := New(LoggingConfig{Level: "info", Format: "json"}).Named("kernel")
	log.SetOutput(&buf)

	log.WithField("user", "abc").Info("config updated")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["component"] != "kernel" {
		t.Errorf("component = %v, want kernel", entry["component"])
	}
	if entry["user"] != "abc" {
		t.Errorf("user = %v, want abc", entry["user"])
	}
}

func TestNewDefault(t *testing.T) {
	log := NewDefault("hook")
	if log.Component() != "hook" {
		t.Errorf("Component() = %q, want hook", log.Component())
	}
}
