package cue

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateCue(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cues")
	now := time.Date(2026, 8, 25, 18, 0, 0, 0, time.UTC)
	s := NewServer(dir, WithNow(func() time.Time { return now }))

	tool := s.Tools()[0]
	result, err := tool.Execute(context.Background(), json.RawMessage(
		`{"name":"Water Plants","contents":"Tomorrow at 9am, remind Jane to water the plants."}`))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.IsError {
		t.Fatalf("create errored: %s", result.Content)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "20260825-180000-water-plants") || !strings.HasSuffix(name, ".md") {
		t.Fatalf("filename = %q", name)
	}

	raw, _ := os.ReadFile(filepath.Join(dir, name))
	if !strings.Contains(string(raw), "water the plants") {
		t.Fatalf("contents = %s", raw)
	}
}

func TestCreateCueRequiresContents(t *testing.T) {
	s := NewServer(t.TempDir())
	result, _ := s.Tools()[0].Execute(context.Background(), json.RawMessage(`{"contents":"  "}`))
	if !result.IsError {
		t.Fatalf("empty contents accepted: %s", result.Content)
	}
}

func TestCreateCueWithoutName(t *testing.T) {
	dir := t.TempDir()
	s := NewServer(dir)
	result, _ := s.Tools()[0].Execute(context.Background(), json.RawMessage(
		`{"contents":"In two hours, turn off the heater."}`))
	if result.IsError {
		t.Fatalf("create errored: %s", result.Content)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("files = %d, want 1", len(entries))
	}
}
