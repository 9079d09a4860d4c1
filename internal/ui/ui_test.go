package ui

import (
	"strings"
	"testing"
)

func TestRenderKVPlainAlignsColumns(t *testing.T) {
	out := renderKVPlain("Server", []Row{
		{Label: "PID", Value: "4242"},
		{Label: "Listen address", Value: "127.0.0.1:4170"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected title plus two rows, got %d lines", len(lines))
	}
	if lines[0] != "Server" {
		t.Errorf("unexpected title line %q", lines[0])
	}
	// Values line up on the widest label.
	if strings.Index(lines[1], "4242") != strings.Index(lines[2], "127.0.0.1:4170") {
		t.Errorf("columns misaligned:\n%q\n%q", lines[1], lines[2])
	}
}

func TestRenderKVFallsBackOffTTY(t *testing.T) {
	// Test output is never a TTY, so the plain renderer is chosen.
	out := RenderKV("Server", []Row{{Label: "PID", Value: "7"}})
	if strings.ContainsRune(out, '\x1b') {
		t.Errorf("expected no ANSI sequences off-TTY, got %q", out)
	}
	if !strings.Contains(out, "PID") || !strings.Contains(out, "7") {
		t.Errorf("plain output missing content: %q", out)
	}
}
