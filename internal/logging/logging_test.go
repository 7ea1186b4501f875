package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerPrefixes(t *testing.T) {
	var buf bytes.Buffer
	logs := New(&buf, "pipelined", "")
	logs.Logger("http").Print("hello")
	logs.Logger("").Print("root")

	out := buf.String()
	if !strings.Contains(out, "[pipelined/http] ") {
		t.Fatalf("missing component prefix: %q", out)
	}
	if !strings.Contains(out, "[pipelined] ") {
		t.Fatalf("missing root prefix: %q", out)
	}
	if logs.Debug() {
		t.Fatalf("default level should not be debug")
	}
	if !New(&buf, "x", "DEBUG").Debug() {
		t.Fatalf("expected debug level")
	}
}

func TestRotatingWriterRollsOverOnSize(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "pipelined.log")
	w, err := NewRotatingWriter(base, 10)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	rw := w.(*RotatingWriter)
	rw.now = func() time.Time { return time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC) }
	rw.day = "2026-01-02"
	_ = rw.open()

	if _, err := w.Write([]byte("0123456789")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("more")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	first, err := os.ReadFile(filepath.Join(dir, "pipelined-2026-01-02.log"))
	if err != nil || string(first) != "0123456789" {
		t.Fatalf("first file = %q, %v", first, err)
	}
	second, err := os.ReadFile(filepath.Join(dir, "pipelined-2026-01-02-2.log"))
	if err != nil || string(second) != "more" {
		t.Fatalf("second file = %q, %v", second, err)
	}
}

func TestRotatingWriterDashDiscards(t *testing.T) {
	w, err := NewRotatingWriter("-", 0)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if n, err := w.Write([]byte("x")); err != nil || n != 1 {
		t.Fatalf("write = %d, %v", n, err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
