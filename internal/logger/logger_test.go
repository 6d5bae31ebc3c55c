package logger

import (
	"bytes"
	"strings"
	"testing"

	"fyne.io/fyne/v2/data/binding"
)

func TestConsoleLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(&buf)

	l.Info("hello %d", 1)
	l.Warn("careful")
	l.Error("boom")
	l.Debug("hidden")

	out := buf.String()
	for _, want := range []string{"INFO: hello 1", "WARN: careful", "ERROR: boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written while debug is off: %q", out)
	}

	l.SetDebug(true)
	l.Debug("shown")
	if !strings.Contains(buf.String(), "[DEBUG]") {
		t.Fatalf("debug line missing after SetDebug(true)")
	}
}

func TestBindingLoggerCapsLines(t *testing.T) {
	data := binding.NewStringList()
	l := NewAppLogger(data)
	l.SetDebug(false)

	for i := 0; i < maxUILines+25; i++ {
		l.Info("line %d", i)
	}

	list, err := data.Get()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(list) != maxUILines {
		t.Fatalf("len = %d, want %d", len(list), maxUILines)
	}
	if !strings.HasSuffix(list[len(list)-1], "line 124") {
		t.Fatalf("last line = %q", list[len(list)-1])
	}
}
