package log

import (
	"strings"
	"testing"
)

type bufOutputter struct{ lines []string }

func (b *bufOutputter) Output(calldepth int, s string) error {
	b.lines = append(b.lines, s)
	return nil
}

func TestNewOffLevelReturnsNil(t *testing.T) {
	if l := New(&bufOutputter{}, OffLevel); l != nil {
		t.Error("New at OffLevel should return a nil Logger")
	}
}

func TestNilLoggerIsSilent(t *testing.T) {
	var l *Logger
	l.Print("should not panic")
	l.Printf("nor should this: %d", 1)
	if l.At(DebugLevel) {
		t.Error("a nil logger should report At() false")
	}
}

func TestLevelFiltering(t *testing.T) {
	out := &bufOutputter{}
	l := New(out, ErrorLevel)
	l.Debug("hidden")
	l.Print("hidden too")
	l.Error("shown")
	if len(out.lines) != 1 {
		t.Fatalf("expected 1 line at ErrorLevel, got %d: %v", len(out.lines), out.lines)
	}
	if !strings.Contains(out.lines[0], "shown") {
		t.Errorf("unexpected line: %q", out.lines[0])
	}
}

func TestTeePropagatesToParent(t *testing.T) {
	parentOut := &bufOutputter{}
	parent := New(parentOut, InfoLevel)
	childOut := &bufOutputter{}
	child := parent.Tee(childOut, "child: ")
	child.Print("hello")
	if len(childOut.lines) != 1 {
		t.Fatalf("child outputter should have received the message, got %v", childOut.lines)
	}
	if len(parentOut.lines) != 1 || !strings.Contains(parentOut.lines[0], "child: hello") {
		t.Fatalf("parent outputter should have received the prefixed message, got %v", parentOut.lines)
	}
}

func TestMultiOutputter(t *testing.T) {
	a, b := &bufOutputter{}, &bufOutputter{}
	l := New(MultiOutputter(a, b), InfoLevel)
	l.Print("hi")
	if len(a.lines) != 1 || len(b.lines) != 1 {
		t.Error("both outputters should receive the message")
	}
}
