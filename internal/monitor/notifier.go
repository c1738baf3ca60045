package monitor

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
)

// Level is the urgency of a notice
type Level int

const (
	LevelWarning Level = iota
	LevelFinal
)

func (l Level) String() string {
	if l == LevelFinal {
		return "final"
	}
	return "warning"
}

// Notice tells the user their time is running out
type Notice struct {
	User      string
	Remaining int
	Level     Level
	Message   string
}

// Notifier delivers notices to the user
type Notifier interface {
	Notify(n Notice)
}

// WriterNotifier prints notices to a terminal
type WriterNotifier struct {
	Out io.Writer
	mu  sync.Mutex
}

// Notify writes n, yellow for warnings and red for the final notice.
func (w *WriterNotifier) Notify(n Notice) {
	w.mu.Lock()
	defer w.mu.Unlock()

	c := color.New(color.FgYellow, color.Bold)
	if n.Level == LevelFinal {
		c = color.New(color.FgRed, color.Bold)
	}
	_, _ = c.Fprintf(w.Out, "⚠️  Time limit: %s\n", n.Message)
}

// StatusLine writes a plain status line.
func StatusLine(out io.Writer, s Status) {
	_, _ = fmt.Fprintf(out, "%s  %s\n", s.Date, s)
}
