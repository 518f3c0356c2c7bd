package monitor

import (
	"fmt"
	"io"
	"os"
	"time"
)

// CLIMonitor implements the Monitor interface, mirroring the message
// flow of every conversation onto the terminal.
type CLIMonitor struct {
	writer io.Writer // typically os.Stdout
}

// NewCLIMonitor creates a new CLI monitor.
func NewCLIMonitor() *CLIMonitor {
	return &CLIMonitor{writer: os.Stdout}
}

// Start prints the monitor header.
func (m *CLIMonitor) Start() error {
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	fmt.Fprintln(m.writer, "💬 CLI Monitor Active - conversation traffic will appear here")
	fmt.Fprintln(m.writer, "----------------------------------------------------------------")
	return nil
}

// Stop stops the CLI monitor.
func (m *CLIMonitor) Stop() error {
	return nil
}

// OnMessage displays one pipeline event.
func (m *CLIMonitor) OnMessage(ev MessageEvent) {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var display string
	if ev.Role == "assistant" {
		display = fmt.Sprintf("[AI -> %s] %s", ev.ChatID, ev.Text)
	} else {
		sender := ev.Sender
		if sender == "" {
			sender = ev.ChatID
		}
		display = fmt.Sprintf("[%s] %s", sender, ev.Text)
	}

	// Gray timestamp, message as-is
	fmt.Fprintf(m.writer, "\033[90m[%s]\033[0m %s\n", ts.Format("2006-01-02 15:04:05"), display)
}
