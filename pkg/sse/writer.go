package sse

import (
	"fmt"
	"io"
	"strings"
)

// WriteEvent writes ev in wire format, terminated by a blank line. Multi-line
// data is split into one "data:" line per line.
func WriteEvent(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Type)
	}
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteComment writes a comment line, which readers skip. Servers send these
// as keep-alives.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}
