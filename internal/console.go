package internal

import (
	"fmt"
	"io"
	"sync"

	"github.com/starford/weavetex/internal/compile"
	"github.com/starford/weavetex/internal/models"
)

// console prints job events for the command line and hands every completed
// job to done.
type console struct {
	mu   sync.Mutex
	w    io.Writer
	done chan compile.CompletedData
}

func newConsole(w io.Writer) *console {
	return &console{w: w, done: make(chan compile.CompletedData, 16)}
}

// Emit implements compile.Emitter.
func (c *console) Emit(ev compile.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch d := ev.Data.(type) {
	case compile.StartedData:
		fmt.Fprintf(c.w, "==> compiling %s\n", d.TargetFile)
	case compile.OutputData:
		fmt.Fprint(c.w, d.Text)
	case compile.CompletedData:
		fmt.Fprintln(c.w)
		for _, e := range d.Entries {
			loc := e.File
			if e.Line > 0 {
				loc = fmt.Sprintf("%s:%d", e.File, e.Line)
			}
			if loc == "" {
				loc = e.LogFile
			}
			fmt.Fprintf(c.w, "%s: %s: %s\n", loc, models.LogEntryType(e.Type), e.Message)
		}
		if d.Succeeded {
			fmt.Fprintf(c.w, "==> wrote %s\n", d.PdfPath)
		} else {
			msg := d.Message
			if msg == "" {
				msg = "compilation failed"
			}
			fmt.Fprintf(c.w, "==> failed: %s\n", msg)
		}
		select {
		case c.done <- d:
		default:
		}
	}
}
