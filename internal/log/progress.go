package log

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Progress draws a single-line progress bar for CLI commands. When
// interactive is false it prints nothing until Finish or Fail, so piped
// output stays clean.
type Progress struct {
	mu          sync.Mutex
	out         io.Writer
	name        string
	total       int
	current     int
	frame       int
	interactive bool
	start       time.Time
	now         func() time.Time
}

func NewProgress(out io.Writer, name string, total int, interactive bool) *Progress {
	return &Progress{
		out:         out,
		name:        name,
		total:       total,
		interactive: interactive,
		start:       time.Now(),
		now:         time.Now,
	}
}

// Step advances by one and shows msg next to the bar.
func (p *Progress) Step(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	p.frame = (p.frame + 1) % len(spinnerFrames)
	if !p.interactive {
		return
	}
	fmt.Fprint(p.out, p.line(msg))
}

func (p *Progress) line(msg string) string {
	var b strings.Builder
	b.WriteString("\r\033[K")
	b.WriteString(spinnerFrames[p.frame])
	b.WriteString(" ")
	b.WriteString(p.name)

	if p.total > 0 {
		const width = 20
		filled := width * p.current / p.total
		if filled > width {
			filled = width
		}
		b.WriteString(" [")
		b.WriteString(strings.Repeat("█", filled))
		b.WriteString(strings.Repeat("░", width-filled))
		fmt.Fprintf(&b, "] %d/%d", p.current, p.total)
	}
	if msg != "" {
		b.WriteString(" - ")
		b.WriteString(msg)
	}
	return b.String()
}

func (p *Progress) Finish(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := p.now().Sub(p.start).Round(time.Millisecond)
	fmt.Fprintf(p.out, "%s%s: %s (%v)\n", p.clear(), p.name, msg, elapsed)
}

func (p *Progress) Fail(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := p.now().Sub(p.start).Round(time.Millisecond)
	fmt.Fprintf(p.out, "%s%s failed: %s (%v)\n", p.clear(), p.name, reason, elapsed)
}

func (p *Progress) clear() string {
	if p.interactive {
		return "\r\033[K"
	}
	return ""
}
