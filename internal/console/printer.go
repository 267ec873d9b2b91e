package console

import (
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	"github.com/vbonduro/imagelab/internal/render"
	"github.com/vbonduro/imagelab/internal/session"
)

// Printer writes session changes to a terminal. Notify is safe to use as
// session.Options.OnChange; it prints only what changed since the last call.
type Printer struct {
	mu          sync.Mutex
	out         io.Writer
	lastView    render.View
	lastStarted time.Time
	lastNotice  session.Notice
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Notify(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if snap.RequestStartedAt != nil && !snap.RequestStartedAt.Equal(p.lastStarted) {
		p.lastStarted = *snap.RequestStartedAt
		fmt.Fprintf(p.out, "Waiting for %s...\n", snap.DisplayName)
	}
	if n := snap.Notice; n != nil && (!n.RaisedAt.Equal(p.lastNotice.RaisedAt) || n.Message != p.lastNotice.Message) {
		p.lastNotice = *n
		fmt.Fprintf(p.out, "! %s\n", snap.Notice.Message)
	}
	if !reflect.DeepEqual(snap.View, p.lastView) {
		p.lastView = snap.View
		if err := render.WriteText(p.out, snap.View); err != nil {
			return
		}
	}
}

// Printf writes a line outside of session notifications.
func (p *Printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// WriteView prints v regardless of what was printed before.
func (p *Printer) WriteView(v render.View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = render.WriteText(p.out, v)
}
