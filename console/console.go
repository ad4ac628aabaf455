// Package console implements the serial/console collaborator: a
// ring-buffered output sink wired to scall's Cputs/Cgetc syscalls and a
// diagnostic dump wired to trap's catch-all handler. It wraps circbuf
// (adapted to plain byte slices, since fdops's Userio_i no longer exists
// in this tree), caller (for the stack dump a fatal trap prints), and
// stats (for the boot-time counters every console write bumps).
package console

import (
	"sync"

	"golang.org/x/text/width"

	"caller"
	"circbuf"
	"kpanic"
	"mem"
	"stats"
)

// / Cons_t is the kernel's single console: a lazily-allocated page-backed
// / ring buffer feeding a real output sink, guarded by its own lock since
// / Cputs/Cgetc run with the big kernel lock held but Write can also be
// / called directly by a fatal trap path already holding it.
type Cons_t struct {
	sync.Mutex
	buf    circbuf.Circbuf_t
	out    func(string)
	inited bool

	Writes stats.Counter_t
	Bytes  stats.Counter_t
	Faults stats.Counter_t
}

var Console Cons_t

// / Init wires the console's backing ring buffer to m (almost always
// / mem.Physmem) and out to the real byte sink — a UART write loop on
// / real hardware, or a test double in unit tests. Must run once before
// / any Write/Cgetc call.
func (c *Cons_t) Init(m mem.Page_i, out func(string)) {
	c.Lock()
	defer c.Unlock()
	c.buf.Cb_init(int(mem.PGSIZE), m)
	c.out = out
	c.inited = true
}

// / Write buffers s through the ring buffer and flushes it to the sink,
// / narrowing East-Asian wide/ambiguous runes first so a column-oriented
// / serial terminal doesn't misalign diagnostic output.
func (c *Cons_t) Write(s string) {
	c.Lock()
	defer c.Unlock()
	if !c.inited || c.out == nil {
		return
	}
	c.Writes.Inc()

	// A serial terminal expects one column per rune; narrow any
	// fullwidth/ambiguous East Asian forms so line art and box-drawing
	// diagnostics a trap handler prints don't misalign.
	widened := []byte(width.Narrow.String(s))

	for len(widened) > 0 {
		n, err := c.buf.Copyin(widened)
		if err != 0 {
			c.Faults.Inc()
			return
		}
		if n == 0 {
			c.drain()
			continue
		}
		widened = widened[n:]
		c.Bytes.Inc()
	}
	c.drain()
}

// drain flushes whatever the ring buffer is currently holding to out.
// Caller must hold c.Mutex.
func (c *Cons_t) drain() {
	tmp := make([]uint8, c.buf.Bufsz())
	for !c.buf.Empty() {
		n, err := c.buf.Copyout(tmp)
		if err != 0 || n == 0 {
			return
		}
		c.out(string(tmp[:n]))
	}
}

var getc func() int

// / SetInput registers the keyboard/serial-input collaborator Cgetc reads
// / from; nil (the default) makes Cgetc report "nothing waiting".
func SetInput(f func() int) {
	getc = f
}

// / Cgetc returns the next buffered input byte, or 0 if none is waiting.
func Cgetc() int {
	if getc == nil {
		return 0
	}
	return getc()
}

// / Fatal is trap's catch-all DestroyDiag diagnostic sink: it writes
// / component and msg to the console along with the caller stack. Unlike
// / kpanic.Fatal it does not halt — an unhandled trap's offending
// / environment gets destroyed and the rest of the kernel keeps running,
// / so this is a diagnostic log line, not the machine-halt path.
func Fatal(component string, msg string) {
	Console.Write("panic: " + component + ": " + msg + "\n")
	caller.Callerdump(3)
}

// / AttachFatal registers the console as kpanic's diagnostic sink, so a
// / true kpanic.Fatal call — an invariant violation the kernel cannot
// / recover from at all — prints through this console before the calling
// / CPU halts forever.
func AttachFatal() {
	kpanic.SetReport(func(component, msg string) {
		Console.Write("fatal: " + component + ": " + msg + "\n")
		caller.Callerdump(3)
	})
}
