package base

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/cockroachdb/errors"
)

var mailboxWriteErrors = vm.GetOrCreateCounter("rkv_mailbox_write_errors_total")

// --------------------------------------------------------------------------
// Units
// --------------------------------------------------------------------------

type unitKind uint8

const (
	unitInt unitKind = iota + 1
	unitBytes
)

// unit is one immutable transport operation
type unit struct {
	kind   unitKind
	value  int32  // unitInt
	buf    []byte // unitBytes, owned by the submitter
	offset int
	length int
}

// --------------------------------------------------------------------------
// Mailbox
// --------------------------------------------------------------------------

// Mailbox is a single-slot handoff between producers and one transport goroutine
// that owns the writer. At most one unit is in flight: a submission waits until
// the write of the previous unit finished, then places its unit and returns.
// For N sequential submissions the write of unit k therefore completes before
// submission k+1 returns.
//
// A failed write is logged and counted and stops the transport goroutine. The
// receiver may have seen a partial unit, so every later submission fails with
// an error marked as common.ErrWriteFailed.
type Mailbox struct {
	w    io.Writer
	slot chan unit
	free chan struct{} // holds a token while no unit is in flight

	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// failed is closed after err was set by the transport goroutine
	failed chan struct{}
	err    error

	writeErrors atomic.Uint64
}

// NewMailbox creates a mailbox and starts its transport goroutine
func NewMailbox(w io.Writer) *Mailbox {
	m := &Mailbox{
		w:      w,
		slot:   make(chan unit, 1),
		free:   make(chan struct{}, 1),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
		failed: make(chan struct{}),
	}
	m.free <- struct{}{}

	go m.run()
	return m
}

// SubmitInt hands an Int unit to the transport goroutine
func (m *Mailbox) SubmitInt(ctx context.Context, v int32) error {
	return m.submit(ctx, unit{kind: unitInt, value: v})
}

// SubmitBytes hands a view over buf[offset:offset+length] to the transport goroutine.
// buf must not be modified until the next submission returned.
func (m *Mailbox) SubmitBytes(ctx context.Context, buf []byte, offset, length int) error {
	if offset < 0 || length < 0 || offset+length > len(buf) {
		return errors.AssertionFailedf("invalid view [%d, %d) over %d bytes", offset, offset+length, len(buf))
	}
	return m.submit(ctx, unit{kind: unitBytes, buf: buf, offset: offset, length: length})
}

func (m *Mailbox) submit(ctx context.Context, u unit) error {
	// wait until the previous unit was written
	select {
	case <-m.free:
	case <-m.failed:
		return m.err
	case <-m.closed:
		return common.ErrMailboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-m.closed:
		return common.ErrMailboxClosed
	default:
	}

	// the slot is empty while we hold the token, this never blocks
	m.slot <- u
	return nil
}

// run is the transport goroutine
func (m *Mailbox) run() {
	defer close(m.done)

	for {
		select {
		case u := <-m.slot:
			if err := m.write(u); err != nil {
				m.writeErrors.Add(1)
				mailboxWriteErrors.Inc()
				Logger.Errorf("mailbox write failed: %v", err)

				// the token is not returned, waiting submitters see failed
				m.err = errors.Mark(errors.Wrap(err, "mailbox write failed"), common.ErrWriteFailed)
				close(m.failed)
				return
			}
			m.free <- struct{}{}
		case <-m.closed:
			return
		}
	}
}

// write performs exactly one transport operation for a unit
func (m *Mailbox) write(u unit) error {
	switch u.kind {
	case unitInt:
		return writeInt(m.w, u.value)
	case unitBytes:
		return writeBytes(m.w, u.buf[u.offset:u.offset+u.length])
	default:
		panic(fmt.Sprintf("unknown mailbox unit kind %d", u.kind))
	}
}

// WriteErrors returns the number of failed writes
func (m *Mailbox) WriteErrors() uint64 {
	return m.writeErrors.Load()
}

// Err returns the write error that stopped the mailbox, or nil
func (m *Mailbox) Err() error {
	select {
	case <-m.failed:
		return m.err
	default:
		return nil
	}
}

// Close stops the transport goroutine. A unit that was placed but not yet
// written may be dropped. Close does not close the writer.
func (m *Mailbox) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
	})
	<-m.done
	return nil
}
