package base

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/cockroachdb/errors"
)

// Stream implements transport.IStream on top of a net.Conn.
//
// Outgoing: every chunk becomes two mailbox units, Int(len(chunk)) followed
// by Bytes(chunk). Non-positive Ints are control words; Int(-origin) is the
// handshake and is always the first unit on a connection.
//
// Incoming: a reader parses the same sequence from the connection.
type Stream struct {
	conn    net.Conn
	mailbox *Mailbox
	reader  *bufio.Reader

	// maxChunk bounds the length of an incoming chunk (0 = unbounded)
	maxChunk int

	// sendMu keeps the Int and Bytes unit of one chunk together
	sendMu sync.Mutex

	closeOnce sync.Once
}

// NewStream creates a stream over conn. maxChunk bounds incoming chunks, a
// larger length means the stream is out of sync and NextChunk fails.
func NewStream(conn net.Conn, maxChunk int) *Stream {
	return &Stream{
		conn:     conn,
		mailbox:  NewMailbox(conn),
		reader:   bufio.NewReaderSize(conn, 64*1024),
		maxChunk: maxChunk,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IStream)
// --------------------------------------------------------------------------

func (s *Stream) Handshake(ctx context.Context, origin uint8) (uint8, error) {
	if origin == 0 {
		return 0, errors.AssertionFailedf("origin 0 is reserved")
	}

	s.sendMu.Lock()
	err := s.mailbox.SubmitInt(ctx, -int32(origin))
	s.sendMu.Unlock()
	if err != nil {
		return 0, errors.Wrap(err, "failed to send handshake")
	}

	stop := s.interruptOn(ctx)
	defer stop()

	v, err := readInt(s.reader)
	if err != nil {
		return 0, s.readError(ctx, err, "failed to read handshake")
	}
	if v >= 0 || v < -255 {
		return 0, errors.Wrapf(common.ErrHandshake, "unexpected control word %d", v)
	}
	return uint8(-v), nil
}

func (s *Stream) PutChunk(ctx context.Context, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if err := s.mailbox.SubmitInt(ctx, int32(len(chunk))); err != nil {
		return err
	}
	return s.mailbox.SubmitBytes(ctx, chunk, 0, len(chunk))
}

func (s *Stream) NextChunk(ctx context.Context) ([]byte, error) {
	stop := s.interruptOn(ctx)
	defer stop()

	for {
		n, err := readInt(s.reader)
		if err != nil {
			return nil, s.readError(ctx, err, "failed to read chunk length")
		}

		// control word, a repeated handshake carries no data
		if n <= 0 {
			Logger.Debugf("ignoring control word %d from %s", n, s.RemoteAddr())
			continue
		}

		if s.maxChunk > 0 && int(n) > s.maxChunk {
			return nil, errors.Wrapf(common.ErrMalformedFrame, "chunk length %d exceeds %d", n, s.maxChunk)
		}

		chunk := make([]byte, n)
		if _, err := io.ReadFull(s.reader, chunk); err != nil {
			return nil, s.readError(ctx, err, "failed to read chunk")
		}
		return chunk, nil
	}
}

func (s *Stream) RemoteAddr() string {
	if addr := s.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		// closing the connection first unblocks a pending write of the mailbox
		err = s.conn.Close()
		s.mailbox.Close()
	})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// WriteErrors returns the number of failed writes of the stream
func (s *Stream) WriteErrors() uint64 {
	return s.mailbox.WriteErrors()
}

// interruptOn aborts blocking reads once ctx is done
func (s *Stream) interruptOn(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() {
		_ = s.conn.SetReadDeadline(time.Now())
	})
}

// readError maps read errors to context and connection errors
func (s *Stream) readError(ctx context.Context, err error, msg string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return errors.Wrap(common.ErrConnectionClosed, msg)
	}
	return errors.Wrap(err, msg)
}
