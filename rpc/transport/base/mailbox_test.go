package base

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/cockroachdb/errors"
)

// recordingWriter records every write and can be slowed down or made to fail
type recordingWriter struct {
	mu        sync.Mutex
	writes    [][]byte
	completed atomic.Int64
	delay     time.Duration
	failFirst int // number of writes that fail
}

func (w *recordingWriter) Write(p []byte) (int, error) {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failFirst > 0 {
		w.failFirst--
		w.completed.Add(1)
		return 0, errors.New("write failed")
	}
	w.writes = append(w.writes, append([]byte(nil), p...))
	w.completed.Add(1)
	return len(p), nil
}

func (w *recordingWriter) snapshot() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]byte(nil), w.writes...)
}

// waitFor waits until the writer completed n writes
func waitFor(t *testing.T, w *recordingWriter, n int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for w.completed.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %d writes, got %d", n, w.completed.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMailboxUnits(t *testing.T) {
	w := &recordingWriter{}
	m := NewMailbox(w)
	defer m.Close()

	ctx := context.Background()
	buf := []byte("0123456789")

	if err := m.SubmitInt(ctx, 258); err != nil {
		t.Fatalf("SubmitInt failed: %v", err)
	}
	if err := m.SubmitInt(ctx, -3); err != nil {
		t.Fatalf("SubmitInt failed: %v", err)
	}
	if err := m.SubmitBytes(ctx, buf, 2, 5); err != nil {
		t.Fatalf("SubmitBytes failed: %v", err)
	}
	waitFor(t, w, 3)

	expected := [][]byte{
		{0, 0, 1, 2},
		{0xff, 0xff, 0xff, 0xfd},
		[]byte("23456"),
	}
	writes := w.snapshot()
	if len(writes) != len(expected) {
		t.Fatalf("Expected %d writes, got %d", len(expected), len(writes))
	}
	for i := range expected {
		if !bytes.Equal(writes[i], expected[i]) {
			t.Errorf("Write %d: expected %v, got %v", i, expected[i], writes[i])
		}
	}
}

func TestMailboxSequentialHandoff(t *testing.T) {
	w := &recordingWriter{delay: 2 * time.Millisecond}
	m := NewMailbox(w)
	defer m.Close()

	ctx := context.Background()
	const n = 20

	for k := 0; k < n; k++ {
		if err := m.SubmitInt(ctx, int32(k)); err != nil {
			t.Fatalf("SubmitInt %d failed: %v", k, err)
		}
		// the write of unit k-1 must be complete once submission k returned
		if done := w.completed.Load(); done < int64(k) {
			t.Fatalf("Submission %d returned with only %d completed writes", k, done)
		}
	}
	waitFor(t, w, n)

	for k, write := range w.snapshot() {
		if !bytes.Equal(write, []byte{0, 0, 0, byte(k)}) {
			t.Errorf("Write %d out of order: %v", k, write)
		}
	}
}

func TestMailboxConcurrentProducers(t *testing.T) {
	w := &recordingWriter{}
	m := NewMailbox(w)
	defer m.Close()

	const producers = 8
	const perProducer = 50

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := m.SubmitInt(context.Background(), int32(p)); err != nil {
					t.Errorf("SubmitInt failed: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()
	waitFor(t, w, producers*perProducer)

	if got := len(w.snapshot()); got != producers*perProducer {
		t.Errorf("Expected %d writes, no unit may be lost, got %d", producers*perProducer, got)
	}
}

func TestMailboxWriteErrors(t *testing.T) {
	w := &recordingWriter{failFirst: 1}
	m := NewMailbox(w)
	defer m.Close()

	ctx := context.Background()
	if err := m.SubmitInt(ctx, 1); err != nil {
		t.Fatalf("SubmitInt failed: %v", err)
	}
	waitFor(t, w, 1)

	// nothing is written after a failed unit, the receiver would be out of sync
	for i := 0; i < 3; i++ {
		err := m.SubmitInt(ctx, int32(i))
		if !errors.Is(err, common.ErrWriteFailed) {
			t.Fatalf("Submission %d: expected ErrWriteFailed, got %v", i, err)
		}
	}
	if err := m.SubmitBytes(ctx, []byte("x"), 0, 1); !errors.Is(err, common.ErrWriteFailed) {
		t.Errorf("Expected ErrWriteFailed for SubmitBytes, got %v", err)
	}

	if m.WriteErrors() != 1 {
		t.Errorf("Expected 1 write error, got %d", m.WriteErrors())
	}
	if !errors.Is(m.Err(), common.ErrWriteFailed) {
		t.Errorf("Expected Err to report the failed write, got %v", m.Err())
	}
	if got := len(w.snapshot()); got != 0 {
		t.Errorf("Expected no successful writes, got %d", got)
	}
}

func TestMailboxWriteErrorWakesWaitingSubmitter(t *testing.T) {
	w := &recordingWriter{failFirst: 1, delay: 50 * time.Millisecond}
	m := NewMailbox(w)
	defer m.Close()

	if err := m.SubmitInt(context.Background(), 1); err != nil {
		t.Fatalf("SubmitInt failed: %v", err)
	}

	// waits for the slot while the first write is still running
	errCh := make(chan error, 1)
	go func() { errCh <- m.SubmitInt(context.Background(), 2) }()

	select {
	case err := <-errCh:
		if !errors.Is(err, common.ErrWriteFailed) {
			t.Errorf("Expected ErrWriteFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Waiting submitter was not released by the failed write")
	}
}

func TestMailboxClosed(t *testing.T) {
	m := NewMailbox(&recordingWriter{})
	m.Close()

	if err := m.SubmitInt(context.Background(), 1); !errors.Is(err, common.ErrMailboxClosed) {
		t.Errorf("Expected ErrMailboxClosed, got %v", err)
	}
	// closing twice is fine
	m.Close()
}

func TestMailboxContext(t *testing.T) {
	w := &recordingWriter{delay: 200 * time.Millisecond}
	m := NewMailbox(w)
	defer m.Close()

	// occupies the transport goroutine
	if err := m.SubmitInt(context.Background(), 1); err != nil {
		t.Fatalf("SubmitInt failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := m.SubmitInt(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected a deadline error while the slot is busy, got %v", err)
	}
}

func TestMailboxInvalidView(t *testing.T) {
	m := NewMailbox(&recordingWriter{})
	defer m.Close()

	err := m.SubmitBytes(context.Background(), make([]byte, 4), 2, 5)
	if !errors.IsAssertionFailure(err) {
		t.Errorf("Expected an assertion failure for an out of range view, got %v", err)
	}
}

func TestMailboxUnknownUnitPanics(t *testing.T) {
	m := NewMailbox(&recordingWriter{})
	defer m.Close()

	defer func() {
		if recover() == nil {
			t.Errorf("Expected a panic for an unknown unit kind")
		}
	}()
	_ = m.write(unit{kind: 99})
}
