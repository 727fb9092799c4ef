package queue

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/cockroachdb/errors"
)

func TestPipeHandshake(t *testing.T) {
	a, b := NewPipe(4)
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	type result struct {
		peer uint8
		err  error
	}
	done := make(chan result, 1)
	go func() {
		peer, err := b.Handshake(ctx, 2)
		done <- result{peer, err}
	}()

	peer, err := a.Handshake(ctx, 1)
	if err != nil || peer != 2 {
		t.Fatalf("Side a: expected peer 2, got %d (%v)", peer, err)
	}
	if r := <-done; r.err != nil || r.peer != 1 {
		t.Fatalf("Side b: expected peer 1, got %d (%v)", r.peer, r.err)
	}
}

func TestPipeOrder(t *testing.T) {
	a, b := NewPipe(16)
	defer a.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := a.PutChunk(ctx, []byte{byte(i)}); err != nil {
			t.Fatalf("PutChunk failed: %v", err)
		}
	}

	// empty chunks are never delivered
	if err := a.PutChunk(ctx, nil); err != nil {
		t.Fatalf("PutChunk of an empty chunk failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		chunk, err := b.NextChunk(ctx)
		if err != nil {
			t.Fatalf("NextChunk failed: %v", err)
		}
		if !bytes.Equal(chunk, []byte{byte(i)}) {
			t.Fatalf("Expected chunk %d, got %v", i, chunk)
		}
	}
}

func TestPipeClose(t *testing.T) {
	a, b := NewPipe(1)

	errCh := make(chan error, 1)
	go func() {
		_, err := b.NextChunk(context.Background())
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	a.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, common.ErrConnectionClosed) {
			t.Errorf("Expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("NextChunk did not return after Close")
	}

	if err := b.PutChunk(context.Background(), []byte("x")); !errors.Is(err, common.ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed from PutChunk, got %v", err)
	}
}
