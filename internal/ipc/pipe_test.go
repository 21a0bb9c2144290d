package ipc

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestServeEchoesViaHandler(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = Serve(ctx, p.Worker(), func(ctx context.Context, msg []byte) ([]byte, error) {
			reply := append([]byte("echo:"), msg...)
			return reply, nil
		})
	}()

	core := p.Core()
	if err := WriteFrame(core, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	reply, err := ReadFrame(core)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(reply, []byte("echo:ping")) {
		t.Fatalf("got %q", reply)
	}
}

func TestServeReturnsOnPeerClose(t *testing.T) {
	p := NewPipe()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, p.Worker(), func(ctx context.Context, msg []byte) ([]byte, error) {
			return nil, nil
		})
	}()

	_ = p.Core().Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil error on clean peer close, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after peer closed")
	}
}

func TestServeReturnsOnContextCancel(t *testing.T) {
	p := NewPipe()
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, p.Worker(), func(ctx context.Context, msg []byte) ([]byte, error) {
			return nil, nil
		})
	}()

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancel")
	}
}
