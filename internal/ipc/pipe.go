package ipc

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Pipe is a half-duplex, in-process message channel between the core event
// loop and one worker subsystem (spec §5). It is implemented over an
// io.Pipe rather than an OS pipe: both ends live in the same process, but
// the wire format is the same length-prefixed framing a real subprocess
// boundary would use, so the protocol is exercised and unit-testable
// without paying process-spawn cost.
type Pipe struct {
	coreW        *io.PipeWriter // core writes here
	workerR      *io.PipeReader
	workerW      *io.PipeWriter // worker writes here
	coreReadPipe *io.PipeReader

	closeOnce sync.Once
}

// NewPipe creates a connected pair: Core() is read/written by the core
// event loop, Worker() by the worker goroutine.
func NewPipe() *Pipe {
	toWorkerR, toWorkerW := io.Pipe()
	toCoreR, toCoreW := io.Pipe()
	return &Pipe{
		coreW:        toWorkerW,
		coreReadPipe: toCoreR,
		workerR:      toWorkerR,
		workerW:      toCoreW,
	}
}

// End is one side of a Pipe: a ReadWriter plus Close, matching the shape a
// real os.Pipe-backed subprocess boundary would present.
type End struct {
	r io.Reader
	w io.Writer
	c []io.Closer
}

func (e End) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e End) Write(p []byte) (int, error) { return e.w.Write(p) }
func (e End) Close() error {
	var first error
	for _, c := range e.c {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Core returns the end of the pipe the core event loop uses.
func (p *Pipe) Core() End {
	return End{r: p.coreReadPipe, w: p.coreW, c: []io.Closer{p.coreReadPipe, p.coreW}}
}

// Worker returns the end of the pipe the worker goroutine uses.
func (p *Pipe) Worker() End {
	return End{r: p.workerR, w: p.workerW, c: []io.Closer{p.workerR, p.workerW}}
}

// Close closes both ends.
func (p *Pipe) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.Core().Close()
		if werr := p.Worker().Close(); err == nil {
			err = werr
		}
	})
	return err
}

// Handler processes one decoded message received over a Pipe end. It
// returns the response payload to write back, or nil to send no reply.
type Handler func(ctx context.Context, msg []byte) ([]byte, error)

// Serve drains frames from end.Read, dispatching each to handle, until ctx
// is cancelled or end.Read returns io.EOF (the peer closed its write side,
// the normal shutdown signal for a worker boundary). Its signature is not a
// supervisor.TaskFunc; to run it under a supervisor.Supervisor a caller
// wraps it in a closure that binds end and handle.
func Serve(ctx context.Context, end End, handle Handler) error {
	type result struct {
		msg []byte
		err error
	}
	frames := make(chan result)
	go func() {
		for {
			msg, err := ReadFrame(end)
			frames <- result{msg, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-frames:
			if r.err != nil {
				if r.err == io.EOF {
					return nil
				}
				return fmt.Errorf("ipc: serve read: %w", r.err)
			}
			reply, err := handle(ctx, r.msg)
			if err != nil {
				return fmt.Errorf("ipc: handler error: %w", err)
			}
			if reply != nil {
				if err := WriteFrame(end, reply); err != nil {
					return fmt.Errorf("ipc: serve write: %w", err)
				}
			}
		}
	}
}
