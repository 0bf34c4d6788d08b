package iotmqtt

import (
	"io"
	"sync"
)

// boundedPipeCapacity is the 128 KiB ceiling spec.md §4.2 requires for the
// WebSocket-to-stream adapter, sized to hold one oversized MQTT control
// packet without forcing a partial read mid-message.
const boundedPipeCapacity = 128 * 1024

// boundedPipe is an in-memory byte pipe bounded to a fixed capacity,
// grounded on the teacher's channel-based mqttutil.SyncQueue: one side
// pushes whole WebSocket binary messages, the other drains them as a
// plain io.Reader byte stream. Unlike io.Pipe, a Write that would exceed
// the capacity blocks until the reader catches up instead of pairing
// writes and reads 1:1, which matters here because a single WebSocket
// message may be smaller or larger than the codec's next Read call.
type boundedPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
	err    error
}

func newBoundedPipe() *boundedPipe {
	p := &boundedPipe{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Write blocks until enough of buf has been consumed by Read to admit it,
// or the pipe is closed. It never truncates a message: if len(b) exceeds
// boundedPipeCapacity the write still succeeds once the buffer has
// drained far enough, it just blocks longer.
func (p *boundedPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	written := 0
	for written < len(b) {
		if p.closed {
			return written, io.ErrClosedPipe
		}
		room := boundedPipeCapacity - len(p.buf)
		if room <= 0 {
			p.cond.Wait()
			continue
		}
		n := len(b) - written
		if n > room {
			n = room
		}
		p.buf = append(p.buf, b[written:written+n]...)
		written += n
		p.cond.Broadcast()
	}
	return written, nil
}

// Read blocks until at least one byte is available, the pipe is closed,
// or CloseWithError has supplied a terminal error.
func (p *boundedPipe) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.buf) == 0 {
		if p.closed {
			if p.err != nil {
				return 0, p.err
			}
			return 0, io.EOF
		}
		p.cond.Wait()
	}
	n := copy(b, p.buf)
	p.buf = p.buf[n:]
	p.cond.Broadcast()
	return n, nil
}

// Close unblocks any pending Read/Write with io.EOF / io.ErrClosedPipe.
func (p *boundedPipe) Close() error {
	return p.CloseWithError(nil)
}

// CloseWithError closes the pipe, causing subsequent (and any blocked)
// Read calls to return err instead of io.EOF.
func (p *boundedPipe) CloseWithError(err error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.err = err
	p.cond.Broadcast()
	return nil
}
