//go:build linux

package blockdev

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"
)

// AsyncWriter issues positional writes asynchronously with a bounded
// number in flight. Each prepared write gets a completion key; WaitFor
// blocks until that write has been handed to the device.
//
// The prepare/submit/wait-for-key contract mirrors a kernel async-IO
// ring, realized with one goroutine per in-flight write bounded by a
// weighted semaphore.
type AsyncWriter struct {
	fd        int
	depth     int
	sem       *semaphore.Weighted
	prepared  []preparedIo
	completed map[uint32]chan error
	nextKey   uint32
}

type preparedIo struct {
	key    uint32
	offset int64
	buf    []byte
}

// NewAsyncWriter creates a writer against fd with at most depth writes
// in flight.
func NewAsyncWriter(fd int, depth int) (*AsyncWriter, error) {
	if depth <= 0 {
		return nil, NewInvalidConfigError("queue depth must be positive, got %d", depth)
	}
	return &AsyncWriter{
		fd:        fd,
		depth:     depth,
		sem:       semaphore.NewWeighted(int64(depth)),
		completed: make(map[uint32]chan error),
		nextKey:   1,
	}, nil
}

// Depth returns the maximum number of in-flight writes.
func (w *AsyncWriter) Depth() int { return w.depth }

// PrepareWrite queues one write of buf at offset and returns its
// completion key. Keys are never zero. The buffer must stay untouched
// until WaitFor returns for that key.
func (w *AsyncWriter) PrepareWrite(offset int64, buf []byte) uint32 {
	key := w.nextKey
	w.nextKey++
	if w.nextKey == 0 {
		w.nextKey = 1
	}
	w.prepared = append(w.prepared, preparedIo{key: key, offset: offset, buf: buf})
	return key
}

// Submit launches all prepared writes. It blocks when more than the
// configured depth would be in flight.
func (w *AsyncWriter) Submit() error {
	for _, p := range w.prepared {
		if err := w.sem.Acquire(context.Background(), 1); err != nil {
			return NewIoError("acquire submission slot: %v", err)
		}
		done := make(chan error, 1)
		w.completed[p.key] = done
		go func(p preparedIo) {
			done <- pwriteFull(w.fd, p.buf, p.offset)
		}(p)
	}
	w.prepared = w.prepared[:0]
	return nil
}

// WaitFor blocks until the write behind key completes.
func (w *AsyncWriter) WaitFor(key uint32) error {
	done, ok := w.completed[key]
	if !ok {
		return NewIoError("unknown aio key %d", key)
	}
	err := <-done
	delete(w.completed, key)
	w.sem.Release(1)
	return err
}

// Drain waits for every in-flight write, swallowing their errors. Used
// on abort paths so no submission outlives the engine.
func (w *AsyncWriter) Drain() {
	for key := range w.completed {
		_ = w.WaitFor(key)
	}
}

func pwriteFull(fd int, buf []byte, offset int64) error {
	for len(buf) > 0 {
		n, err := unix.Pwrite(fd, buf, offset)
		if err != nil {
			return NewIoError("pwrite at %d: %v", offset, err)
		}
		if n == 0 {
			return NewIoError("short write at %d", offset)
		}
		buf = buf[n:]
		offset += int64(n)
	}
	return nil
}
