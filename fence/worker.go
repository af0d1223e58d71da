// Copyright 2024 The hwcompose Authors. All rights reserved.

package fence

import (
	"sync"

	"hwcompose/buffer"
)

// Worker is a single cooperative goroutine, one per display, that
// waits on the previous commit's out-fence before releasing the
// buffer references that commit was holding, and gates the next
// commit on that fence having signalled (so the kernel never sees a
// new atomic commit while it is still reading the old framebuffers).
type Worker struct {
	mu      sync.Mutex
	pending []*buffer.Handle
	kms     Fence // snapshot of the most recent commit's out-fence
	ready   Fence // a dup used to gate the next frame
	handler buffer.Handler

	work chan struct{}
	done chan struct{}
	once sync.Once
}

// NewWorker creates a Worker that releases buffers through handler.
func NewWorker(handler buffer.Handler) *Worker {
	w := &Worker{
		handler: handler,
		work:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// WaitFence takes ownership of outFence, snapshots bufs as the
// frame's buffer references, and wakes the worker to wait on it.
// It duplicates outFence first so EnsureReadyForNextFrame has an
// independent copy to gate the next commit on.
func (w *Worker) WaitFence(outFence Fence, bufs []*buffer.Handle) error {
	ready, err := outFence.Dup()
	if err != nil {
		outFence.Close()
		return err
	}
	w.mu.Lock()
	w.kms = outFence
	w.ready = ready
	w.pending = append(w.pending[:0], bufs...)
	w.mu.Unlock()
	select {
	case w.work <- struct{}{}:
	default:
	}
	return nil
}

// EnsureReadyForNextFrame blocks the caller until the previous
// commit's fence has signalled, gating the next atomic commit so the
// kernel does not reject it with EBUSY. The wait has no timeout and
// logs nothing; an error from the wait is returned to the caller.
func (w *Worker) EnsureReadyForNextFrame() error {
	w.mu.Lock()
	ready := w.ready
	w.ready = Fence{Invalid}
	w.mu.Unlock()
	if !ready.Valid() {
		return nil
	}
	err := ready.Wait(-1)
	ready.Close()
	return err
}

// run is the worker's routine: it polls the in-flight KMS fence to
// completion, then unregisters the buffers that commit referenced.
func (w *Worker) run() {
	for {
		select {
		case <-w.work:
			w.mu.Lock()
			k := w.kms
			w.kms = Fence{Invalid}
			bufs := w.pending
			w.pending = nil
			w.mu.Unlock()

			if k.Valid() {
				k.Wait(-1)
				k.Close()
			}
			for _, b := range bufs {
				if b.Unref() {
					w.handler.Destroy(b)
				}
			}
		case <-w.done:
			return
		}
	}
}

// Exit flushes any pending wait and terminates the worker. Pending
// buffers are released immediately rather than waited on.
func (w *Worker) Exit() {
	w.once.Do(func() {
		close(w.done)
		w.mu.Lock()
		bufs := w.pending
		w.pending = nil
		k := w.kms
		w.kms = Fence{Invalid}
		ready := w.ready
		w.ready = Fence{Invalid}
		w.mu.Unlock()
		k.Close()
		ready.Close()
		for _, b := range bufs {
			if b.Unref() {
				w.handler.Destroy(b)
			}
		}
	})
}
