// Package governor bounds in-flight connections and runs the resilient
// accept loop shared by both front-ends.
package governor

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/paulGUZU/ifproxy/internal/logging"
)

// Governor caps concurrent handlers at MaxConns and retries transient
// accept errors with exponential backoff instead of exiting the process.
//
// The permit pool is a golang.org/x/sync/semaphore.Weighted rather than a
// hand-rolled atomic counter: TryAcquire/Release map directly onto spec
// 4.6's try_acquire()/permit-drop contract, and the package already rides
// along in the example pack's module graph.
type Governor struct {
	sem    *semaphore.Weighted
	active int64
	Log    *logging.Logger
}

// New returns a Governor that admits at most maxConns concurrent handlers.
func New(maxConns int, log *logging.Logger) *Governor {
	return &Governor{sem: semaphore.NewWeighted(int64(maxConns)), Log: log}
}

// TryAcquire attempts to reserve one slot. ok is false when the cap is
// already full (spec's Overloaded outcome).
func (g *Governor) TryAcquire() (release func(), ok bool) {
	if !g.sem.TryAcquire(1) {
		return nil, false
	}
	atomic.AddInt64(&g.active, 1)
	var released bool
	return func() {
		if released {
			return
		}
		released = true
		atomic.AddInt64(&g.active, -1)
		g.sem.Release(1)
	}, true
}

// ActiveCount returns the number of handlers currently holding a permit,
// used by graceful shutdown to wait for in-flight sessions to drain.
func (g *Governor) ActiveCount() int64 {
	return atomic.LoadInt64(&g.active)
}

const (
	backoffInitial = 10 * time.Millisecond
	backoffCeiling = 1 * time.Second
)

// Serve runs the accept loop for l, dispatching each accepted connection
// to handle on its own goroutine with the permit moved into the
// goroutine so its release always happens on handler exit, including a
// recovered panic.
//
// Serve returns only when ctx is done or the listener reports a fatal
// (non-temporary) error.
func (g *Governor) Serve(ctx context.Context, l net.Listener, handle func(net.Conn)) error {
	backoff := backoffInitial

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isTemporary(err) {
				g.Log.Log("governor: transient accept error: " + err.Error())
				time.Sleep(backoff)
				backoff *= 2
				if backoff > backoffCeiling {
					backoff = backoffCeiling
				}
				continue
			}
			g.Log.Error("governor: fatal accept error: " + err.Error())
			return err
		}
		backoff = backoffInitial

		release, ok := g.TryAcquire()
		if !ok {
			g.Log.Log("governor: connection cap reached, rejecting client")
			_ = conn.Close()
			continue
		}

		go g.dispatch(conn, release, handle)
	}
}

func (g *Governor) dispatch(conn net.Conn, release func(), handle func(net.Conn)) {
	defer release()
	defer func() {
		if r := recover(); r != nil {
			g.Log.Error("governor: handler panic recovered")
			_ = conn.Close()
		}
	}()
	handle(conn)
}

// temporaryError is satisfied by net.Error implementations that still
// expose the deprecated Temporary() method on this Go version; accept
// errors from exhausted file descriptors surface this way.
type temporaryError interface {
	Temporary() bool
}

func isTemporary(err error) bool {
	te, ok := err.(temporaryError)
	return ok && te.Temporary()
}
