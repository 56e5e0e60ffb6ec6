package workerpool

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/diylxy/uvc-gadget-multi-planar/internal/logging"
)

var log = logging.L("workerpool")

// Group runs a fixed set of long-lived goroutines and joins them.
//
// Unlike a task pool, each goroutine owns its loop for the lifetime of the
// group; the loop function returns when its own shutdown condition is met.
type Group struct {
	name    string
	wg      sync.WaitGroup
	running atomic.Int32
	panics  atomic.Int32
	done    chan struct{}
	once    sync.Once
}

// New creates an empty group. name tags the group's log lines.
func New(name string) *Group {
	return &Group{
		name: name,
		done: make(chan struct{}),
	}
}

// Go starts fn on a new goroutine. A panic in fn is recovered and logged; the
// goroutine then counts as exited.
func (g *Group) Go(worker string, fn func()) {
	g.wg.Add(1)
	g.running.Add(1)
	go func() {
		defer g.exit()
		defer func() {
			if r := recover(); r != nil {
				g.panics.Add(1)
				log.Error("worker panicked",
					"group", g.name,
					logging.KeyWorker, worker,
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}

func (g *Group) exit() {
	g.running.Add(-1)
	g.wg.Done()
}

// Running returns the number of goroutines that have not returned yet.
func (g *Group) Running() int {
	return int(g.running.Load())
}

// Panics returns how many goroutines ended in a recovered panic.
func (g *Group) Panics() int {
	return int(g.panics.Load())
}

// Done returns a channel closed once every goroutine started so far has
// returned. Go must not be called after Done.
func (g *Group) Done() <-chan struct{} {
	g.once.Do(func() {
		go func() {
			g.wg.Wait()
			close(g.done)
		}()
	})
	return g.done
}

// Wait blocks until every goroutine has returned or ctx ends, whichever comes
// first. It returns ctx.Err() on timeout; the goroutines keep running.
func (g *Group) Wait(ctx context.Context) error {
	select {
	case <-g.Done():
		return nil
	case <-ctx.Done():
		log.Warn("worker group join timed out", "group", g.name, "running", g.Running())
		return ctx.Err()
	}
}
