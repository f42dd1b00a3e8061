package session

import "sync"

// eventLoop runs posted functions one at a time, in FIFO order, on a single
// goroutine. Every mutation of machine state goes through it.
type eventLoop struct {
	mu      sync.Mutex
	queue   []func()
	started bool
	stopped bool
	wake    chan struct{}
	done    chan struct{}
}

func newEventLoop() *eventLoop {
	return &eventLoop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// post enqueues fn. It reports false once the loop has been stopped, in
// which case fn will never run.
func (l *eventLoop) post(fn func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// start runs the loop on a new goroutine. Later calls do nothing.
func (l *eventLoop) start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return
	}
	l.started = true
	go l.run()
}

func (l *eventLoop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			stopped := l.stopped
			l.mu.Unlock()
			if stopped {
				return
			}
			<-l.wake
			continue
		}
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		fn()
	}
}

// stop discards queued work and lets run return once the current function
// finishes. Safe to call from the loop goroutine.
func (l *eventLoop) stop() {
	l.mu.Lock()
	l.stopped = true
	l.queue = nil
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// flush blocks until everything posted before it has run, or the loop has
// exited. It returns at once if the loop was never started. Must not be
// called from the loop goroutine.
func (l *eventLoop) flush() {
	l.mu.Lock()
	started := l.started
	l.mu.Unlock()
	if !started {
		return
	}

	marker := make(chan struct{})
	if !l.post(func() { close(marker) }) {
		<-l.done
		return
	}
	select {
	case <-marker:
	case <-l.done:
	}
}
