package reactor

import (
	"time"

	"go.uber.org/zap"
)

// Loop drives one reactor at a time: it waits for readiness, expires
// timeouts, and dispatches per-event callbacks via the Registry. The loop
// itself is infallible short of Stop being called — any failure inside a
// handler callback removes that fd and continues (§4.1 Fault handling).
type Loop struct {
	reactor  Reactor
	registry *Registry
	log      *zap.Logger
	stopping bool
}

// NewLoop builds a Loop over the given reactor and registry.
func NewLoop(r Reactor, reg *Registry, log *zap.Logger) *Loop {
	return &Loop{reactor: r, registry: reg, log: log.Named("event_loop")}
}

// Stop asks the loop to return after finishing its current iteration.
func (l *Loop) Stop() { l.stopping = true }

// Run executes iterations until Stop is called or the reactor fails fatally.
func (l *Loop) Run() error {
	for !l.stopping {
		if err := l.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce executes exactly one reactor cycle: wait, expire deadlines,
// dispatch. Exposed separately so tests can single-step the loop.
func (l *Loop) RunOnce() error {
	timeout := l.waitTimeout()
	events, err := l.reactor.Wait(timeout)
	if err != nil {
		return err
	}

	now := time.Now()

	// Deadline scan happens before dispatching reactor-delivered events so
	// that a connection which is both readable and expired still gets a
	// Timeout synthesized; ordering within the same fd is resolved below.
	expired := l.registry.ExpiredDeadlines(now)
	byFd := make(map[int]Readiness, len(events)+len(expired))
	for _, ev := range events {
		byFd[ev.Fd] = ev.Readiness
	}
	for _, fd := range expired {
		byFd[fd] |= Timeout
	}

	for fd, bits := range byFd {
		l.dispatch(fd, bits)
	}
	return nil
}

// dispatch applies the intra-iteration precedence ERROR -> READ -> WRITE ->
// TIMEOUT for a single fd's observed readiness, guarding every callback
// with a recover so a panicking handler cannot unwind past the loop.
func (l *Loop) dispatch(fd int, bits Readiness) {
	h, ok := l.registry.Lookup(fd)
	if !ok {
		return
	}

	if bits.Has(Error) {
		if l.safeCall(fd, h.OnError) {
			l.registry.Remove(fd)
			return
		}
	}
	if bits.Has(Read) {
		if l.safeCall(fd, h.OnReadable) {
			l.registry.Remove(fd)
			return
		}
	}
	if bits.Has(Write) {
		if l.safeCall(fd, h.OnWritable) {
			l.registry.Remove(fd)
			return
		}
	}
	if bits.Has(Timeout) {
		if l.safeCall(fd, h.OnTimeout) {
			l.registry.Remove(fd)
			return
		}
	}
}

// safeCall invokes fn if non-nil, recovering from any panic and logging
// it as a fatal handler error. Returns true only if fn panicked; a nil fn
// is skipped and returns false.
func (l *Loop) safeCall(fd int, fn func(int)) (fatal bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("handler panic, removing fd", zap.Int("fd", fd), zap.Any("panic", r))
			fatal = true
		}
	}()
	fn(fd)
	return false
}

func (l *Loop) waitTimeout() time.Duration {
	deadline, ok := l.registry.NextDeadline()
	if !ok {
		return MaxWait
	}
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	if d > MaxWait {
		d = MaxWait
	}
	return d
}
