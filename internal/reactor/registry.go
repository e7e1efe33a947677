package reactor

import "time"

// Handler is one concrete callback set per event-dispatch case, picked by
// the event loop's switch over registry entries rather than virtual
// dispatch. Connection, Listener and CGI handlers in the upper layers all
// satisfy this by wiring their OnReadable/OnWritable/OnTimeout/OnError/Destroy
// methods into a Handler value at registration time.
type Handler struct {
	OnReadable func(fd int)
	OnWritable func(fd int)
	OnError    func(fd int)
	OnTimeout  func(fd int)
	// Destroy is invoked by Remove (never by Detach) and must release any
	// resources the handler alone owns for this fd.
	Destroy func(fd int)
}

type entry struct {
	handler  Handler
	interest Interest
	deadline time.Time // zero means no tracked deadline
}

// Registry maps fd -> handler and tracks the subset of entries carrying a
// deadline, so the event loop can synthesize Timeout events without
// scanning fds that never opted in.
type Registry struct {
	entries map[int]*entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[int]*entry)}
}

// Register adds fd with its handler and interest set. A non-zero deadline
// is the absolute time after which the loop synthesizes a Timeout event
// for fd; a zero deadline means fd has no tracked deadline.
func (r *Registry) Register(fd int, h Handler, interest Interest, deadline time.Time) {
	r.entries[fd] = &entry{handler: h, interest: interest, deadline: deadline}
}

// Lookup returns the handler registered for fd, if any.
func (r *Registry) Lookup(fd int) (Handler, bool) {
	e, ok := r.entries[fd]
	if !ok {
		return Handler{}, false
	}
	return e.handler, true
}

// Interest returns the interest mask currently recorded for fd.
func (r *Registry) Interest(fd int) (Interest, bool) {
	e, ok := r.entries[fd]
	if !ok {
		return 0, false
	}
	return e.interest, true
}

// SetInterest updates the recorded interest mask for fd (the caller is
// responsible for also calling Reactor.Modify).
func (r *Registry) SetInterest(fd int, interest Interest) {
	if e, ok := r.entries[fd]; ok {
		e.interest = interest
	}
}

// RefreshDeadline bumps fd's tracked deadline, e.g. on every readable or
// writable event, per §5's "any readable/writable event refreshes it".
func (r *Registry) RefreshDeadline(fd int, deadline time.Time) {
	if e, ok := r.entries[fd]; ok {
		e.deadline = deadline
	}
}

// Remove drops fd from the registry and invokes its Destroy callback. The
// owning handler is responsible for destroying itself; this just ensures
// it is called exactly once per fd.
func (r *Registry) Remove(fd int) {
	e, ok := r.entries[fd]
	if !ok {
		return
	}
	delete(r.entries, fd)
	if e.handler.Destroy != nil {
		e.handler.Destroy(fd)
	}
}

// Detach removes fd from the registry without invoking Destroy — used
// when one handler controls several fds and closes one end's fd ahead of
// the others (e.g. the CGI handler closing its own pipe ends before its
// owning connection is torn down).
func (r *Registry) Detach(fd int) {
	delete(r.entries, fd)
}

// ExpiredDeadlines returns every fd whose tracked deadline is at or
// before now, for the loop to synthesize Timeout events.
func (r *Registry) ExpiredDeadlines(now time.Time) []int {
	var expired []int
	for fd, e := range r.entries {
		if e.deadline.IsZero() {
			continue
		}
		if !e.deadline.After(now) {
			expired = append(expired, fd)
		}
	}
	return expired
}

// NextDeadline returns the soonest tracked deadline across all entries, and
// whether any tracked deadline exists at all. Used to cap Reactor.Wait's
// timeout so idle connections still expire promptly.
func (r *Registry) NextDeadline() (time.Time, bool) {
	var soonest time.Time
	found := false
	for _, e := range r.entries {
		if e.deadline.IsZero() {
			continue
		}
		if !found || e.deadline.Before(soonest) {
			soonest = e.deadline
			found = true
		}
	}
	return soonest, found
}

// Len reports how many fds are currently registered.
func (r *Registry) Len() int { return len(r.entries) }
