//go:build linux

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// epollReactor is the Linux implementation of Reactor, backed directly by
// epoll_create1/epoll_ctl/epoll_wait.
type epollReactor struct {
	epfd int
	// scratch is reused across Wait calls to avoid per-cycle allocation.
	scratch []unix.EpollEvent
}

// NewEpoll creates a Linux epoll-backed Reactor.
func NewEpoll() (Reactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollReactor{epfd: fd, scratch: make([]unix.EpollEvent, 256)}, nil
}

func toEpollEvents(i Interest) uint32 {
	var ev uint32
	if i&InterestRead != 0 {
		ev |= unix.EPOLLIN
	}
	if i&InterestWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (r *epollReactor) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(add, fd=%d): %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Modify(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(mod, fd=%d): %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Remove(fd int) error {
	// The event argument is ignored by EPOLL_CTL_DEL on modern kernels but
	// older kernels require a non-nil pointer.
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{}); err != nil {
		return fmt.Errorf("reactor: epoll_ctl(del, fd=%d): %w", fd, err)
	}
	return nil
}

func (r *epollReactor) Wait(timeout time.Duration) ([]Event, error) {
	if timeout > MaxWait {
		timeout = MaxWait
	}
	ms := int(timeout / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	n, err := unix.EpollWait(r.epfd, r.scratch, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		e := r.scratch[i]
		var bits Readiness
		if e.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
			bits |= Read
		}
		if e.Events&unix.EPOLLOUT != 0 {
			bits |= Write
		}
		if e.Events&unix.EPOLLERR != 0 {
			bits |= Error
		}
		events = append(events, Event{Fd: int(e.Fd), Readiness: bits})
	}
	return events, nil
}

func (r *epollReactor) Close() error {
	return unix.Close(r.epfd)
}
