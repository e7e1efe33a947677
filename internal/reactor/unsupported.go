//go:build !linux

package reactor

import "errors"

// NewEpoll is only implemented for Linux, the platform this server targets
// (epoll_linux.go). Other platforms would need their own readiness
// primitive (kqueue, IOCP); out of scope here.
func NewEpoll() (Reactor, error) {
	return nil, errors.New("reactor: epoll is only supported on linux")
}
