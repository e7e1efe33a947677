// Package netio provides non-blocking, owning wrappers over raw sockets and
// pipes, wrapping individual syscalls one-to-one in the style of rclone's
// backend/local/*_unix.go files. ErrWouldBlock is the sentinel
// distinguishing a normal non-blocking short-circuit from a fatal I/O
// error, so call sites branch on an explicit result instead of errno.
package netio

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock indicates the non-blocking call could not complete right
// now; it is not an error condition and must not close the fd.
var ErrWouldBlock = errors.New("netio: would block")

// ErrClosed indicates the peer closed its end (recv/send returned 0 on a
// stream, or EOF).
var ErrClosed = errors.New("netio: closed")

// Socket is a non-blocking, owning stream endpoint.
type Socket struct {
	fd int
}

// Listen creates, binds, and listens on a non-blocking IPv4 TCP socket.
func Listen(host string, port int) (*Socket, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("netio: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: set nonblocking: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: setsockopt reuseaddr: %w", err)
	}

	addr, err := parseIPv4(host)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrInet4{Port: port, Addr: addr}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: bind %s:%d: %w", host, port, err)
	}
	const backlog = 1024
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netio: listen: %w", err)
	}
	return &Socket{fd: fd}, nil
}

func parseIPv4(host string) ([4]byte, error) {
	var out [4]byte
	if host == "" || host == "0.0.0.0" || host == "*" {
		return out, nil
	}
	ip := [4]int{}
	n, err := fmt.Sscanf(host, "%d.%d.%d.%d", &ip[0], &ip[1], &ip[2], &ip[3])
	if err != nil || n != 4 {
		return out, fmt.Errorf("netio: invalid ipv4 host %q", host)
	}
	for i, v := range ip {
		if v < 0 || v > 255 {
			return out, fmt.Errorf("netio: invalid ipv4 host %q", host)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// Fd returns the underlying file descriptor, for reactor registration.
func (s *Socket) Fd() int { return s.fd }

// Accept returns a new owned, non-blocking Socket for one pending
// connection, or ErrWouldBlock if none is pending.
func (s *Socket) Accept() (*Socket, error) {
	nfd, _, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, ErrWouldBlock
		}
		return nil, fmt.Errorf("netio: accept: %w", err)
	}
	return &Socket{fd: nfd}, nil
}

// Recv reads up to len(buf) bytes. Returns (0, ErrClosed) on peer close,
// (0, ErrWouldBlock) if no data is ready, (n, nil) otherwise.
func (s *Socket) Recv(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("netio: recv: %w", err)
	}
	if n == 0 {
		return 0, ErrClosed
	}
	return n, nil
}

// Send writes up to len(buf) bytes. Returns (0, ErrWouldBlock) if the
// socket buffer is full.
func (s *Socket) Send(buf []byte) (int, error) {
	n, err := unix.Write(s.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.EPIPE || err == unix.ECONNRESET {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("netio: send: %w", err)
	}
	return n, nil
}

// Close is idempotent.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
