package netio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Pipe is a non-blocking pipe pair whose two ends close independently —
// the CGI handler closes the write-to-child end as soon as the request
// body has been fully forwarded, while the read-from-child end stays
// open until EOF (§3 Lifecycles).
type Pipe struct {
	readFd, writeFd int
}

// NewPipe creates a pipe and flips both ends non-blocking.
func NewPipe() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("netio: pipe2: %w", err)
	}
	p := &Pipe{readFd: fds[0], writeFd: fds[1]}
	if err := p.SetNonBlocking(); err != nil {
		p.CloseRead()
		p.CloseWrite()
		return nil, err
	}
	return p, nil
}

// SetNonBlocking flips both ends non-blocking.
func (p *Pipe) SetNonBlocking() error {
	if p.readFd >= 0 {
		if err := unix.SetNonblock(p.readFd, true); err != nil {
			return fmt.Errorf("netio: set nonblocking (read end): %w", err)
		}
	}
	if p.writeFd >= 0 {
		if err := unix.SetNonblock(p.writeFd, true); err != nil {
			return fmt.Errorf("netio: set nonblocking (write end): %w", err)
		}
	}
	return nil
}

// ReadFd returns the read end's fd, or -1 if closed.
func (p *Pipe) ReadFd() int { return p.readFd }

// WriteFd returns the write end's fd, or -1 if closed.
func (p *Pipe) WriteFd() int { return p.writeFd }

// Read reads from the read end. Same contract as Socket.Recv.
func (p *Pipe) Read(buf []byte) (int, error) {
	n, err := unix.Read(p.readFd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		return 0, fmt.Errorf("netio: pipe read: %w", err)
	}
	if n == 0 {
		return 0, ErrClosed
	}
	return n, nil
}

// Write writes to the write end. Same contract as Socket.Send.
func (p *Pipe) Write(buf []byte) (int, error) {
	n, err := unix.Write(p.writeFd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, ErrWouldBlock
		}
		if err == unix.EPIPE {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("netio: pipe write: %w", err)
	}
	return n, nil
}

// CloseRead idempotently closes the read end.
func (p *Pipe) CloseRead() error {
	if p.readFd < 0 {
		return nil
	}
	err := unix.Close(p.readFd)
	p.readFd = -1
	return err
}

// CloseWrite idempotently closes the write end.
func (p *Pipe) CloseWrite() error {
	if p.writeFd < 0 {
		return nil
	}
	err := unix.Close(p.writeFd)
	p.writeFd = -1
	return err
}
