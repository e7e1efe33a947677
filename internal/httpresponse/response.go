// Package httpresponse implements the streaming response emitter (§4.6):
// a status line, headers, and then either an in-memory body, an
// fd-backed file, or a sequence of chunked-transfer frames — all staged
// through the same ring.Buffer primitive the parser and multipart parser
// share.
package httpresponse

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mossab7/web-server/internal/errorpages"
	"github.com/mossab7/web-server/internal/ring"
)

// ringCapacity is generous enough to hold a status line, a realistic
// header set, and one chunk frame without the lossy overwrite path ever
// triggering in practice; callers still must drain promptly since writes
// use the strict primitive and simply stop accepting more once full.
const ringCapacity = 64 * 1024

// Response is the per-connection streaming emitter described in §3/§4.6.
type Response struct {
	version string // "HTTP/1.1" or "HTTP/1.0", echoed from the request

	ring *ring.Buffer

	file      *os.File
	fileSize  int64
	bytesSent int64

	bodyMode   bodyMode
	statusCode int
	totalSent  int64
}

type bodyMode int

const (
	bodyNone bodyMode = iota
	bodyMemory
	bodyFile
	bodyChunked
)

// New creates a Response that will echo version in its status line.
func New(version string) *Response {
	if version == "" {
		version = "HTTP/1.1"
	}
	return &Response{version: version, ring: ring.New(ringCapacity)}
}

// Reset clears all state so the Response can be reused for the next
// request on a keep-alive connection.
func (r *Response) Reset() {
	r.ring.Clear()
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
	r.fileSize = 0
	r.bytesSent = 0
	r.bodyMode = bodyNone
	r.statusCode = 0
	r.totalSent = 0
}

// StartLine emits "VERSION SP code SP reasonPhrase CRLF" into the ring
// (§4.6's first of three construction calls).
func (r *Response) StartLine(code int) {
	line := fmt.Sprintf("%s %d %s\r\n", r.version, code, errorpages.ReasonPhrase(code))
	r.ring.WriteStrict([]byte(line))
	r.statusCode = code
}

// StatusCode returns the code passed to the most recent StartLine call, for
// access logging. Zero if StartLine hasn't been called since the last Reset.
func (r *Response) StatusCode() int { return r.statusCode }

// AddHeader appends one "k: v\r\n" header line. May be called any number
// of times between StartLine and EndHeaders.
func (r *Response) AddHeader(k, v string) {
	r.ring.WriteStrict([]byte(k + ": " + v + "\r\n"))
}

// EndHeaders terminates the header section with a blank line.
func (r *Response) EndHeaders() {
	r.ring.WriteStrict([]byte("\r\n"))
}

// SetBody installs an in-memory body, automatically adding content-type
// and content-length headers. Must be called after StartLine and before
// EndHeaders so the headers land before the blank line.
func (r *Response) SetBody(body []byte, contentType string) {
	r.AddHeader("Content-Type", contentType)
	r.AddHeader("Content-Length", strconv.Itoa(len(body)))
	r.EndHeaders()
	r.ring.WriteStrict(body)
	r.bodyMode = bodyMemory
}

// AttachFile stats path, adds content-type (from the extension table) and
// content-length headers, and arranges for the file to be streamed after
// the ring drains. Returns an error if the file cannot be opened or
// stat'd (the caller should respond 403 per §4.8).
func (r *Response) AttachFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("httpresponse: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("httpresponse: stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return fmt.Errorf("httpresponse: %s is a directory", path)
	}

	r.AddHeader("Content-Type", ContentTypeForPath(path))
	r.AddHeader("Content-Length", strconv.FormatInt(info.Size(), 10))
	r.EndHeaders()

	r.file = f
	r.fileSize = info.Size()
	r.bodyMode = bodyFile
	return nil
}

// FeedRAW appends one chunked-transfer frame ("size-hex CRLF bytes CRLF").
// The host is responsible for having declared "Transfer-Encoding: chunked"
// in headers, and for calling FeedRAW(nil) once to emit the terminating
// zero-sized frame (§4.6).
func (r *Response) FeedRAW(body []byte) {
	frame := fmt.Sprintf("%x\r\n", len(body))
	r.ring.WriteStrict([]byte(frame))
	if len(body) > 0 {
		r.ring.WriteStrict(body)
	}
	r.ring.WriteStrict([]byte("\r\n"))
	r.bodyMode = bodyChunked
}

// ReadNextChunk fills buf with the next bytes to transmit on the wire,
// draining the ring first and then the attached file. Returns (0, nil)
// when the entire response is exhausted, and a non-nil error on file
// read failure.
func (r *Response) ReadNextChunk(buf []byte) (int, error) {
	if r.ring.Size() > 0 {
		n := r.ring.Read(buf)
		r.totalSent += int64(n)
		return n, nil
	}
	if r.file != nil && r.bytesSent < r.fileSize {
		n, err := r.file.Read(buf)
		if n > 0 {
			r.bytesSent += int64(n)
			r.totalSent += int64(n)
		}
		if err != nil && n == 0 {
			return 0, fmt.Errorf("httpresponse: file read: %w", err)
		}
		return n, nil
	}
	return 0, nil
}

// BytesSent returns the total number of bytes ReadNextChunk has produced
// since the last Reset, for access logging.
func (r *Response) BytesSent() int64 { return r.totalSent }

// IsComplete reports whether every byte produced by the construction
// calls has been drained: the ring is empty and, if a file is attached,
// every byte of it has been sent.
func (r *Response) IsComplete() bool {
	if r.ring.Size() > 0 {
		return false
	}
	if r.file != nil {
		return r.bytesSent >= r.fileSize
	}
	return true
}

// IsChunked reports whether FeedRAW has been used on this response, so the
// connection layer knows the status line and chunked frames are already
// staged.
func (r *Response) IsChunked() bool { return r.bodyMode == bodyChunked }

// Close releases the attached file, if any. Idempotent.
func (r *Response) Close() error {
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}
