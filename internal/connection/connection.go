// Package connection implements the per-connection state machine (§3):
// one non-blocking socket, one request parser, one response emitter, and
// optionally one CGI handler, all driven by reactor callbacks registered
// on the socket's fd.
package connection

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mossab7/web-server/internal/cgi"
	"github.com/mossab7/web-server/internal/config"
	"github.com/mossab7/web-server/internal/handler"
	"github.com/mossab7/web-server/internal/httpparser"
	"github.com/mossab7/web-server/internal/httpresponse"
	"github.com/mossab7/web-server/internal/logging"
	"github.com/mossab7/web-server/internal/multipart"
	"github.com/mossab7/web-server/internal/netio"
	"github.com/mossab7/web-server/internal/reactor"
	"github.com/mossab7/web-server/internal/router"
)

const readBufferSize = 32 * 1024

// defaultCGITimeout applies when a location enables cgi_pass without
// setting cgi_timeout explicitly.
const defaultCGITimeout = 5 * time.Second

// errBodyTooLarge is the reason recorded on the parser when a request body
// is rejected for exceeding its location's max_body_size (§4.4, §4.8 413
// response).
var errBodyTooLarge = errors.New("connection: request body exceeds max_body_size")

// State is one node of the connection's state machine (§3 Connection state).
type State int

const (
	StateReading State = iota
	StateProcessing
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReading:
		return "READING"
	case StateProcessing:
		return "PROCESSING"
	case StateSending:
		return "SENDING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connection owns one accepted client socket end to end, across as many
// requests as keep-alive allows.
type Connection struct {
	sock    *netio.Socket
	server  *config.Server
	router  *router.Router
	handler *handler.Handler

	registry *reactor.Registry
	react    reactor.Reactor
	log      *zap.Logger

	serverName, serverPort string

	parser    *httpparser.Parser
	resp      *httpresponse.Response
	mp        *multipart.Parser
	cgiHandle *cgi.Handler

	uploadFile *os.File

	state     State
	routed    bool
	match     router.Match
	reqPath   string
	keepAlive bool
	reqStart  time.Time

	clientTimeout time.Duration
}

// New wraps an accepted socket. Register must be called to start it.
func New(sock *netio.Socket, server *config.Server, r *router.Router, h *handler.Handler, registry *reactor.Registry, react reactor.Reactor, log *zap.Logger, serverName, serverPort string) *Connection {
	c := &Connection{
		sock:          sock,
		server:        server,
		router:        r,
		handler:       h,
		registry:      registry,
		react:         react,
		log:           log.Named("connection"),
		serverName:    serverName,
		serverPort:    serverPort,
		parser:        httpparser.New(),
		resp:          httpresponse.New("HTTP/1.1"),
		state:         StateReading,
		clientTimeout: server.ClientTimeout,
	}
	return c
}

// Register adds the connection's socket fd to the reactor, interested in
// readability first.
func (c *Connection) Register() error {
	deadline := time.Now().Add(c.clientTimeout)
	c.registry.Register(c.sock.Fd(), reactor.Handler{
		OnReadable: c.onReadable,
		OnWritable: c.onWritable,
		OnError:    c.onError,
		OnTimeout:  c.onTimeout,
		Destroy:    func(int) { c.teardown() },
	}, reactor.InterestRead, deadline)
	return c.react.Add(c.sock.Fd(), reactor.InterestRead)
}

func (c *Connection) refreshDeadline() {
	c.registry.RefreshDeadline(c.sock.Fd(), time.Now().Add(c.clientTimeout))
}

// onReadable drains available bytes from the socket into the parser,
// advancing request routing and body delivery as far as the data allows
// (§3 READING -> PROCESSING/SENDING).
func (c *Connection) onReadable() {
	if c.state != StateReading {
		return
	}
	buf := make([]byte, readBufferSize)
	n, err := c.sock.Recv(buf)
	if err != nil {
		if err == netio.ErrWouldBlock {
			return
		}
		if err == netio.ErrClosed {
			c.close()
			return
		}
		c.log.Debug("recv error", zap.Error(err))
		c.close()
		return
	}
	c.refreshDeadline()

	if perr := c.parser.AddChunk(buf[:n]); perr != nil {
		c.handler.ServeError(c.resp, 400)
		c.beginSending(false)
		return
	}

	if !c.routed && c.parser.IsHeaderComplete() {
		c.route()
	}

	if c.routed && c.state == StateReading && c.match.Valid && c.match.MaxBody > 0 && c.parser.BodySize > c.match.MaxBody {
		c.rejectOversizeBody()
		return
	}

	if c.mp != nil {
		if err := c.parser.ParseMultipart(); err != nil {
			c.handler.ServeError(c.resp, 400)
			c.beginSending(false)
			return
		}
	}

	if c.parser.IsComplete() {
		c.process()
	}
}

// route performs location/CGI resolution as soon as the request line and
// headers are known, so body-handler wiring (upload file, CGI stdin) and
// the max-body-size check can take effect before the body even arrives
// (§4.8 step 1, §4.4 Body-handler injection).
func (c *Connection) route() {
	c.routed = true
	c.reqPath = c.parser.URI
	c.reqStart = time.Now()
	m := c.router.Match(c.reqPath, c.parser.Method)
	c.match = m

	if m.Valid {
		c.clientTimeout = m.ClientTimeout
		c.refreshDeadline()
	}

	if !m.Valid || !m.MethodAllowed || m.IsRedirect || m.IsCGI {
		return
	}
	if m.MaxBody > 0 && c.parser.ContentLength > m.MaxBody {
		c.rejectOversizeBody()
		return
	}

	if c.parser.IsMultipart {
		if m.UploadDir == "" {
			return
		}
		mp, err := multipart.New(c.parser.BodyRing, c.parser.Boundary, m.UploadDir)
		if err != nil {
			c.log.Warn("multipart init failed", zap.Error(err))
			return
		}
		c.mp = mp
		c.parser.Multipart = mp
		return
	}

	if c.parser.Method == "POST" && m.UploadDir != "" {
		path := filepath.Join(m.UploadDir, uploadFileName(c.reqPath))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			c.log.Warn("upload file open failed", zap.String("path", path), zap.Error(err))
			return
		}
		c.uploadFile = f
		c.parser.SetBodyHandler(func(chunk []byte) {
			c.uploadFile.Write(chunk)
		})
	}
}

// rejectOversizeBody answers 413 and force-errors the parser so no further
// bytes are parsed or handed to a body sink (§4.4, §4.8 413 response). Any
// partially-written upload file is discarded: a truncated upload on disk is
// worse than no upload at all.
func (c *Connection) rejectOversizeBody() {
	c.parser.Fail(errBodyTooLarge)
	if c.uploadFile != nil {
		path := c.uploadFile.Name()
		c.uploadFile.Close()
		c.uploadFile = nil
		os.Remove(path)
	}
	c.mp = nil
	c.handler.ServeError(c.resp, 413)
	c.beginSending(false)
}

// uploadFileName derives a stable filename for a raw (non-multipart)
// upload from the request path, falling back to a generic name for a
// path with no basename (e.g. "/").
func uploadFileName(reqPath string) string {
	base := filepath.Base(reqPath)
	if base == "" || base == "/" || base == "." {
		return "upload.bin"
	}
	return base
}

// process runs once the request (and, if multipart, every part) is fully
// parsed: dispatch to CGI or to the handler, then start sending (§3
// PROCESSING).
func (c *Connection) process() {
	if c.uploadFile != nil {
		c.uploadFile.Close()
		c.uploadFile = nil
	}
	if c.mp != nil && c.mp.Failed() {
		c.handler.ServeError(c.resp, 400)
		c.beginSending(false)
		return
	}

	if !c.match.Valid {
		c.handler.ServeError(c.resp, 404)
		c.beginSending(false)
		return
	}

	if c.match.IsCGI && c.match.MethodAllowed && (c.parser.Method == "GET" || c.parser.Method == "POST") {
		c.startCGI()
		return
	}

	c.keepAlive = handler.KeepAlive(c.parser)
	c.handler.Serve(c.reqPath, c.match, c.parser, c.resp)
	c.beginSending(c.keepAlive)
}

func (c *Connection) startCGI() {
	c.state = StateProcessing
	env := cgi.BuildEnv(c.parser, c.match, c.serverName, c.serverPort)
	h := cgi.New(c.match.ScriptPath, c.match.Interpreter, env, c.parser.BodyRing,
		func() bool { return c.parser.IsComplete() }, c.resp, c.registry, c.react, c.log)
	h.OnDone = c.onCGIDone
	c.cgiHandle = h

	timeout := c.match.Location.CGITimeout
	if timeout <= 0 {
		timeout = defaultCGITimeout
	}
	hasBody := c.parser.ContentLength != 0 || c.parser.IsChunked
	if err := h.Start(hasBody, timeout); err != nil {
		c.log.Warn("cgi start failed", zap.Error(err))
		c.handler.ServeError(c.resp, 500)
		c.beginSending(false)
		return
	}
}

func (c *Connection) onCGIDone(status cgi.Status) {
	c.keepAlive = handler.KeepAlive(c.parser)
	code := 502
	switch status {
	case cgi.StatusOK:
		c.beginSending(c.keepAlive)
		return
	case cgi.StatusGatewayTimeout:
		code = 504
	}
	c.log.Warn("cgi fault", zap.Int("status", code))
	// Once a chunked frame is out the status line has been sent; the
	// truncated body then goes out as it is.
	if !c.resp.IsChunked() {
		c.handler.ServeError(c.resp, code)
	}
	c.beginSending(false)
}

// beginSending switches the connection into SENDING, flipping the
// registered interest to writable (§3 SENDING).
func (c *Connection) beginSending(keepAlive bool) {
	c.keepAlive = keepAlive
	c.state = StateSending
	c.registry.SetInterest(c.sock.Fd(), reactor.InterestRead|reactor.InterestWrite)
	if err := c.react.Modify(c.sock.Fd(), reactor.InterestRead|reactor.InterestWrite); err != nil {
		c.log.Warn("modify interest failed", zap.Error(err))
	}
}

// onWritable drains the response into the socket (§3 SENDING ->
// SENDCOMPLETE), resetting for the next request on keep-alive or closing
// otherwise.
func (c *Connection) onWritable() {
	if c.state != StateSending {
		return
	}
	buf := make([]byte, readBufferSize)
	for {
		n, err := c.resp.ReadNextChunk(buf)
		if err != nil {
			c.log.Debug("response read error", zap.Error(err))
			c.close()
			return
		}
		if n == 0 {
			break
		}
		if _, serr := c.sock.Send(buf[:n]); serr != nil {
			if serr == netio.ErrWouldBlock {
				return
			}
			c.close()
			return
		}
		c.refreshDeadline()
	}

	if !c.resp.IsComplete() {
		return
	}

	if !c.reqStart.IsZero() {
		logging.AccessLog(c.log, c.parser.Method, c.reqPath, c.resp.StatusCode(), c.resp.BytesSent(), time.Since(c.reqStart))
	}

	if c.keepAlive {
		c.nextRequest()
		return
	}
	c.close()
}

// nextRequest resets parser/response state and switches back to READING
// for the next keep-alive request on the same connection. Bytes the old
// parser had buffered past the end of the previous request are discarded
// with it.
func (c *Connection) nextRequest() {
	c.resp.Reset()
	c.parser = httpparser.New()
	c.mp = nil
	c.cgiHandle = nil
	c.routed = false
	c.match = router.Match{}
	c.reqStart = time.Time{}
	c.clientTimeout = c.server.ClientTimeout
	c.state = StateReading
	c.registry.SetInterest(c.sock.Fd(), reactor.InterestRead)
	if err := c.react.Modify(c.sock.Fd(), reactor.InterestRead); err != nil {
		c.log.Warn("modify interest failed", zap.Error(err))
	}
	c.refreshDeadline()
}

func (c *Connection) onError() {
	c.close()
}

func (c *Connection) onTimeout() {
	c.close()
}

func (c *Connection) close() {
	if c.state == StateClosed {
		return
	}
	c.state = StateClosed
	c.react.Remove(c.sock.Fd())
	c.registry.Remove(c.sock.Fd())
}

func (c *Connection) teardown() {
	if c.cgiHandle != nil {
		c.cgiHandle.Close()
	}
	if c.uploadFile != nil {
		c.uploadFile.Close()
	}
	c.resp.Close()
	c.sock.Close()
}

// Fd returns the connection's socket fd, for diagnostics.
func (c *Connection) Fd() int { return c.sock.Fd() }

// String aids debugging/log output.
func (c *Connection) String() string {
	return fmt.Sprintf("connection{fd=%d state=%s}", c.sock.Fd(), c.state)
}
