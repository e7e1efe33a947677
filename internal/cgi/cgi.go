// Package cgi implements the CGI/1.1 subprocess handler (§4.9): it forks a
// script, wires its stdin/stdout pipes into the reactor, and streams the
// child's stdout back to the connection's response as HTTP chunked
// transfer frames.
package cgi

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mossab7/web-server/internal/httpparser"
	"github.com/mossab7/web-server/internal/httpresponse"
	"github.com/mossab7/web-server/internal/netio"
	"github.com/mossab7/web-server/internal/reactor"
	"github.com/mossab7/web-server/internal/ring"
)

// bufferSize bounds a single pipe read/write per reactor event (§4.9).
const bufferSize = 32 * 1024

// Status is the terminal outcome of a CGI invocation, used by the owning
// connection to decide what (if anything) it still needs to render.
type Status int

const (
	StatusRunning Status = iota
	StatusOK
	StatusSpawnFailed   // 500
	StatusBadGateway    // 502
	StatusGatewayTimeout // 504
)

// Handler is the CGI subprocess handler of §3/§4.9. One Handler is owned
// by exactly one connection for exactly one request; it borrows that
// connection's request body ring and response for the duration of the
// call, per the ownership notes in §9.
type Handler struct {
	scriptPath  string
	interpreter string
	argv        []string
	env         []string

	cmd    *exec.Cmd
	input  *netio.Pipe // server -> child stdin
	output *netio.Pipe // child stdout -> server

	reqBody      *ring.Buffer
	reqBodyDone  func() bool
	resp         *httpresponse.Response
	respParser   *httpparser.Parser

	registry *reactor.Registry
	react    reactor.Reactor
	log      *zap.Logger

	status         Status
	running        bool
	headersEmitted bool
	deadline       time.Time

	// OnDone is invoked exactly once, when the handler reaches a terminal
	// status (success or fault), so the owning connection can advance its
	// own state machine.
	OnDone func(Status)
}

// New prepares (but does not yet start) a CGI handler.
func New(scriptPath, interpreter string, env []string, reqBody *ring.Buffer, reqBodyDone func() bool, resp *httpresponse.Response, registry *reactor.Registry, react reactor.Reactor, log *zap.Logger) *Handler {
	var argv []string
	if interpreter != "" {
		argv = []string{interpreter, scriptPath}
	} else {
		argv = []string{scriptPath}
	}
	return &Handler{
		scriptPath:  scriptPath,
		interpreter: interpreter,
		argv:        argv,
		env:         env,
		reqBody:     reqBody,
		reqBodyDone: reqBodyDone,
		resp:        resp,
		respParser:  httpparser.NewCGIResponse(),
		registry:    registry,
		react:       react,
		log:         log.Named("cgi"),
	}
}

// Start verifies execution permissions, forks the child, and registers
// its pipes with the reactor (§4.9 Start). hasRequestBody controls
// whether the input pipe's write end is registered for WRITE events at
// all (no point if there is nothing to forward).
func (h *Handler) Start(hasRequestBody bool, timeout time.Duration) error {
	target := h.scriptPath
	if h.interpreter != "" {
		target = h.interpreter
	}
	if err := checkExecutable(target); err != nil {
		h.status = StatusSpawnFailed
		return fmt.Errorf("cgi: %w", err)
	}
	if h.interpreter != "" {
		if err := checkReadable(h.scriptPath); err != nil {
			h.status = StatusSpawnFailed
			return fmt.Errorf("cgi: %w", err)
		}
	}

	input, err := netio.NewPipe()
	if err != nil {
		h.status = StatusSpawnFailed
		return fmt.Errorf("cgi: %w", err)
	}
	output, err := netio.NewPipe()
	if err != nil {
		input.CloseRead()
		input.CloseWrite()
		h.status = StatusSpawnFailed
		return fmt.Errorf("cgi: %w", err)
	}

	cmd := exec.Command(h.argv[0], h.argv[1:]...)
	cmd.Env = h.env

	stdin := os.NewFile(uintptr(input.ReadFd()), "cgi-stdin")
	stdout := os.NewFile(uintptr(output.WriteFd()), "cgi-stdout")
	// input/output (the netio.Pipe wrappers) own these fds and close them
	// directly; without this, the *os.File finalizer would also close them
	// on GC, possibly after the OS has handed the same fd number to an
	// unrelated socket or pipe.
	runtime.SetFinalizer(stdin, nil)
	runtime.SetFinalizer(stdout, nil)
	cmd.Stdin = stdin
	cmd.Stdout = stdout

	if err := cmd.Start(); err != nil {
		input.CloseRead()
		input.CloseWrite()
		output.CloseRead()
		output.CloseWrite()
		h.status = StatusSpawnFailed
		return fmt.Errorf("cgi: start %s: %w", h.scriptPath, err)
	}

	// The child now owns its own dup'd copies of these fds; close ours.
	input.CloseRead()
	output.CloseWrite()

	h.cmd = cmd
	h.input = input
	h.output = output
	h.running = true
	h.deadline = time.Now().Add(timeout)

	if hasRequestBody {
		h.registry.Register(input.WriteFd(), reactor.Handler{
			OnWritable: func(int) { h.onWritable() },
			OnTimeout:  func(int) { h.onTimeout() },
			OnError:    func(int) { h.onInputError() },
		}, reactor.InterestWrite, h.deadline)
		if err := h.react.Add(input.WriteFd(), reactor.InterestWrite); err != nil {
			h.log.Warn("failed to register cgi stdin", zap.Error(err))
		}
	} else {
		input.CloseWrite()
	}

	h.registry.Register(output.ReadFd(), reactor.Handler{
		OnReadable: func(int) { h.onReadable() },
		OnTimeout:  func(int) { h.onTimeout() },
		OnError:    func(int) { h.onOutputError() },
	}, reactor.InterestRead, h.deadline)
	if err := h.react.Add(output.ReadFd(), reactor.InterestRead); err != nil {
		h.log.Warn("failed to register cgi stdout", zap.Error(err))
	}

	return nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Mode()&0o444 == 0 {
		return fmt.Errorf("%s is not readable", path)
	}
	return nil
}

// onWritable drains up to bufferSize from the request body ring into the
// child's stdin. On ring exhaustion with the request body fully received,
// it closes the input write end, EOFing the child's stdin (§4.9 Streaming
// in).
func (h *Handler) onWritable() {
	if !h.running {
		return
	}
	buf := make([]byte, bufferSize)
	n := h.reqBody.Read(buf)
	if n > 0 {
		if _, err := h.input.Write(buf[:n]); err != nil && err != netio.ErrWouldBlock {
			h.closeInput()
			return
		}
		return
	}
	if h.reqBodyDone() {
		h.closeInput()
	}
}

func (h *Handler) closeInput() {
	if h.input == nil || h.input.WriteFd() < 0 {
		return
	}
	h.react.Remove(h.input.WriteFd())
	h.registry.Detach(h.input.WriteFd())
	h.input.CloseWrite()
}

func (h *Handler) onInputError() {
	h.closeInput()
}

// onReadable reads from the child's stdout, feeds the bytes into the
// second HTTP parser (CGI-response mode), emits the response headers the
// first time that parser reaches BODY, and forwards body bytes as chunked
// frames thereafter (§4.9 Streaming out).
func (h *Handler) onReadable() {
	if !h.running {
		return
	}
	buf := make([]byte, bufferSize)
	n, err := h.output.Read(buf)
	if err != nil {
		if err == netio.ErrWouldBlock {
			return
		}
		if err == netio.ErrClosed {
			h.handleOutputEOF()
			return
		}
		h.fail(StatusBadGateway)
		return
	}

	if perr := h.respParser.AddChunk(buf[:n]); perr != nil {
		h.fail(StatusBadGateway)
		return
	}
	h.drainParsedOutput()
}

func (h *Handler) drainParsedOutput() {
	if !h.headersEmitted && h.respParser.IsHeaderComplete() {
		h.emitHeaders()
	}
	if h.headersEmitted {
		if body := h.respParser.BodyRing.Bytes(); len(body) > 0 {
			h.resp.FeedRAW(body)
		}
	}
}

func (h *Handler) emitHeaders() {
	status := 200
	if v, ok := h.respParser.Header("status"); ok {
		fmt.Sscanf(strings.TrimSpace(v), "%d", &status)
	}
	h.resp.StartLine(status)
	for k, v := range h.respParser.Headers {
		if k == "status" {
			continue
		}
		h.resp.AddHeader(k, v)
	}
	h.resp.AddHeader("Transfer-Encoding", "chunked")
	h.resp.EndHeaders()
	h.headersEmitted = true
}

func (h *Handler) handleOutputEOF() {
	if !h.respParser.IsHeaderComplete() {
		h.fail(StatusBadGateway)
		return
	}
	h.drainParsedOutput()
	h.resp.FeedRAW(nil)
	h.reapChild()
	h.teardown()

	exitStatus := StatusOK
	if h.cmd.ProcessState != nil && !h.cmd.ProcessState.Success() {
		// Non-zero exit or signal termination after a clean stream is
		// still surfaced for logging, but the body already written to
		// the client is left intact: truncate-and-close only applies when
		// headers were never emitted, which can't be true here since
		// drainParsedOutput ran.
		exitStatus = StatusBadGateway
	}
	h.finish(exitStatus)
}

func (h *Handler) onOutputError() {
	h.fail(StatusBadGateway)
}

// onTimeout fires when the CGI deadline elapses: SIGKILL the child,
// reap it, and either surface 504 (headers not yet emitted) or truncate
// the chunked body with a terminating zero frame (headers already sent),
// per §4.9 Faults / Deadline exceeded.
func (h *Handler) onTimeout() {
	if !h.running {
		return
	}
	if h.cmd != nil && h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
	h.reapChild()
	h.teardown()

	if h.headersEmitted {
		h.resp.FeedRAW(nil)
	}
	h.finish(StatusGatewayTimeout)
}

// fail records a terminal fault, tearing down the child and pipes. If
// headers were already emitted, the chunked body is truncated to a zero
// frame rather than attempting to transmit a status line that has already
// been sent (§4.9 Faults).
func (h *Handler) fail(status Status) {
	if !h.running {
		return
	}
	if h.cmd != nil && h.cmd.Process != nil {
		h.cmd.Process.Kill()
	}
	h.reapChild()
	h.teardown()
	if h.headersEmitted {
		h.resp.FeedRAW(nil)
	}
	h.finish(status)
}

func (h *Handler) reapChild() {
	if h.cmd == nil || h.cmd.Process == nil {
		return
	}
	// By the time stdout has EOFed or the deadline fired, the child has
	// exited or is exiting; Wait() reaps it without meaningfully blocking
	// the loop.
	h.cmd.Wait()
}

// teardown removes both pipe fds from the registry, closes both pipes,
// per §4.9 Teardown. destroy() proper is a no-op since the Handler is
// owned by its connection, which calls Close directly.
func (h *Handler) teardown() {
	if h.input != nil {
		if h.input.WriteFd() >= 0 {
			h.react.Remove(h.input.WriteFd())
			h.registry.Detach(h.input.WriteFd())
		}
		h.input.CloseRead()
		h.input.CloseWrite()
	}
	if h.output != nil {
		if h.output.ReadFd() >= 0 {
			h.react.Remove(h.output.ReadFd())
			h.registry.Detach(h.output.ReadFd())
		}
		h.output.CloseRead()
		h.output.CloseWrite()
	}
}

func (h *Handler) finish(status Status) {
	h.running = false
	h.status = status
	if h.OnDone != nil {
		h.OnDone(status)
	}
}

// Status returns the handler's current terminal status (StatusRunning
// until a fault or completion).
func (h *Handler) Status() Status { return h.status }

// Close force-tears-down the handler: SIGKILL + waitpid if still running,
// then releases both pipes. Safe to call multiple times.
func (h *Handler) Close() {
	if h.running && h.cmd != nil && h.cmd.Process != nil {
		h.cmd.Process.Kill()
		h.reapChild()
	}
	h.teardown()
	h.running = false
}
