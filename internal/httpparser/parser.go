package httpparser

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrParse is wrapped by every syntactic failure the parser records; the
// host answers any parse failure, this one or a reason set through Fail,
// with 400 (§4.4 Failure modes).
var ErrParse = errors.New("httpparser: malformed request")

// Fail forces the parser into StateError with err, as if parsing itself
// had failed. Hosts use this to abort a request for a policy reason (body
// too large) that the parser has no way to detect on its own, since it
// never compares BodySize against a caller-supplied limit.
func (p *Parser) Fail(err error) {
	p.State = StateError
	p.Err = err
}

// AddChunk appends data to the internal staging buffer and re-enters the
// state machine, advancing as far as the input allows without blocking
// (§4.4). Safe to call repeatedly as more bytes arrive on the socket.
func (p *Parser) AddChunk(data []byte) error {
	if p.State == StateError {
		return p.Err
	}
	p.buf = append(p.buf, data...)
	return p.run()
}

// run loops step() until it stops changing state, re-entering cleanly on
// every AddChunk call instead of needing goto-based resumption.
func (p *Parser) run() error {
	for {
		changed, err := p.step()
		if err != nil {
			p.State = StateError
			p.Err = err
			return err
		}
		if !changed {
			p.compact()
			return nil
		}
		if p.State == StateComplete {
			p.compact()
			return nil
		}
	}
}

// compact drops already-consumed bytes from the front of buf so it does
// not grow unboundedly across many AddChunk calls.
func (p *Parser) compact() {
	if p.offset == 0 {
		return
	}
	if p.offset >= len(p.buf) {
		p.buf = p.buf[:0]
	} else {
		p.buf = append(p.buf[:0], p.buf[p.offset:]...)
	}
	p.offset = 0
}

func (p *Parser) step() (bool, error) {
	switch p.State {
	case StateStartLine:
		return p.stepStartLine()
	case StateHeaders:
		return p.stepHeaders()
	case StateBody:
		return p.stepBody()
	case StateChunkSize:
		return p.stepChunkSize()
	case StateChunkData:
		return p.stepChunkData()
	case StateComplete, StateError:
		return false, nil
	default:
		return false, fmt.Errorf("httpparser: unknown state %v", p.State)
	}
}

// readLine returns the bytes of the next CRLF-terminated line starting at
// p.offset (not including the CRLF), and advances p.offset past it. ok is
// false if no full line is buffered yet.
func (p *Parser) readLine() (line []byte, ok bool) {
	rest := p.buf[p.offset:]
	idx := bytes.Index(rest, []byte("\r\n"))
	if idx < 0 {
		return nil, false
	}
	line = rest[:idx]
	p.offset += idx + 2
	return line, true
}

func (p *Parser) stepStartLine() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 {
		return false, fmt.Errorf("%w: request line must have exactly two spaces, got %q", ErrParse, line)
	}
	method, rawURI, version := parts[0], parts[1], parts[2]
	if method == "" || rawURI == "" || version == "" {
		return false, fmt.Errorf("%w: empty token in request line", ErrParse)
	}

	decoded, err := percentDecode(rawURI)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrParse, err)
	}

	uri, fragment := splitOnce(decoded, '#')
	uri, query := splitOnce(uri, '?')

	p.Method = method
	p.URI = uri
	p.Query = query
	p.Fragment = fragment
	p.Version = version
	p.State = StateHeaders
	return true, nil
}

// splitOnce splits s at the first occurrence of sep, returning (before,
// after). If sep is absent, returns (s, "").
func splitOnce(s string, sep byte) (string, string) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}

// percentDecode decodes %XX escapes, rejecting non-ASCII code points and
// truncated/invalid escapes (§4.4 URI decoding, §8 URI decoding property).
func percentDecode(s string) (string, error) {
	var out strings.Builder
	out.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c > 127 {
			return "", fmt.Errorf("non-ASCII byte in URI")
		}
		if c != '%' {
			out.WriteByte(c)
			continue
		}
		if i+2 >= len(s) {
			return "", fmt.Errorf("truncated percent-escape in URI")
		}
		hi, okHi := hexVal(s[i+1])
		lo, okLo := hexVal(s[i+2])
		if !okHi || !okLo {
			return "", fmt.Errorf("invalid percent-escape in URI")
		}
		if hi > 7 {
			return "", fmt.Errorf("non-ASCII percent-escape in URI")
		}
		out.WriteByte(byte(hi<<4 | lo))
		i += 2
	}
	return out.String(), nil
}

func hexVal(c byte) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}

func (p *Parser) stepHeaders() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	if len(line) == 0 {
		return p.finishHeaders()
	}

	colon := bytes.IndexByte(line, ':')
	if colon < 0 {
		return false, fmt.Errorf("%w: header line missing ':': %q", ErrParse, line)
	}
	name := string(line[:colon])
	if name == "" || strings.ContainsAny(name, " \t") {
		return false, fmt.Errorf("%w: invalid header name %q", ErrParse, name)
	}
	value := strings.Trim(string(line[colon+1:]), " \t")
	p.Headers[strings.ToLower(name)] = value
	return true, nil
}

func (p *Parser) finishHeaders() (bool, error) {
	if ct, ok := p.Header("content-type"); ok && strings.HasPrefix(strings.ToLower(ct), "multipart/form-data") {
		boundary, ok := boundaryFrom(ct)
		if !ok {
			return false, fmt.Errorf("%w: multipart/form-data missing boundary", ErrParse)
		}
		p.IsMultipart = true
		p.Boundary = boundary
	}

	if te, ok := p.Header("transfer-encoding"); ok {
		if strings.ToLower(strings.TrimSpace(te)) != "chunked" {
			return false, fmt.Errorf("%w: unsupported transfer-encoding %q", ErrParse, te)
		}
		p.IsChunked = true
		p.State = StateChunkSize
		return true, nil
	}

	if cl, ok := p.Header("content-length"); ok {
		n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || n < 0 {
			return false, fmt.Errorf("%w: invalid content-length %q", ErrParse, cl)
		}
		p.ContentLength = n
		if n == 0 {
			p.State = StateComplete
			return true, nil
		}
		p.State = StateBody
		return true, nil
	}

	if p.cgiMode {
		// CGI scripts with neither Content-Length nor chunked framing are
		// read until EOF; ContentLength is set to -1 meaning "unbounded" for
		// this branch. The host detects completion via pipe EOF, not via
		// BytesRead reaching ContentLength.
		p.ContentLength = -1
		p.State = StateBody
		return true, nil
	}

	p.State = StateComplete
	return true, nil
}

func boundaryFrom(contentType string) (string, bool) {
	idx := strings.Index(strings.ToLower(contentType), "boundary=")
	if idx < 0 {
		return "", false
	}
	val := contentType[idx+len("boundary="):]
	if semi := strings.IndexByte(val, ';'); semi >= 0 {
		val = val[:semi]
	}
	val = strings.TrimSpace(val)
	val = strings.Trim(val, `"`)
	if val == "" {
		return "", false
	}
	return val, true
}

func (p *Parser) stepBody() (bool, error) {
	available := p.buf[p.offset:]
	if len(available) == 0 {
		return false, nil
	}

	var want int
	if p.ContentLength < 0 {
		// Unbounded (CGI stdin-style): consume everything buffered.
		want = len(available)
	} else {
		remaining := p.ContentLength - p.BytesRead
		want = len(available)
		if int64(want) > remaining {
			want = int(remaining)
		}
	}
	if want == 0 {
		if p.ContentLength >= 0 && p.BytesRead >= p.ContentLength {
			p.State = StateComplete
			return true, nil
		}
		return false, nil
	}

	chunk := available[:want]
	p.deliverBody(chunk)
	p.offset += want
	p.BytesRead += int64(want)
	p.BodySize += int64(want)

	if p.ContentLength >= 0 && p.BytesRead >= p.ContentLength {
		p.State = StateComplete
	}
	return true, nil
}

func (p *Parser) deliverBody(chunk []byte) {
	if p.bodyHandler != nil {
		p.bodyHandler(chunk)
		return
	}
	p.BodyRing.WriteStrict(chunk)
}

func (p *Parser) stepChunkSize() (bool, error) {
	line, ok := p.readLine()
	if !ok {
		return false, nil
	}
	sizeText := line
	if idx := bytes.IndexByte(line, ';'); idx >= 0 {
		sizeText = line[:idx]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(sizeText)), 16, 64)
	if err != nil || n < 0 {
		return false, fmt.Errorf("%w: invalid chunk size %q", ErrParse, sizeText)
	}
	if n == 0 {
		p.State = StateComplete
		return true, nil
	}
	p.chunkSize = n
	p.readChunkSize = 0
	p.State = StateChunkData
	return true, nil
}

// ParseMultipart drains whatever has accumulated in BodyRing into the
// installed multipart sub-parser. The host calls this between AddChunk
// calls whenever IsMultipart is set (§4.4 Multipart dispatch).
func (p *Parser) ParseMultipart() error {
	if !p.IsMultipart || p.Multipart == nil {
		return nil
	}
	if err := p.Multipart.Feed(); err != nil {
		return err
	}
	if p.Multipart.Failed() {
		return fmt.Errorf("%w: multipart body malformed", ErrParse)
	}
	return nil
}

func (p *Parser) stepChunkData() (bool, error) {
	available := p.buf[p.offset:]
	remaining := p.chunkSize - p.readChunkSize
	if remaining > 0 {
		if len(available) == 0 {
			return false, nil
		}
		want := int64(len(available))
		if want > remaining {
			want = remaining
		}
		chunk := available[:want]
		p.deliverBody(chunk)
		p.offset += int(want)
		p.readChunkSize += want
		p.BodySize += want
		p.BytesRead += want
		return true, nil
	}

	// Chunk data consumed; require the trailing CRLF before the next
	// CHUNK_SIZE line.
	if len(p.buf[p.offset:]) < 2 {
		return false, nil
	}
	if p.buf[p.offset] != '\r' || p.buf[p.offset+1] != '\n' {
		return false, fmt.Errorf("%w: chunk data not terminated by CRLF", ErrParse)
	}
	p.offset += 2
	p.State = StateChunkSize
	return true, nil
}
