// Package multipart implements the multipart/form-data sub-parser (§4.5):
// a state machine operating directly over the HTTP parser's shared body
// ring, writing file parts straight to disk as their bytes arrive rather
// than buffering a whole upload in memory.
package multipart

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mossab7/web-server/internal/ring"
)

// State is one node of the multipart state machine (§3 Multipart state).
type State int

const (
	StateSeekBound State = iota
	StateHeaders
	StateData
	StateSavePart
	StateComplete
	StateError
)

// pageSize anchors the scratch window size: scratch = max(pageSize,
// |boundary| * 2) so a boundary can never exceed the search window
// (invariant: |boundary| < scratch capacity).
const pageSize = 4096

// Part is a completed part descriptor.
type Part struct {
	Name     string
	Filename string // empty for non-file fields
	FilePath string // on-disk path, only set when Filename != ""
	IsFile   bool
	Body     []byte // in-memory value, only populated for non-file parts
}

// Parser is the multipart/form-data sub-parser of §4.5.
type Parser struct {
	ring      *ring.Buffer // shared with the owning httpparser.Parser
	boundary  string       // already "--" + declared boundary
	uploadDir string
	scratch   int

	state State
	err   error

	parts []Part

	curName     string
	curFilename string
	curFile     *os.File
	curBody     bytes.Buffer
}

// New creates a multipart parser over body, a ring shared with the HTTP
// parser that owns it. boundary is the bare declared boundary value (the
// caller need not prepend "--"; New does that). uploadDir is where file
// parts are written.
func New(body *ring.Buffer, boundary, uploadDir string) (*Parser, error) {
	lit := "--" + boundary
	scratch := pageSize
	if 2*len(lit) > scratch {
		scratch = 2 * len(lit)
	}
	if len(lit) >= scratch {
		return nil, fmt.Errorf("multipart: boundary %q too long for scratch window", boundary)
	}
	return &Parser{
		ring:      body,
		boundary:  lit,
		uploadDir: uploadDir,
		scratch:   scratch,
		state:     StateSeekBound,
	}, nil
}

// Parts returns every part completed so far (SAVEPART has run for each).
func (p *Parser) Parts() []Part { return p.parts }

// Done reports whether the parser reached COMPLETE (the final boundary
// "--boundary--" was seen).
func (p *Parser) Done() bool { return p.state == StateComplete }

// Failed reports whether the parser reached ERROR.
func (p *Parser) Failed() bool { return p.state == StateError }

// Err returns the error that drove the parser to ERROR, if any.
func (p *Parser) Err() error { return p.err }

// Feed drains whatever is currently buffered in the shared ring, advancing
// the state machine as far as possible without blocking. Safe to call
// repeatedly as more body bytes arrive (§4.4 Multipart dispatch).
func (p *Parser) Feed() error {
	for {
		if p.state == StateComplete || p.state == StateError {
			return p.err
		}
		progressed, err := p.step()
		if err != nil {
			p.state = StateError
			p.err = err
			p.abortCurrentFile()
			return err
		}
		if !progressed {
			return nil
		}
	}
}

func (p *Parser) step() (bool, error) {
	switch p.state {
	case StateSeekBound:
		return p.stepSeekBound()
	case StateHeaders:
		return p.stepHeaders()
	case StateData:
		return p.stepData()
	case StateSavePart:
		return p.stepSavePart()
	default:
		return false, nil
	}
}

func (p *Parser) window() []byte {
	n := p.ring.Size()
	if n > p.scratch {
		n = p.scratch
	}
	buf := make([]byte, n)
	p.ring.Peek(buf)
	return buf
}

func (p *Parser) stepSeekBound() (bool, error) {
	w := p.window()
	idx := bytes.Index(w, []byte(p.boundary))
	if idx < 0 {
		// No boundary anywhere in the window yet; if the window is full
		// and still has no match, the leading bytes can never be part of
		// a boundary occurrence further on, so drop all but a safety
		// margin equal to |boundary| to make forward progress without
		// risking splitting a boundary across peeks.
		if len(w) >= p.scratch {
			drop := len(w) - len(p.boundary)
			if drop > 0 {
				p.ring.AdvanceRead(drop)
				return true, nil
			}
		}
		return false, nil
	}
	end := idx + len(p.boundary)
	if end+2 > len(w) {
		// The two bytes that tell an end boundary from a part boundary are
		// not buffered yet. Only the bytes before the boundary are consumed,
		// so the next call finds the boundary again.
		if idx > 0 {
			p.ring.AdvanceRead(idx)
			return true, nil
		}
		return false, nil
	}
	p.ring.AdvanceRead(end)
	tail := w[end : end+2]
	if tail[0] == '-' && tail[1] == '-' {
		p.ring.AdvanceRead(2)
		p.state = StateComplete
		return true, nil
	}
	if tail[0] == '\r' && tail[1] == '\n' {
		p.ring.AdvanceRead(2)
		p.state = StateHeaders
		return true, nil
	}
	// Any other two bytes after the final boundary occurrence: per the
	// preceding CRLF convention, we've misaligned; wait for a future call
	// to disambiguate isn't possible since the two bytes are fixed — this
	// is a malformed multipart stream.
	return false, fmt.Errorf("multipart: boundary not followed by CRLF or '--'")
}

func (p *Parser) stepHeaders() (bool, error) {
	w := p.window()
	idx := bytes.Index(w, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(w) >= p.scratch {
			return false, fmt.Errorf("multipart: part headers exceed scratch window")
		}
		return false, nil
	}
	headerBytes := w[:idx]
	p.ring.AdvanceRead(idx + 4)

	name, filename, err := parseContentDisposition(headerBytes)
	if err != nil {
		return false, err
	}
	if name == "" {
		return false, fmt.Errorf("multipart: part missing required Content-Disposition name")
	}
	p.curName = name
	p.curFilename = filename
	p.curBody.Reset()

	if filename != "" {
		fp := filepath.Join(p.uploadDir, filename)
		f, err := os.OpenFile(fp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return false, fmt.Errorf("multipart: open upload target %s: %w", fp, err)
		}
		p.curFile = f
	}

	p.state = StateData
	return true, nil
}

func (p *Parser) stepData() (bool, error) {
	w := p.window()
	idx := bytes.Index(w, []byte(p.boundary))
	if idx >= 0 {
		flushLen := idx - 2
		if flushLen < 0 {
			flushLen = 0
		}
		if flushLen > 0 {
			if err := p.handleBody(w[:flushLen]); err != nil {
				return false, err
			}
		}
		p.ring.AdvanceRead(flushLen)
		p.state = StateSavePart
		return true, nil
	}

	// No boundary in window: flush everything except a trailing safety
	// margin of |boundary| bytes plus the CRLF that precedes a boundary,
	// so neither a boundary split across two Feed calls nor its leading
	// CRLF ends up in the part body (§4.5 DATA, the documented open-question
	// optimization).
	margin := len(p.boundary) + 2
	if len(w) <= margin {
		return false, nil
	}
	flushLen := len(w) - margin
	if err := p.handleBody(w[:flushLen]); err != nil {
		return false, err
	}
	p.ring.AdvanceRead(flushLen)
	return true, nil
}

func (p *Parser) handleBody(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	if p.curFile != nil {
		_, err := p.curFile.Write(b)
		if err != nil {
			return fmt.Errorf("multipart: write upload part: %w", err)
		}
		return nil
	}
	p.curBody.Write(b)
	return nil
}

func (p *Parser) stepSavePart() (bool, error) {
	part := Part{Name: p.curName, Filename: p.curFilename}
	if p.curFile != nil {
		part.IsFile = true
		part.FilePath = filepath.Join(p.uploadDir, p.curFilename)
		if err := p.curFile.Close(); err != nil {
			return false, fmt.Errorf("multipart: close upload target: %w", err)
		}
		p.curFile = nil
	} else {
		part.Body = append([]byte(nil), p.curBody.Bytes()...)
	}
	p.parts = append(p.parts, part)
	p.curName = ""
	p.curFilename = ""
	p.curBody.Reset()
	p.state = StateSeekBound
	return true, nil
}

func (p *Parser) abortCurrentFile() {
	if p.curFile != nil {
		p.curFile.Close()
		p.curFile = nil
	}
}

// parseContentDisposition extracts name= and filename= from a part's
// header block. Only Content-Disposition is meaningful to this parser;
// other part headers (e.g. Content-Type) are accepted but ignored.
func parseContentDisposition(headers []byte) (name, filename string, err error) {
	for _, line := range bytes.Split(headers, []byte("\r\n")) {
		s := string(line)
		colon := strings.IndexByte(s, ':')
		if colon < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(s[:colon]))
		if key != "content-disposition" {
			continue
		}
		val := s[colon+1:]
		name = quotedParam(val, "name")
		filename = quotedParam(val, "filename")
		return name, filename, nil
	}
	return "", "", fmt.Errorf("multipart: part missing Content-Disposition header")
}

func quotedParam(s, key string) string {
	lower := strings.ToLower(s)
	needle := key + "=\""
	idx := strings.Index(lower, needle)
	if idx < 0 {
		return ""
	}
	start := idx + len(needle)
	end := strings.IndexByte(s[start:], '"')
	if end < 0 {
		return ""
	}
	return s[start : start+end]
}
