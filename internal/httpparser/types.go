// Package httpparser implements the single-pass incremental HTTP/1.1
// request parser described in §4.4: request line, headers, and body
// (identity or chunked), including multipart detection that hands off to
// the sibling multipart sub-parser. The same type also serves the CGI
// "headers + body only" response variant (§4.4 CGI-mode variant, used by
// internal/cgi to parse a script's stdout).
package httpparser

import "github.com/mossab7/web-server/internal/ring"

// State is one node of the parser's state machine (§3 Parser state).
type State int

const (
	StateStartLine State = iota
	StateHeaders
	StateBody
	StateChunkSize
	StateChunkData
	StateComplete
	StateError
)

func (s State) String() string {
	switch s {
	case StateStartLine:
		return "START_LINE"
	case StateHeaders:
		return "HEADERS"
	case StateBody:
		return "BODY"
	case StateChunkSize:
		return "CHUNK_SIZE"
	case StateChunkData:
		return "CHUNK_DATA"
	case StateComplete:
		return "COMPLETE"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// BodyHandlerFunc receives raw body bytes as they arrive — either the full
// flat body or, for chunked requests, each dechunked segment — bypassing
// the internal body ring. Installed via SetBodyHandler to stream uploads
// or CGI stdin without buffering the whole body (§4.4 Body-handler
// injection).
type BodyHandlerFunc func(chunk []byte)

// bodyRingCapacity sizes the default body ring when no BodyHandlerFunc is
// installed. Bodies larger than this are expected to go through a handler
// (file upload, CGI) rather than be buffered whole.
const bodyRingCapacity = 64 * 1024

// Parser is the incremental request/response parser of §3/§4.4.
type Parser struct {
	Method   string
	URI      string // the decoded path component only
	Query    string
	Fragment string
	Version  string

	// Headers maps case-folded (lowercase) header names to their trimmed
	// value. Per §4.4 headers have no semantic meaning to combine
	// duplicates beyond "last one wins", matching the simple map model
	// the data model specifies.
	Headers map[string]string

	BodyRing *ring.Buffer

	ContentLength int64
	BytesRead     int64

	IsChunked      bool
	chunkSize      int64
	readChunkSize  int64

	IsMultipart bool
	Boundary    string
	Multipart   MultipartHost

	bodyHandler BodyHandlerFunc

	// cgiMode, when true, skips START_LINE and begins parsing at HEADERS,
	// per §4.4's CGI-mode variant: CGI scripts emit only headers + body.
	cgiMode bool

	State State
	Err   error

	buf    []byte
	offset int

	BodySize int64 // accumulated bytes handed to the body sink, for limit checks
}

// MultipartHost is the minimal surface httpparser needs from the
// multipart sub-parser: feed it bytes drained from the shared body ring,
// and ask whether it has reached its own COMPLETE state. internal/multipart
// implements this so httpparser need not import it directly, avoiding a
// two-way package dependency between the two closely coupled parsers.
type MultipartHost interface {
	Feed() error
	Done() bool
	Failed() bool
}

// New creates a request parser starting at START_LINE.
func New() *Parser {
	return &Parser{
		Headers:  map[string]string{},
		BodyRing: ring.New(bodyRingCapacity),
		State:    StateStartLine,
	}
}

// NewCGIResponse creates a parser in CGI-response mode: it starts at
// HEADERS (no status line is emitted by CGI/1.1 scripts) per §4.4.
func NewCGIResponse() *Parser {
	p := New()
	p.cgiMode = true
	p.State = StateHeaders
	return p
}

// SetBodyHandler installs fn to receive raw body bytes instead of the
// internal body ring (§4.4).
func (p *Parser) SetBodyHandler(fn BodyHandlerFunc) {
	p.bodyHandler = fn
}

// IsHeaderComplete reports whether the parser has advanced past HEADERS,
// i.e. the request line and headers are fully known (§4.8 step 1).
func (p *Parser) IsHeaderComplete() bool {
	return p.State != StateStartLine && p.State != StateHeaders
}

// IsComplete reports true once the top-level parser reached COMPLETE
// *and*, if multipart, the sub-parser has also finished.
func (p *Parser) IsComplete() bool {
	if p.State != StateComplete {
		return false
	}
	if p.IsMultipart && p.Multipart != nil {
		return p.Multipart.Done()
	}
	return true
}

// Header returns headers[key]. Keys are stored lower-cased and the lookup
// is exact, so key must be lower-case.
func (p *Parser) Header(key string) (string, bool) {
	v, ok := p.Headers[key]
	return v, ok
}
