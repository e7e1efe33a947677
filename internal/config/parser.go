package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ParseFile lexes and parses the configuration file at path.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	return Parse(path, f)
}

// Parse lexes and parses r, attributing diagnostics to file.
func Parse(file string, r io.Reader) (*Config, error) {
	toks, err := newLexer(file, r).all()
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	cfg, err := p.parseConfig()
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// parser is a recursive-descent walk over the flat token stream, in the
// shape of caddyfile's Dispenser: an index cursor plus small lookahead
// helpers, rather than a generated grammar.
type parser struct {
	toks []token
	pos  int
}

func (p *parser) errf(format string, args ...any) error {
	line := 0
	file := ""
	if p.pos < len(p.toks) {
		line = p.toks[p.pos].Line
		file = p.toks[p.pos].File
	} else if len(p.toks) > 0 {
		last := p.toks[len(p.toks)-1]
		line = last.Line
		file = last.File
	}
	return fmt.Errorf("%s:%d: %s", file, line, fmt.Sprintf(format, args...))
}

func (p *parser) eof() bool { return p.pos >= len(p.toks) }

func (p *parser) peek() string {
	if p.eof() {
		return ""
	}
	return p.toks[p.pos].Text
}

func (p *parser) next() (string, error) {
	if p.eof() {
		return "", p.errf("unexpected end of file")
	}
	t := p.toks[p.pos].Text
	p.pos++
	return t, nil
}

func (p *parser) expect(text string) error {
	got, err := p.next()
	if err != nil {
		return err
	}
	if got != text {
		return p.errf("expected %q, got %q", text, got)
	}
	return nil
}

// directiveArgs reads tokens up to (but not consuming) the next ';' and
// returns them, then consumes the ';'. Duplicates inside index/methods are
// rejected by the caller, per §6.
func (p *parser) directiveArgs() ([]string, error) {
	var args []string
	for {
		if p.eof() {
			return nil, p.errf("missing ';' terminating directive")
		}
		tok := p.toks[p.pos].Text
		if tok == ";" {
			p.pos++
			return args, nil
		}
		if tok == "{" || tok == "}" {
			return nil, p.errf("unexpected %q in directive", tok)
		}
		args = append(args, tok)
		p.pos++
	}
}

func (p *parser) parseConfig() (*Config, error) {
	cfg := &Config{}
	for !p.eof() {
		name, err := p.next()
		if err != nil {
			return nil, err
		}
		if name != "server" {
			return nil, p.errf("expected 'server' block, got %q", name)
		}
		srv, err := p.parseServer()
		if err != nil {
			return nil, err
		}
		cfg.Servers = append(cfg.Servers, srv)
	}
	return cfg, nil
}

func (p *parser) parseServer() (*Server, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	s := &Server{ErrorPages: map[int]string{}}
	seenIndex := map[string]bool{}

	for {
		name := p.peek()
		if name == "}" {
			p.pos++
			return s, nil
		}
		if name == "location" {
			p.pos++
			loc, err := p.parseLocation()
			if err != nil {
				return nil, err
			}
			s.Locations = append(s.Locations, loc)
			continue
		}
		at := p.pos
		p.pos++
		args, err := p.directiveArgs()
		if err != nil {
			return nil, err
		}
		switch name {
		case "host":
			s.Host, err = one(args, name)
		case "port":
			s.Port, err = intArg(args, name)
		case "server_name":
			s.Name, err = one(args, name)
		case "root":
			s.Root, err = one(args, name)
		case "client_max_body_size":
			s.ClientMaxBodySize, err = bytesArg(args, name)
		case "client_timeout":
			s.ClientTimeout, err = secondsArg(args, name)
		case "index":
			err = dedupInto(&s.Index, args, seenIndex, name)
		case "error_page":
			err = addErrorPage(s.ErrorPages, args)
		default:
			p.pos = at
			err = p.errf("unknown server directive %q", name)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseLocation() (*Location, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	l := &Location{}
	seenIndex := map[string]bool{}
	seenMethods := map[string]bool{}

	for {
		name := p.peek()
		if name == "}" {
			p.pos++
			if l.Route == "" {
				return nil, p.errf("location missing required 'route' directive")
			}
			return l, nil
		}
		at := p.pos
		p.pos++
		args, err := p.directiveArgs()
		if err != nil {
			return nil, err
		}
		switch name {
		case "route":
			l.Route, err = one(args, name)
		case "root":
			l.Root, err = one(args, name)
		case "autoindex":
			l.Autoindex, err = onOff(args, name)
		case "client_max_body_size":
			l.ClientMaxBodySize, err = bytesArg(args, name)
			l.hasClientMaxBodySize = true
		case "client_timeout":
			l.ClientTimeout, err = secondsArg(args, name)
			l.hasClientTimeout = true
		case "redirect":
			l.Redirect, err = one(args, name)
		case "upload_store":
			l.UploadStore, err = one(args, name)
		case "cgi_pass":
			l.CGIPass, err = one(args, name)
		case "script_interpreter":
			l.ScriptInterpreter, err = one(args, name)
		case "cgi_timeout":
			l.CGITimeout, err = millisArg(args, name)
		case "index":
			err = dedupInto(&l.Index, args, seenIndex, name)
		case "methods":
			err = p.parseMethods(l, args, seenMethods)
		default:
			p.pos = at
			err = p.errf("unknown location directive %q", name)
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseMethods(l *Location, args []string, seen map[string]bool) error {
	if len(args) == 0 {
		return p.errf("'methods' requires at least one argument")
	}
	if l.Methods == nil {
		l.Methods = map[string]bool{}
	}
	for _, m := range args {
		switch m {
		case "GET", "POST", "DELETE":
		default:
			return p.errf("unsupported method %q", m)
		}
		if seen[m] {
			return p.errf("duplicate method %q", m)
		}
		seen[m] = true
		l.Methods[m] = true
	}
	return nil
}

func one(args []string, directive string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s: expected exactly one argument, got %d", directive, len(args))
	}
	return args[0], nil
}

func intArg(args []string, directive string) (int, error) {
	s, err := one(args, directive)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", directive, s)
	}
	return n, nil
}

func bytesArg(args []string, directive string) (int64, error) {
	s, err := one(args, directive)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: invalid byte size %q", directive, s)
	}
	return n, nil
}

func secondsArg(args []string, directive string) (time.Duration, error) {
	n, err := bytesArg(args, directive)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func millisArg(args []string, directive string) (time.Duration, error) {
	n, err := bytesArg(args, directive)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Millisecond, nil
}

func onOff(args []string, directive string) (bool, error) {
	s, err := one(args, directive)
	if err != nil {
		return false, err
	}
	switch s {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s: expected 'on' or 'off', got %q", directive, s)
	}
}

func dedupInto(dst *[]string, args []string, seen map[string]bool, directive string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: requires at least one argument", directive)
	}
	for _, a := range args {
		if seen[a] {
			return fmt.Errorf("%s: duplicate value %q", directive, a)
		}
		seen[a] = true
		*dst = append(*dst, a)
	}
	return nil
}

func addErrorPage(dst map[int]string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("error_page: expected '<code> <path>', got %d arguments", len(args))
	}
	code, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("error_page: invalid status code %q", args[0])
	}
	dst[code] = args[1]
	return nil
}
