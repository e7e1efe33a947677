// Package config holds the configuration data model (§3) and the
// nginx-flavored lexer/parser that builds it (§6), grounded on Caddy's own
// caddyfile package for the two-stage lexer-then-dispenser shape.
package config

import "time"

// Config is the top-level parsed configuration: an ordered list of server
// blocks, each of which gets its own listening socket at bind time.
type Config struct {
	Servers []*Server
}

// Server is one `server { ... }` block.
type Server struct {
	Host              string
	Port              int
	Name              string
	Root              string
	ClientMaxBodySize int64
	ClientTimeout     time.Duration
	Index             []string
	ErrorPages        map[int]string // status code -> file path
	Locations         []*Location
}

// Location is one `location { ... }` block nested in a Server.
type Location struct {
	Route             string
	Root              string // empty => inherit Server.Root
	Autoindex         bool
	Methods           map[string]bool // empty => allow all
	Redirect          string
	UploadStore       string
	CGIPass           string // extension (".php") or absolute script path
	ScriptInterpreter string
	CGITimeout        time.Duration
	ClientMaxBodySize int64         // unset => inherit Server
	ClientTimeout     time.Duration // unset => inherit Server
	Index             []string      // empty => inherit Server

	hasClientMaxBodySize bool
	hasClientTimeout     bool
}

// EffectiveRoot resolves root = location.root ?? server.root (§4.7).
func (l *Location) EffectiveRoot(s *Server) string {
	if l.Root != "" {
		return l.Root
	}
	return s.Root
}

// EffectiveIndex resolves the location-override-else-server index list.
func (l *Location) EffectiveIndex(s *Server) []string {
	if len(l.Index) > 0 {
		return l.Index
	}
	return s.Index
}

// EffectiveMaxBodySize resolves the location-override-else-server body cap.
func (l *Location) EffectiveMaxBodySize(s *Server) int64 {
	if l.hasClientMaxBodySize {
		return l.ClientMaxBodySize
	}
	return s.ClientMaxBodySize
}

// EffectiveClientTimeout resolves the location-override-else-server
// per-connection activity timeout.
func (l *Location) EffectiveClientTimeout(s *Server) time.Duration {
	if l.hasClientTimeout {
		return l.ClientTimeout
	}
	return s.ClientTimeout
}

// MethodAllowed reports whether method is permitted on this location; an
// empty Methods set means "allow all" (§4.7).
func (l *Location) MethodAllowed(method string) bool {
	if len(l.Methods) == 0 {
		return true
	}
	return l.Methods[method]
}

// Defaults applied when a directive is absent from the configuration file.
const (
	DefaultClientTimeout = 7 * time.Second
	DefaultMaxBodySize   = 1 << 20 // 1 MiB
)

// ApplyDefaults fills in zero-valued fields with the package defaults; it
// does not override anything the parser already populated.
func (c *Config) ApplyDefaults() {
	for _, s := range c.Servers {
		if s.ClientTimeout == 0 {
			s.ClientTimeout = DefaultClientTimeout
		}
		if s.ClientMaxBodySize == 0 {
			s.ClientMaxBodySize = DefaultMaxBodySize
		}
		if s.ErrorPages == nil {
			s.ErrorPages = map[int]string{}
		}
	}
}
