// Package router implements location selection, path resolution, and CGI
// detection (§4.7).
package router

import (
	"os"
	"path"
	"strings"
	"time"

	"github.com/mossab7/web-server/internal/config"
)

// Match carries everything the request handler needs to act on a request,
// mirroring the RouteMatch fields of §4.7.
type Match struct {
	Location *config.Location

	Valid         bool
	MethodAllowed bool

	ResolvedPath string // filesystem path the request maps to

	IsCGI       bool
	ScriptPath  string
	Interpreter string
	PathInfo    string
	IsRedirect  bool
	IsDirectory bool
	IsFile      bool
	DoesExist   bool

	Autoindex     bool
	UploadDir     string
	RedirectURL   string
	MaxBody       int64
	IndexFiles    []string
	ClientTimeout time.Duration
}

// Router selects a Server/Location for a request and resolves filesystem
// paths against it.
type Router struct {
	server *config.Server
}

// New builds a Router bound to one server block (one listener owns one
// Router; §2 "Router: Server/location selection").
func New(server *config.Server) *Router {
	return &Router{server: server}
}

// Match resolves reqPath/method against the router's locations (§4.7).
func (r *Router) Match(reqPath, method string) Match {
	loc := r.selectLocation(reqPath)
	if loc == nil {
		return Match{Valid: false}
	}

	m := Match{
		Location:      loc,
		Valid:         true,
		MethodAllowed: loc.MethodAllowed(method),
		Autoindex:     loc.Autoindex,
		UploadDir:     loc.UploadStore,
		RedirectURL:   loc.Redirect,
		MaxBody:       loc.EffectiveMaxBodySize(r.server),
		IndexFiles:    loc.EffectiveIndex(r.server),
		ClientTimeout: loc.EffectiveClientTimeout(r.server),
	}

	if loc.Redirect != "" {
		m.IsRedirect = true
		return m
	}

	root := loc.EffectiveRoot(r.server)
	relative := strings.TrimPrefix(reqPath, loc.Route)
	resolved := canonicalize(root, relative)
	m.ResolvedPath = resolved

	info, err := os.Stat(resolved)
	if err == nil {
		m.DoesExist = true
		m.IsDirectory = info.IsDir()
		m.IsFile = !info.IsDir()
	}

	// A directory hit on a URI without a trailing slash must redirect to
	// the slash-terminated form before any index/autoindex resolution, so
	// relative links in the served page resolve against the right base
	// (§4.7, §8 literal scenario: GET /pub -> 301 Location: /pub/).
	if m.IsDirectory && !strings.HasSuffix(reqPath, "/") {
		m.IsRedirect = true
		m.RedirectURL = reqPath + "/"
		return m
	}

	if loc.CGIPass != "" {
		if script, pathInfo, ok := splitCGI(resolved, loc.CGIPass); ok {
			m.IsCGI = true
			m.ScriptPath = script
			m.Interpreter = loc.ScriptInterpreter
			m.PathInfo = pathInfo
		}
	}

	return m
}

// selectLocation performs longest-prefix matching with "/" as universal
// fallback (§4.7, §8 Route longest-prefix property). A route matches path
// iff path begins with the route and the next character is end-of-string
// or '/'.
func (r *Router) selectLocation(reqPath string) *config.Location {
	var best *config.Location
	bestLen := -1
	for _, loc := range r.server.Locations {
		if !routeMatches(loc.Route, reqPath) {
			continue
		}
		if len(loc.Route) > bestLen {
			bestLen = len(loc.Route)
			best = loc
		}
	}
	return best
}

func routeMatches(route, reqPath string) bool {
	if route == "/" {
		return true
	}
	if !strings.HasPrefix(reqPath, route) {
		return false
	}
	if len(reqPath) == len(route) {
		return true
	}
	return reqPath[len(route)] == '/'
}

// canonicalize resolves root + relative by splitting on '/', dropping
// empty segments and '.', and popping on '..' without ever popping above
// root (§4.7, §8 Path canonicalization property).
func canonicalize(root, relative string) string {
	segments := strings.Split(relative, "/")
	var stack []string
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}
	return path.Join(append([]string{root}, stack...)...)
}

// splitCGI iteratively strips trailing "/segment" from resolved until the
// remainder is a regular file; that remainder becomes scriptPath and the
// stripped suffix becomes PATH_INFO (§4.7 CGI split). cgiPass may name an
// extension (e.g. ".php") — in which case the first file found must also
// carry that extension — or an absolute script path.
func splitCGI(resolved, cgiPass string) (scriptPath, pathInfo string, ok bool) {
	current := resolved
	var suffix []string

	isExtensionRule := strings.HasPrefix(cgiPass, ".")

	for {
		info, err := os.Stat(current)
		if err == nil && !info.IsDir() {
			matches := current == cgiPass
			if isExtensionRule {
				matches = strings.HasSuffix(current, cgiPass)
			}
			if matches {
				return current, strings.Join(suffix, "/"), true
			}
		}

		idx := strings.LastIndexByte(current, '/')
		if idx <= 0 {
			return "", "", false
		}
		segment := current[idx+1:]
		suffix = append([]string{segment}, suffix...)
		current = current[:idx]
	}
}
