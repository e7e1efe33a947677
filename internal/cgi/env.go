package cgi

import (
	"strings"

	"github.com/mossab7/web-server/internal/httpparser"
	"github.com/mossab7/web-server/internal/router"
)

// BuildEnv constructs the CGI/1.1 environment variable set (§4.9 Start),
// grounded on the shape of Caddy's fastcgi.buildEnv (caddyhttp/fastcgi/
// fastcgi.go): a flat map later rendered as "KEY=VALUE" pairs, built from
// the request, the match, and server identity, plus every other request
// header (all but Content-Length and Content-Type) re-exposed as
// HTTP_<UPPER_SNAKE>.
func BuildEnv(p *httpparser.Parser, m router.Match, serverName, serverPort string) []string {
	env := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"SERVER_PROTOCOL":   p.Version,
		"REQUEST_METHOD":    p.Method,
		"SCRIPT_NAME":       m.ScriptPath,
		"SCRIPT_FILENAME":   m.ScriptPath,
		"QUERY_STRING":      p.Query,
		"SERVER_NAME":       serverName,
		"SERVER_PORT":       serverPort,
		"SERVER_SOFTWARE":   "WebServ/1.0",
		"PATH_INFO":         m.PathInfo,
		"REQUEST_URI":       p.URI,
	}

	if cl, ok := p.Header("content-length"); ok {
		env["CONTENT_LENGTH"] = cl
	} else {
		env["CONTENT_LENGTH"] = "0"
	}
	if ct, ok := p.Header("content-type"); ok {
		env["CONTENT_TYPE"] = ct
	}

	for name, value := range p.Headers {
		if name == "content-length" || name == "content-type" {
			continue
		}
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if _, reserved := env[key]; reserved {
			continue
		}
		env[key] = value
	}

	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
